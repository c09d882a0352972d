// Package memory holds in-memory implementations of the session collaborator
// ports. They back unit tests and single-node development; production runs on
// the postgres implementations, where the same invariants are constraints
// instead of a process lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/leaderboard"
)

// Store is the shared state behind the four port views. All views lock the
// same mutex, so a commit is atomic exactly like its postgres counterpart's
// transaction.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	byCode       map[string]string
	participants map[string]*domain.Participant
	queue        map[string]*domain.SessionQuestion
	responses    map[string]*domain.Response
	responseKeys map[string]struct{} // sessionQuestionID + "|" + participantID
}

func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*domain.Session),
		byCode:       make(map[string]string),
		participants: make(map[string]*domain.Participant),
		queue:        make(map[string]*domain.SessionQuestion),
		responses:    make(map[string]*domain.Response),
		responseKeys: make(map[string]struct{}),
	}
}

func (s *Store) Sessions() *SessionStore         { return &SessionStore{s: s} }
func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{s: s} }
func (s *Store) Queue() *QueueStore              { return &QueueStore{s: s} }
func (s *Store) Responses() *ResponseStore       { return &ResponseStore{s: s} }

// SessionStore implements session.SessionStore.
type SessionStore struct {
	s *Store
}

func (st *SessionStore) Create(_ context.Context, ss *domain.Session) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if _, ok := st.s.byCode[ss.JoinCode]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("join code %s already exists", ss.JoinCode))
	}

	cp := *ss
	st.s.sessions[ss.ID] = &cp
	st.s.byCode[ss.JoinCode] = ss.ID
	return nil
}

func (st *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.getSessionLocked(id)
}

func (s *Store) getSessionLocked(id string) (domain.Session, error) {
	ss, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	return *ss, nil
}

func (st *SessionStore) GetByCode(_ context.Context, code string) (domain.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	id, ok := st.s.byCode[code]
	if !ok {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session with code %s not found", code))
	}
	return st.s.getSessionLocked(id)
}

func (st *SessionStore) CompareAndSwapStatus(_ context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (domain.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	ss, ok := st.s.sessions[id]
	if !ok {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}

	matched := false
	for _, f := range from {
		if ss.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.InvalidTransition: %s -> %s", ss.Status, to))
	}

	ss.Status = to
	now := time.Now()
	if to == domain.SessionInProgress && ss.StartedAt == nil {
		ss.StartedAt = &now
	}
	if to == domain.SessionCompleted {
		ss.EndedAt = &now
	}
	return *ss, nil
}

func (st *SessionStore) End(_ context.Context, id string) (domain.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	ss, ok := st.s.sessions[id]
	if !ok {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	if ss.Status == domain.SessionCompleted {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.InvalidTransition: %s -> %s", ss.Status, domain.SessionCompleted))
	}

	now := time.Now()
	ss.Status = domain.SessionCompleted
	ss.EndedAt = &now

	for _, p := range st.s.participants {
		if p.SessionID == id && p.LeftAt == nil {
			at := now
			p.LeftAt = &at
		}
	}
	return *ss, nil
}

func (st *SessionStore) SetTotalParticipants(_ context.Context, id string, total int) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	ss, ok := st.s.sessions[id]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	ss.TotalParticipants = total
	return nil
}

// ParticipantStore implements session.ParticipantStore.
type ParticipantStore struct {
	s *Store
}

func (st *ParticipantStore) Create(_ context.Context, p *domain.Participant) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if p.UserID != "" {
		for _, existing := range st.s.participants {
			if existing.SessionID == p.SessionID && existing.UserID == p.UserID && existing.LeftAt == nil {
				return errors.New(errors.CodeAlreadyExists,
					errors.WithMessagef("user %s already joined session %s", p.UserID, p.SessionID))
			}
		}
	}

	cp := *p
	st.s.participants[p.ID] = &cp
	return nil
}

func (st *ParticipantStore) Get(_ context.Context, id string) (domain.Participant, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	p, ok := st.s.participants[id]
	if !ok {
		return domain.Participant{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant %s not found", id))
	}
	return *p, nil
}

func (st *ParticipantStore) ListBySession(_ context.Context, sessionID string) ([]domain.Participant, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.listParticipantsLocked(sessionID), nil
}

func (s *Store) listParticipantsLocked(sessionID string) []domain.Participant {
	var out []domain.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out
}

func (st *ParticipantStore) CountActive(_ context.Context, sessionID string) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	n := 0
	for _, p := range st.s.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			n++
		}
	}
	return n, nil
}

func (st *ParticipantStore) MarkLeft(_ context.Context, id string, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	p, ok := st.s.participants[id]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant %s not found", id))
	}
	if p.LeftAt == nil {
		p.LeftAt = &at
	}
	return nil
}

// QueueStore implements session.QuestionQueueStore.
type QueueStore struct {
	s *Store
}

func (st *QueueStore) CreateBatch(_ context.Context, qs []domain.SessionQuestion) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	for _, q := range qs {
		cp := q
		st.s.queue[q.ID] = &cp
	}
	return nil
}

func (st *QueueStore) Get(_ context.Context, id string) (domain.SessionQuestion, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	q, ok := st.s.queue[id]
	if !ok {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session question %s not found", id))
	}
	return *q, nil
}

func (st *QueueStore) ListBySession(_ context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var out []domain.SessionQuestion
	for _, q := range st.s.queue {
		if q.SessionID == sessionID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (st *QueueStore) GetActive(_ context.Context, sessionID string) (domain.SessionQuestion, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	for _, q := range st.s.queue {
		if q.SessionID == sessionID && q.Status == domain.QuestionActive {
			return *q, nil
		}
	}
	return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
		errors.WithMessagef("no active question in session %s", sessionID))
}

func (st *QueueStore) ActivateNext(_ context.Context, sessionID string, at time.Time) (domain.SessionQuestion, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	// Select before mutating: an exhausted queue must leave the current
	// ACTIVE entry untouched, exactly like the postgres transaction rolling
	// back its completion. The single lock acquisition keeps the
	// complete+activate pair atomic.
	var next *domain.SessionQuestion
	for _, q := range st.s.queue {
		if q.SessionID != sessionID || q.Status != domain.QuestionQueued {
			continue
		}
		if next == nil || q.QueueOrder < next.QueueOrder {
			next = q
		}
	}
	if next == nil {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("NoMoreQuestions"))
	}

	for _, q := range st.s.queue {
		if q.SessionID == sessionID && q.Status == domain.QuestionActive {
			completedAt := at
			q.Status = domain.QuestionCompleted
			q.CompletedAt = &completedAt
		}
	}

	activatedAt := at
	next.Status = domain.QuestionActive
	next.ActivatedAt = &activatedAt
	return *next, nil
}

func (st *QueueStore) MarkSkipped(_ context.Context, id string, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	q, ok := st.s.queue[id]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session question %s not found", id))
	}
	if q.Status != domain.QuestionActive {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}

	completedAt := at
	q.Status = domain.QuestionSkipped
	q.CompletedAt = &completedAt
	return nil
}

func (st *QueueStore) AddExtraSeconds(_ context.Context, id string, seconds int) (domain.SessionQuestion, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	q, ok := st.s.queue[id]
	if !ok {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session question %s not found", id))
	}
	if q.Status != domain.QuestionActive {
		return domain.SessionQuestion{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}

	q.ExtraSeconds += seconds
	return *q, nil
}

// ResponseStore implements session.ResponseStore.
type ResponseStore struct {
	s *Store
}

func (st *ResponseStore) Commit(_ context.Context, r *domain.Response, stats domain.Participant) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	key := r.SessionQuestionID + "|" + r.ParticipantID
	if _, ok := st.s.responseKeys[key]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("response already exists for question %s participant %s", r.SessionQuestionID, r.ParticipantID))
	}

	p, ok := st.s.participants[stats.ID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant %s not found", stats.ID))
	}

	cp := *r
	st.s.responses[r.ID] = &cp
	st.s.responseKeys[key] = struct{}{}

	p.TotalScore = stats.TotalScore
	p.CorrectCount = stats.CorrectCount
	p.AnsweredCount = stats.AnsweredCount
	p.AvgResponseTime = stats.AvgResponseTime

	for id, rank := range leaderboard.Ranks(st.s.listParticipantsLocked(p.SessionID)) {
		if row, ok := st.s.participants[id]; ok {
			row.Rank = rank
		}
	}

	if ss, ok := st.s.sessions[p.SessionID]; ok {
		ss.TotalResponses++
	}
	return nil
}

func (st *ResponseStore) ListByQuestion(_ context.Context, sessionQuestionID string) ([]domain.Response, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var out []domain.Response
	for _, r := range st.s.responses {
		if r.SessionQuestionID == sessionQuestionID {
			out = append(out, *r)
		}
	}
	return out, nil
}
