package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/event"
	"github.com/maplive/engine/internal/leaderboard"
	"github.com/maplive/engine/internal/scoring"
)

const (
	joinCodeLength   = 6
	joinCodeCharset  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeAttempts = 5

	minExtendSeconds = 1
	maxExtendSeconds = 120
)

type Config struct {
	Sessions     SessionStore
	Participants ParticipantStore
	Queue        QuestionQueueStore
	Responses    ResponseStore
	Questions    QuestionRepository
	Scoring      *scoring.Engine
	EventBus     *event.Bus
	Now          func() time.Time
}

// Service owns the session state machine and every cross-cutting invariant:
// host authority, join guards, single-ACTIVE question, one response per
// participant per question. It holds no session state of its own; all
// instances behind the load balancer are interchangeable.
type Service struct {
	sessions     SessionStore
	participants ParticipantStore
	queue        QuestionQueueStore
	responses    ResponseStore
	questions    QuestionRepository
	scoring      *scoring.Engine
	eb           *event.Bus
	now          func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		sessions:     c.Sessions,
		participants: c.Participants,
		queue:        c.Queue,
		responses:    c.Responses,
		questions:    c.Questions,
		scoring:      c.Scoring,
		eb:           c.EventBus,
		now:          c.Now,
	}
	if s.scoring == nil {
		s.scoring = scoring.NewEngine()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateSessionRequest struct {
	HostID         string
	MapID          string
	Name           string
	Config         domain.SessionConfig
	QuestionBankID string
}

// CreateSession creates a session in WAITING with a unique join code. When a
// question bank is attached the queue is populated in bank order, optionally
// shuffled once at creation; the order is never reshuffled afterwards.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("a host identity is required to create a session"))
	}
	if req.Config.MaxParticipants < 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("max participants must not be negative"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := &domain.Session{
		ID:        id.String(),
		HostID:    req.HostID,
		MapID:     req.MapID,
		Name:      req.Name,
		Status:    domain.SessionWaiting,
		Config:    req.Config,
		CreatedAt: s.now(),
	}

	var questions []domain.Question
	if req.QuestionBankID != "" {
		bank, err := s.questions.GetBank(ctx, req.QuestionBankID)
		if err != nil {
			return nil, err
		}
		questions = bank.Questions
	}

	// The join code is the only column that can collide; retry a few times
	// before giving up.
	for attempt := 0; ; attempt++ {
		ss.JoinCode, err = newJoinCode()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w", err)
		}

		err = s.sessions.Create(ctx, ss)
		if err == nil {
			break
		}
		if !errors.IsCode(err, errors.CodeAlreadyExists) || attempt >= joinCodeAttempts {
			return nil, err
		}
	}

	if len(questions) > 0 {
		if err := s.queue.CreateBatch(ctx, buildQueue(ss.ID, questions, req.Config.ShuffleQuestions)); err != nil {
			return nil, err
		}
	}

	return ss, nil
}

func buildQueue(sessionID string, questions []domain.Question, shuffle bool) []domain.SessionQuestion {
	qs := make([]domain.Question, len(questions))
	copy(qs, questions)
	if shuffle {
		mrand.Shuffle(len(qs), func(i, j int) {
			qs[i], qs[j] = qs[j], qs[i]
		})
	}

	entries := make([]domain.SessionQuestion, 0, len(qs))
	for i, q := range qs {
		entries = append(entries, domain.SessionQuestion{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			QuestionID: q.ID,
			QueueOrder: i,
			Status:     domain.QuestionQueued,
		})
	}
	return entries
}

func newJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = joinCodeCharset[n.Int64()]
	}
	return string(code), nil
}

type JoinSessionRequest struct {
	Code        string
	DisplayName string
	DeviceInfo  string
	UserID      string // empty for guests
}

// JoinSession admits a participant through the join guards: the session must
// be joinable in its current status, must not be full, and an authenticated
// user may hold only one live participant per session.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*domain.Participant, error) {
	if req.DisplayName == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name is required"))
	}

	ss, err := s.sessions.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	switch ss.Status {
	case domain.SessionWaiting:
	case domain.SessionInProgress:
		if !ss.Config.AllowLateJoin {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("Session.LateJoinDisabled"))
		}
	default:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.NotJoinable"))
	}

	// Recomputed from the participant store on purpose: the counter column is
	// a display convenience, never a guard.
	active, err := s.participants.CountActive(ctx, ss.ID)
	if err != nil {
		return nil, err
	}
	if ss.Config.MaxParticipants > 0 && active >= ss.Config.MaxParticipants {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.Full"))
	}

	p := &domain.Participant{
		ID:          uuid.NewString(),
		SessionID:   ss.ID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		DeviceInfo:  req.DeviceInfo,
		JoinedAt:    s.now(),
	}
	if err := s.participants.Create(ctx, p); err != nil {
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("Participant.AlreadyJoined"),
				errors.WithCause(err))
		}
		return nil, err
	}

	total, err := s.refreshTotalParticipants(ctx, ss.ID)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventParticipantJoined{
		SessionID:   ss.ID,
		Participant: p.ID,
		DisplayName: p.DisplayName,
		Total:       total,
		OccurredAt:  s.now(),
	})

	return p, nil
}

// LeaveSession soft-marks the participant left. It is idempotent: leaving
// twice (explicit leave followed by the disconnect cleanup) is a no-op.
func (s *Service) LeaveSession(ctx context.Context, participantID string) error {
	p, err := s.participants.Get(ctx, participantID)
	if err != nil {
		return err
	}
	if p.LeftAt != nil {
		return nil
	}

	if err := s.participants.MarkLeft(ctx, p.ID, s.now()); err != nil {
		return err
	}

	total, err := s.refreshTotalParticipants(ctx, p.SessionID)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventParticipantLeft{
		SessionID:   p.SessionID,
		Participant: p.ID,
		Total:       total,
		OccurredAt:  s.now(),
	})

	return nil
}

func (s *Service) refreshTotalParticipants(ctx context.Context, sessionID string) (int, error) {
	total, err := s.participants.CountActive(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := s.sessions.SetTotalParticipants(ctx, sessionID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// StartSession moves WAITING to IN_PROGRESS. Host only.
func (s *Service) StartSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	return s.transition(ctx, sessionID, callerID, []domain.SessionStatus{domain.SessionWaiting}, domain.SessionInProgress)
}

// PauseSession moves IN_PROGRESS to PAUSED. Host only.
func (s *Service) PauseSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	return s.transition(ctx, sessionID, callerID, []domain.SessionStatus{domain.SessionInProgress}, domain.SessionPaused)
}

// ResumeSession moves PAUSED back to IN_PROGRESS. Host only.
func (s *Service) ResumeSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	return s.transition(ctx, sessionID, callerID, []domain.SessionStatus{domain.SessionPaused}, domain.SessionInProgress)
}

func (s *Service) transition(ctx context.Context, sessionID, callerID string, from []domain.SessionStatus, to domain.SessionStatus) (*domain.Session, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}

	ss, err := s.sessions.CompareAndSwapStatus(ctx, sessionID, from, to)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventSessionStatusChanged{
		SessionID:  ss.ID,
		Status:     ss.Status,
		OccurredAt: s.now(),
	})

	return &ss, nil
}

// EndSession completes the session from any live status. The cascade (every
// active participant marked left) commits with the status change, then a
// single status broadcast goes out.
func (s *Service) EndSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}

	ss, err := s.sessions.End(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventSessionStatusChanged{
		SessionID:  ss.ID,
		Status:     ss.Status,
		OccurredAt: s.now(),
	})

	return &ss, nil
}

// ActivateNextQuestion completes the current ACTIVE question if any, then
// activates the earliest QUEUED one. Host only; the session must be running.
func (s *Service) ActivateNextQuestion(ctx context.Context, sessionID, callerID string) (*domain.SessionQuestion, error) {
	ss, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ss.HostID != callerID {
		return nil, errHostOnly()
	}
	if ss.Status != domain.SessionInProgress {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.NotInProgress"))
	}

	sq, err := s.queue.ActivateNext(ctx, sessionID, s.now())
	if err != nil {
		return nil, err
	}

	q, err := s.questions.GetQuestion(ctx, sq.QuestionID)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuestionActivated{
		SessionID:         sessionID,
		SessionQuestionID: sq.ID,
		QuestionID:        sq.QuestionID,
		QueueOrder:        sq.QueueOrder,
		TimeLimit:         sq.EffectiveTimeLimit(q),
		OccurredAt:        s.now(),
	})

	return &sq, nil
}

// SkipCurrentQuestion marks the ACTIVE question SKIPPED. Host only.
func (s *Service) SkipCurrentQuestion(ctx context.Context, sessionID, callerID string) (*domain.SessionQuestion, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}

	sq, err := s.queue.GetActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.MarkSkipped(ctx, sq.ID, s.now()); err != nil {
		return nil, err
	}

	sq.Status = domain.QuestionSkipped
	return &sq, nil
}

type ExtendTimeRequest struct {
	SessionQuestionID string
	CallerID          string
	AdditionalSeconds int
}

// ExtendTime adds 1-120 seconds to the active question's effective time
// limit. Host only. Time limits stay advisory: nothing on the server expires
// a question, this only moves the number clients count down from.
func (s *Service) ExtendTime(ctx context.Context, req ExtendTimeRequest) (*domain.SessionQuestion, error) {
	if req.AdditionalSeconds < minExtendSeconds || req.AdditionalSeconds > maxExtendSeconds {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("additional seconds must be between %d and %d", minExtendSeconds, maxExtendSeconds))
	}

	sq, err := s.queue.Get(ctx, req.SessionQuestionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHost(ctx, sq.SessionID, req.CallerID); err != nil {
		return nil, err
	}
	if sq.Status != domain.QuestionActive {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}

	updated, err := s.queue.AddExtraSeconds(ctx, sq.ID, req.AdditionalSeconds)
	if err != nil {
		return nil, err
	}

	q, err := s.questions.GetQuestion(ctx, updated.QuestionID)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventTimeExtended{
		SessionID:         updated.SessionID,
		SessionQuestionID: updated.ID,
		AddedSeconds:      req.AdditionalSeconds,
		TimeLimit:         updated.EffectiveTimeLimit(q),
		OccurredAt:        s.now(),
	})

	return &updated, nil
}

type SubmitResponseRequest struct {
	ParticipantID     string
	SessionQuestionID string
	Payload           domain.AnswerPayload
	ResponseTime      float64
	UsedHint          bool
}

type SubmitResponseResult struct {
	IsCorrect     bool
	PointsEarned  int
	TotalScore    int
	DistanceError *float64
}

// SubmitResponse grades the payload and commits the response together with
// the participant's updated stats and the recomputed ranks. The duplicate
// guard is the store's uniqueness constraint; a second submission fails with
// Conflict regardless of which instance handled the first.
func (s *Service) SubmitResponse(ctx context.Context, req SubmitResponseRequest) (*SubmitResponseResult, error) {
	p, err := s.participants.Get(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}

	sq, err := s.queue.Get(ctx, req.SessionQuestionID)
	if err != nil {
		return nil, err
	}
	if sq.SessionID != p.SessionID {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s does not belong to the participant's session", sq.ID))
	}
	if sq.Status != domain.QuestionActive {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}

	ss, err := s.sessions.Get(ctx, sq.SessionID)
	if err != nil {
		return nil, err
	}

	q, err := s.questions.GetQuestion(ctx, sq.QuestionID)
	if err != nil {
		return nil, err
	}

	graded, err := s.scoring.Grade(q, sq, req.Payload, req.ResponseTime, ss.Config.PointsForSpeed)
	if err != nil {
		return nil, err
	}

	r := &domain.Response{
		ID:                uuid.NewString(),
		SessionQuestionID: sq.ID,
		ParticipantID:     p.ID,
		OptionID:          req.Payload.OptionID,
		Text:              req.Payload.Text,
		Lat:               req.Payload.Lat,
		Lng:               req.Payload.Lng,
		IsCorrect:         graded.IsCorrect,
		PointsEarned:      graded.PointsEarned,
		ResponseTime:      req.ResponseTime,
		DistanceError:     graded.DistanceError,
		UsedHint:          req.UsedHint,
		SubmittedAt:       s.now(),
	}

	stats := applyResponse(p, graded, req.ResponseTime)
	if err := s.responses.Commit(ctx, r, stats); err != nil {
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("Response.AlreadySubmitted"),
				errors.WithCause(err))
		}
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventResponseSubmitted{
		SessionID:         sq.SessionID,
		SessionQuestionID: sq.ID,
		Participant:       p.ID,
		IsCorrect:         graded.IsCorrect,
		PointsEarned:      graded.PointsEarned,
		OccurredAt:        s.now(),
	})

	return &SubmitResponseResult{
		IsCorrect:     graded.IsCorrect,
		PointsEarned:  graded.PointsEarned,
		TotalScore:    stats.TotalScore,
		DistanceError: graded.DistanceError,
	}, nil
}

// applyResponse folds one graded response into the participant's cumulative
// stats.
func applyResponse(p domain.Participant, graded scoring.Result, responseTime float64) domain.Participant {
	answered := float64(p.AnsweredCount)
	p.AvgResponseTime = (p.AvgResponseTime*answered + responseTime) / (answered + 1)
	p.AnsweredCount++
	if graded.IsCorrect {
		p.CorrectCount++
		p.TotalScore += graded.PointsEarned
	}
	return p
}

// GetLeaderboard recomputes the ranked standings from the participant rows.
// A limit of zero returns everyone.
func (s *Service) GetLeaderboard(ctx context.Context, sessionID string, limit int) (*domain.Leaderboard, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	participants, err := s.participants.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lb := leaderboard.Rank(sessionID, participants, s.now())
	if limit > 0 && len(lb.Entries) > limit {
		lb.Entries = lb.Entries[:limit]
	}

	return &lb, nil
}

// GetSession returns a session snapshot for reconnecting clients.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	ss, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// GetSessionByCode resolves a join code, used by hosts attaching to their own
// session without taking a participant seat.
func (s *Service) GetSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	ss, err := s.sessions.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *Service) requireHost(ctx context.Context, sessionID, callerID string) error {
	ss, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if callerID == "" || ss.HostID != callerID {
		return errHostOnly()
	}
	return nil
}

func errHostOnly() error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithMessagef("only the session host may perform this operation"))
}
