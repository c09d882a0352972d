package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, join_code, host_id, map_id, name, status, config,
	total_participants, total_responses, created_at, started_at, ended_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		ss        domain.Session
		rawConfig []byte
	)
	err := row.Scan(&ss.ID, &ss.JoinCode, &ss.HostID, &ss.MapID, &ss.Name, &ss.Status,
		&rawConfig, &ss.TotalParticipants, &ss.TotalResponses, &ss.CreatedAt, &ss.StartedAt, &ss.EndedAt)
	if err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(rawConfig, &ss.Config); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session config: %w", err)
	}
	return ss, nil
}

func (s *SessionStore) Create(ctx context.Context, ss *domain.Session) error {
	rawConfig, err := json.Marshal(ss.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	const stmt = `
INSERT INTO sessions (id, join_code, host_id, map_id, name, status, config, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err = s.db.Exec(ctx, stmt, ss.ID, ss.JoinCode, ss.HostID, ss.MapID, ss.Name, ss.Status, rawConfig, ss.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return ss, nil
}

func (s *SessionStore) GetByCode(ctx context.Context, code string) (domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE join_code = $1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, code))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session with code %s not found", code))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session by code: %w", err)
	}
	return ss, nil
}

// CompareAndSwapStatus transitions the session only when its current status is
// one of from. Zero updated rows means another instance won the race or the
// transition is illegal; the caller re-reads for the precise reason.
func (s *SessionStore) CompareAndSwapStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (domain.Session, error) {
	stmt := `
UPDATE sessions
SET status = $2,
	started_at = CASE WHEN $2 = 'IN_PROGRESS' AND started_at IS NULL THEN now() ELSE started_at END,
	ended_at   = CASE WHEN $2 = 'COMPLETED' THEN now() ELSE ended_at END
WHERE id = $1 AND status = ANY($3)
RETURNING ` + sessionColumns + `;`

	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, id, to, fromStrs))
	if stderrors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return domain.Session{}, getErr
		}
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.InvalidTransition: %s -> %s", current.Status, to))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session status: %w", err)
	}
	return ss, nil
}

// End completes the session and soft-leaves every active participant in the
// same transaction.
func (s *SessionStore) End(ctx context.Context, id string) (ss domain.Session, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	stmt := `
UPDATE sessions
SET status = 'COMPLETED', ended_at = now()
WHERE id = $1 AND status <> 'COMPLETED'
RETURNING ` + sessionColumns + `;`

	ss, err = scanSession(tx.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return domain.Session{}, getErr
		}
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Session.InvalidTransition: %s -> %s", current.Status, domain.SessionCompleted))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("end session: %w", err)
	}

	const cascade = `
UPDATE participants SET left_at = $2 WHERE session_id = $1 AND left_at IS NULL;`
	if _, err = tx.Exec(ctx, cascade, id, time.Now()); err != nil {
		return domain.Session{}, fmt.Errorf("mark participants left: %w", err)
	}

	return ss, tx.Commit(ctx)
}

func (s *SessionStore) SetTotalParticipants(ctx context.Context, id string, total int) error {
	const stmt = `UPDATE sessions SET total_participants = $2 WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, id, total)
	if err != nil {
		return fmt.Errorf("set total participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	return nil
}
