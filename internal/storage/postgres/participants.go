package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

type ParticipantStore struct {
	db *pgxpool.Pool
}

func NewParticipantStore(db *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{db: db}
}

const participantColumns = `id, session_id, user_id, display_name, device_info,
	total_score, correct_count, answered_count, avg_response_time, rank, joined_at, left_at`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p      domain.Participant
		userID *string
	)
	err := row.Scan(&p.ID, &p.SessionID, &userID, &p.DisplayName, &p.DeviceInfo,
		&p.TotalScore, &p.CorrectCount, &p.AnsweredCount, &p.AvgResponseTime, &p.Rank, &p.JoinedAt, &p.LeftAt)
	if err != nil {
		return domain.Participant{}, err
	}
	if userID != nil {
		p.UserID = *userID
	}
	return p, nil
}

// Create inserts a participant row. A partial unique index on
// (session_id, user_id) WHERE left_at IS NULL surfaces concurrent duplicate
// joins by the same authenticated user as Conflict.
func (s *ParticipantStore) Create(ctx context.Context, p *domain.Participant) error {
	const stmt = `
INSERT INTO participants (id, session_id, user_id, display_name, device_info, joined_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	var userID *string
	if p.UserID != "" {
		userID = &p.UserID
	}

	_, err := s.db.Exec(ctx, stmt, p.ID, p.SessionID, userID, p.DisplayName, p.DeviceInfo, p.JoinedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *ParticipantStore) Get(ctx context.Context, id string) (domain.Participant, error) {
	stmt := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1;`

	p, err := scanParticipant(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant %s not found", id))
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *ParticipantStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	stmt := `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 ORDER BY joined_at;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(r)
	})
}

func (s *ParticipantStore) CountActive(ctx context.Context, sessionID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM participants WHERE session_id = $1 AND left_at IS NULL;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active participants: %w", err)
	}
	return n, nil
}

func (s *ParticipantStore) MarkLeft(ctx context.Context, id string, at time.Time) error {
	const stmt = `UPDATE participants SET left_at = $2 WHERE id = $1 AND left_at IS NULL;`

	if _, err := s.db.Exec(ctx, stmt, id, at); err != nil {
		return fmt.Errorf("mark participant left: %w", err)
	}
	return nil
}
