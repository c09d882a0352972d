package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

type ResponseStore struct {
	db *pgxpool.Pool
}

func NewResponseStore(db *pgxpool.Pool) *ResponseStore {
	return &ResponseStore{db: db}
}

// Commit persists a graded response and the folded participant stats as one
// transaction, then reranks the session and bumps its response counter inside
// the same unit. The unique constraint on (session_question_id,
// participant_id) rejects the duplicate, not a check-then-insert.
func (s *ResponseStore) Commit(ctx context.Context, r *domain.Response, stats domain.Participant) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insStmt = `
INSERT INTO responses (id, session_question_id, participant_id, option_id, answer_text, lat, lng,
	is_correct, points_earned, response_time, distance_error, used_hint, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	_, err = tx.Exec(ctx, insStmt, r.ID, r.SessionQuestionID, r.ParticipantID,
		nullable(r.OptionID), nullable(r.Text), r.Lat, r.Lng,
		r.IsCorrect, r.PointsEarned, r.ResponseTime, r.DistanceError, r.UsedHint, r.SubmittedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	const statsStmt = `
UPDATE participants
SET total_score = $2, correct_count = $3, answered_count = $4, avg_response_time = $5
WHERE id = $1;`
	_, err = tx.Exec(ctx, statsStmt, stats.ID, stats.TotalScore, stats.CorrectCount, stats.AnsweredCount, stats.AvgResponseTime)
	if err != nil {
		return fmt.Errorf("update participant stats: %w", err)
	}

	// Contiguous 1-based ranks; id breaks exact ties deterministically.
	const rankStmt = `
WITH ranked AS (
	SELECT id, ROW_NUMBER() OVER (
		ORDER BY total_score DESC, avg_response_time ASC, joined_at ASC, id ASC
	) AS pos
	FROM participants WHERE session_id = $1
)
UPDATE participants p SET rank = ranked.pos FROM ranked WHERE p.id = ranked.id;`
	if _, err = tx.Exec(ctx, rankStmt, stats.SessionID); err != nil {
		return fmt.Errorf("rerank participants: %w", err)
	}

	const counterStmt = `UPDATE sessions SET total_responses = total_responses + 1 WHERE id = $1;`
	if _, err = tx.Exec(ctx, counterStmt, stats.SessionID); err != nil {
		return fmt.Errorf("bump response counter: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *ResponseStore) ListByQuestion(ctx context.Context, sessionQuestionID string) ([]domain.Response, error) {
	const stmt = `
SELECT id, session_question_id, participant_id, option_id, answer_text, lat, lng,
	is_correct, points_earned, response_time, distance_error, used_hint, submitted_at
FROM responses WHERE session_question_id = $1 ORDER BY submitted_at;`

	rows, err := s.db.Query(ctx, stmt, sessionQuestionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Response, error) {
		var (
			r        domain.Response
			optionID *string
			text     *string
		)
		err := row.Scan(&r.ID, &r.SessionQuestionID, &r.ParticipantID, &optionID, &text, &r.Lat, &r.Lng,
			&r.IsCorrect, &r.PointsEarned, &r.ResponseTime, &r.DistanceError, &r.UsedHint, &r.SubmittedAt)
		if err != nil {
			return domain.Response{}, err
		}
		if optionID != nil {
			r.OptionID = *optionID
		}
		if text != nil {
			r.Text = *text
		}
		return r, nil
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
