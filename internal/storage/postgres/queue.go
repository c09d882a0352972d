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

type QueueStore struct {
	db *pgxpool.Pool
}

func NewQueueStore(db *pgxpool.Pool) *QueueStore {
	return &QueueStore{db: db}
}

const queueColumns = `id, session_id, question_id, queue_order, status,
	points_override, time_limit_override, extra_seconds, activated_at, completed_at`

func scanSessionQuestion(row pgx.Row) (domain.SessionQuestion, error) {
	var q domain.SessionQuestion
	err := row.Scan(&q.ID, &q.SessionID, &q.QuestionID, &q.QueueOrder, &q.Status,
		&q.PointsOverride, &q.TimeLimitOverride, &q.ExtraSeconds, &q.ActivatedAt, &q.CompletedAt)
	if err != nil {
		return domain.SessionQuestion{}, err
	}
	return q, nil
}

func (s *QueueStore) CreateBatch(ctx context.Context, qs []domain.SessionQuestion) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const stmt = `
INSERT INTO session_questions (id, session_id, question_id, queue_order, status, points_override, time_limit_override)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	for _, q := range qs {
		_, err = tx.Exec(ctx, stmt, q.ID, q.SessionID, q.QuestionID, q.QueueOrder, q.Status, q.PointsOverride, q.TimeLimitOverride)
		if err != nil {
			return fmt.Errorf("insert session question: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *QueueStore) Get(ctx context.Context, id string) (domain.SessionQuestion, error) {
	stmt := `SELECT ` + queueColumns + ` FROM session_questions WHERE id = $1;`

	q, err := scanSessionQuestion(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session question %s not found", id))
	}
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("get session question: %w", err)
	}
	return q, nil
}

func (s *QueueStore) ListBySession(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	stmt := `SELECT ` + queueColumns + ` FROM session_questions WHERE session_id = $1 ORDER BY queue_order;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.SessionQuestion, error) {
		return scanSessionQuestion(r)
	})
}

func (s *QueueStore) GetActive(ctx context.Context, sessionID string) (domain.SessionQuestion, error) {
	stmt := `SELECT ` + queueColumns + ` FROM session_questions WHERE session_id = $1 AND status = 'ACTIVE';`

	q, err := scanSessionQuestion(s.db.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active question in session %s", sessionID))
	}
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("get active question: %w", err)
	}
	return q, nil
}

// ActivateNext completes the current ACTIVE entry and promotes the
// lowest-ordered QUEUED one in a single transaction, so the partial unique
// index on (session_id) WHERE status = 'ACTIVE' never fires and concurrent
// activations serialize on the row lock.
func (s *QueueStore) ActivateNext(ctx context.Context, sessionID string, at time.Time) (next domain.SessionQuestion, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const completeStmt = `
UPDATE session_questions SET status = 'COMPLETED', completed_at = $2
WHERE session_id = $1 AND status = 'ACTIVE';`
	if _, err = tx.Exec(ctx, completeStmt, sessionID, at); err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("complete active question: %w", err)
	}

	const selectStmt = `
SELECT id FROM session_questions
WHERE session_id = $1 AND status = 'QUEUED'
ORDER BY queue_order
LIMIT 1
FOR UPDATE SKIP LOCKED;`

	var nextID string
	err = tx.QueryRow(ctx, selectStmt, sessionID).Scan(&nextID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.SessionQuestion{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("NoMoreQuestions"))
	}
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("select next question: %w", err)
	}

	activateStmt := `
UPDATE session_questions SET status = 'ACTIVE', activated_at = $2
WHERE id = $1
RETURNING ` + queueColumns + `;`

	next, err = scanSessionQuestion(tx.QueryRow(ctx, activateStmt, nextID, at))
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("activate question: %w", err)
	}

	return next, tx.Commit(ctx)
}

func (s *QueueStore) MarkSkipped(ctx context.Context, id string, at time.Time) error {
	const stmt = `
UPDATE session_questions SET status = 'SKIPPED', completed_at = $2
WHERE id = $1 AND status = 'ACTIVE';`

	tag, err := s.db.Exec(ctx, stmt, id, at)
	if err != nil {
		return fmt.Errorf("skip question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}
	return nil
}

func (s *QueueStore) AddExtraSeconds(ctx context.Context, id string, seconds int) (domain.SessionQuestion, error) {
	stmt := `
UPDATE session_questions SET extra_seconds = extra_seconds + $2
WHERE id = $1 AND status = 'ACTIVE'
RETURNING ` + queueColumns + `;`

	q, err := scanSessionQuestion(s.db.QueryRow(ctx, stmt, id, seconds))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.SessionQuestion{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Question.NotActive"))
	}
	if err != nil {
		return domain.SessionQuestion{}, fmt.Errorf("extend question time: %w", err)
	}
	return q, nil
}
