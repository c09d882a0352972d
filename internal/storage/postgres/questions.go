package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

// QuestionRepository loads question bank JSONB documents. Bank content is
// read-only to the engine; authoring lives elsewhere in the platform.
type QuestionRepository struct {
	db *pgxpool.Pool
}

func NewQuestionRepository(db *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: db}
}

func (r *QuestionRepository) GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	const stmt = `SELECT data FROM question_banks WHERE id = $1;`

	var raw []byte
	err := r.db.QueryRow(ctx, stmt, bankID).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionBank{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question bank %s not found", bankID))
	}
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load question bank: %w", err)
	}

	var bank domain.QuestionBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("unmarshal question bank: %w", err)
	}
	bank.ID = bankID
	return bank, nil
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	const stmt = `
SELECT q.value
FROM question_banks, jsonb_array_elements(data->'questions') AS q
WHERE q.value->>'id' = $1
LIMIT 1;`

	var raw []byte
	err := r.db.QueryRow(ctx, stmt, questionID).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %s not found", questionID))
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}

	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}
