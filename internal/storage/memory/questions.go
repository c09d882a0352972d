package memory

import (
	"context"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

// QuestionRepository serves static bank content, used by tests and by the
// dev fallback when no postgres is configured.
type QuestionRepository struct {
	banks     map[string]domain.QuestionBank
	questions map[string]domain.Question
}

func NewQuestionRepository(banks map[string]domain.QuestionBank) *QuestionRepository {
	r := &QuestionRepository{
		banks:     make(map[string]domain.QuestionBank, len(banks)),
		questions: make(map[string]domain.Question),
	}
	for id, bank := range banks {
		r.banks[id] = bank
		for _, q := range bank.Questions {
			r.questions[q.ID] = q
		}
	}
	return r
}

func (r *QuestionRepository) GetBank(_ context.Context, bankID string) (domain.QuestionBank, error) {
	bank, ok := r.banks[bankID]
	if !ok {
		return domain.QuestionBank{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question bank %s not found", bankID))
	}
	return bank, nil
}

func (r *QuestionRepository) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	q, ok := r.questions[questionID]
	if !ok {
		return domain.Question{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %s not found", questionID))
	}
	return q, nil
}
