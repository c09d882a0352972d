package rediscache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/storage/rediscache"
)

type countingLoader struct {
	bank  domain.QuestionBank
	loads atomic.Int32
}

func (l *countingLoader) GetBank(_ context.Context, bankID string) (domain.QuestionBank, error) {
	l.loads.Add(1)
	if bankID != l.bank.ID {
		return domain.QuestionBank{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question bank %s not found", bankID))
	}
	return l.bank, nil
}

func (l *countingLoader) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	for _, q := range l.bank.Questions {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, errors.New(errors.CodeNotFound,
		errors.WithMessagef("question %s not found", questionID))
}

func newRepo(t *testing.T) (*rediscache.QuestionRepository, *countingLoader) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		bank: domain.QuestionBank{
			ID: "b1",
			Questions: []domain.Question{
				{ID: "q1", Type: domain.TypeMultipleChoice, Prompt: "first"},
				{ID: "q2", Type: domain.TypeShortAnswer, Prompt: "second"},
			},
		},
	}
	return rediscache.NewQuestionRepository(client, loader, "engine", time.Minute), loader
}

func TestGetBank_LoadsOnce(t *testing.T) {
	t.Parallel()

	repo, loader := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		bank, err := repo.GetBank(ctx, "b1")
		require.NoError(t, err)
		assert.Len(t, bank.Questions, 2)
	}

	assert.Equal(t, int32(1), loader.loads.Load(), "repeated reads come from cache")
}

func TestGetBank_NotFound(t *testing.T) {
	t.Parallel()

	repo, _ := newRepo(t)

	_, err := repo.GetBank(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestGetQuestion_FromCachedBank(t *testing.T) {
	t.Parallel()

	repo, loader := newRepo(t)
	ctx := context.Background()

	// Fill the cache and the question index.
	_, err := repo.GetBank(ctx, "b1")
	require.NoError(t, err)

	q, err := repo.GetQuestion(ctx, "q2")
	require.NoError(t, err)
	assert.Equal(t, "second", q.Prompt)
	assert.Equal(t, int32(1), loader.loads.Load(), "question lookup served from the cached bank")
}

func TestGetQuestion_FallsBackToLoader(t *testing.T) {
	t.Parallel()

	repo, _ := newRepo(t)

	// Cold cache: no index entry yet, so the loader answers directly.
	q, err := repo.GetQuestion(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "first", q.Prompt)
}
