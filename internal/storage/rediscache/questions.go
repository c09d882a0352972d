// Package rediscache caches question bank documents in redis in front of the
// postgres loader. Bank content is immutable from the engine's point of view,
// so a TTL is only a safety net against authoring-side edits.
package rediscache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

// BankLoader fetches bank content from the backing store on cache miss.
type BankLoader interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

type QuestionRepository struct {
	client redis.UniversalClient
	loader BankLoader
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client redis.UniversalClient, loader BankLoader, prefix string, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		prefix: prefix,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	key := r.bankKey(bankID)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var bank domain.QuestionBank
		if err := json.Unmarshal(raw, &bank); err == nil {
			return bank, nil
		}
		// Corrupt cache entry: fall through to reload.
	}
	if err != nil && !stderrors.Is(err, redis.Nil) {
		// Redis being down must not take question loading with it.
		return r.loader.GetBank(ctx, bankID)
	}

	result, err, _ := r.sf.Do(bankID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			var bank domain.QuestionBank
			if err := json.Unmarshal(raw, &bank); err == nil {
				return bank, nil
			}
		}

		bank, err := r.loader.GetBank(ctx, bankID)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		encoded, err := json.Marshal(bank)
		if err != nil {
			return domain.QuestionBank{}, fmt.Errorf("marshal question bank: %w", err)
		}
		_ = r.client.Set(ctx, key, encoded, r.ttlWithJitter()).Err()
		r.IndexBank(ctx, bank)

		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

// GetQuestion serves single questions through the cached bank scan rather than
// a second cache shape; banks are small and the common access pattern is
// bank-at-once during session creation.
func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	q, err := r.lookupCached(ctx, questionID)
	if err == nil {
		return q, nil
	}
	if !errors.IsCode(err, errors.CodeNotFound) {
		return domain.Question{}, err
	}
	return r.loader.GetQuestion(ctx, questionID)
}

func (r *QuestionRepository) lookupCached(ctx context.Context, questionID string) (domain.Question, error) {
	bankID, err := r.client.Get(ctx, r.questionIndexKey(questionID)).Result()
	if err != nil {
		return domain.Question{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %s not indexed", questionID))
	}

	bank, err := r.GetBank(ctx, bankID)
	if err != nil {
		return domain.Question{}, err
	}
	for _, q := range bank.Questions {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, errors.New(errors.CodeNotFound,
		errors.WithMessagef("question %s not found", questionID))
}

// IndexBank records which bank each question belongs to so GetQuestion can be
// answered from cache.
func (r *QuestionRepository) IndexBank(ctx context.Context, bank domain.QuestionBank) {
	pipe := r.client.Pipeline()
	ttl := r.ttlWithJitter()
	for _, q := range bank.Questions {
		pipe.Set(ctx, r.questionIndexKey(q.ID), bank.ID, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (r *QuestionRepository) bankKey(bankID string) string {
	return r.prefix + ":bank:" + bankID
}

func (r *QuestionRepository) questionIndexKey(questionID string) string {
	return r.prefix + ":question:" + questionID
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
