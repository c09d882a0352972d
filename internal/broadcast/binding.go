package broadcast

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maplive/engine/internal/errors"
)

// Binding ties one websocket connection id to its session seat. Stored in
// redis, keyed by connection id, so whichever instance observes the abrupt
// disconnect can run the same leave cleanup as an explicit leave.
type Binding struct {
	SessionID     string `redis:"session_id"`
	ParticipantID string `redis:"participant_id"`
	Host          bool   `redis:"host"`
}

type BindingStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewBindingStore(client redis.UniversalClient, prefix string, ttl time.Duration) *BindingStore {
	return &BindingStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *BindingStore) Bind(ctx context.Context, connID string, b Binding) error {
	key := s.key(connID)
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, key, b)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bind connection: %w", err)
	}
	return nil
}

func (s *BindingStore) Lookup(ctx context.Context, connID string) (Binding, error) {
	var b Binding
	err := s.redis.HGetAll(ctx, s.key(connID)).Scan(&b)
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return Binding{}, fmt.Errorf("lookup connection: %w", err)
	}
	if b.SessionID == "" {
		return Binding{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("connection %s not bound", connID))
	}
	return b, nil
}

// Touch refreshes the TTL; called on client activity so live connections
// never expire out from under their session.
func (s *BindingStore) Touch(ctx context.Context, connID string) error {
	return s.redis.Expire(ctx, s.key(connID), s.ttl).Err()
}

func (s *BindingStore) Unbind(ctx context.Context, connID string) error {
	return s.redis.Del(ctx, s.key(connID)).Err()
}

func (s *BindingStore) key(connID string) string {
	return s.prefix + ":conn:" + connID
}
