package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/event"
)

const defaultPublishInterval = 200 * time.Millisecond

// ParticipantSource lists the participant rows standings are derived from.
type ParticipantSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

type Config struct {
	EventBus        *event.Bus
	Participants    ParticipantSource
	Redis           redis.UniversalClient
	Prefix          string
	PublishInterval time.Duration
	Now             func() time.Time
}

// Service publishes LeaderboardUpdate events after accepted responses. Many
// responses can land within a few milliseconds, so publication is coalesced
// per session with a redis SetNX gate shared across service instances; the
// standings themselves are always recomputed from the participant store, so
// readers never see a stale rank.
type Service struct {
	eb           *event.Bus
	participants ParticipantSource
	redis        redis.UniversalClient
	prefix       string
	interval     time.Duration
	now          func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:           c.EventBus,
		participants: c.Participants,
		redis:        c.Redis,
		prefix:       c.Prefix,
		interval:     c.PublishInterval,
		now:          c.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameResponseSubmitted, func(ctx context.Context, e event.Event) error {
		return s.HandleResponseSubmitted(ctx, e.(domain.EventResponseSubmitted))
	})

	return s
}

// HandleResponseSubmitted coalesces and publishes the standings for the
// response's session.
func (s *Service) HandleResponseSubmitted(ctx context.Context, e domain.EventResponseSubmitted) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(e.SessionID), e.OccurredAt.UnixMilli(), s.interval).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx: %w", err)
	}
	if !ok {
		// Another response within the interval already owns the publish.
		return nil
	}

	return s.publish(ctx, e.SessionID)
}

func (s *Service) publish(ctx context.Context, sessionID string) error {
	participants, err := s.participants.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("leaderboard: list participants: session=%s: %w", sessionID, err)
	}

	now := s.now()
	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		SessionID:   sessionID,
		Leaderboard: Rank(sessionID, participants, now),
		OccurredAt:  now,
	})

	return nil
}

func (s *Service) throttleKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:leaderboard:publish", s.prefix, sessionID)
}
