// Package broadcast fans session events out to every connected client through
// redis pubsub, so any instance's websocket connections receive events
// committed on any other instance.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is the wire form of one broadcast message. Origin and
// ExcludeOrigin let ephemeral client-echo events (cursor moves, selections)
// skip the connection that produced them; state-changing events leave
// ExcludeOrigin false so the actor sees its own effect confirmed.
type Envelope struct {
	Event         string          `json:"event"`
	SessionID     string          `json:"sessionId"`
	Origin        string          `json:"origin,omitempty"`
	ExcludeOrigin bool            `json:"excludeOrigin,omitempty"`
	At            time.Time       `json:"at"`
	Data          json.RawMessage `json:"data"`
}

type Gateway struct {
	redis  redis.UniversalClient
	prefix string
}

func NewGateway(client redis.UniversalClient, prefix string) *Gateway {
	return &Gateway{redis: client, prefix: prefix}
}

// Publish sends one envelope to the session's channel. Best-effort: callers
// log failures and move on, delivery is never part of the commit.
func (g *Gateway) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s: %w", env.Event, err)
	}
	return g.redis.Publish(ctx, g.Channel(env.SessionID), b).Err()
}

// Subscribe opens a pubsub subscription on the session's channel. The caller
// owns the returned subscription and must Close it.
func (g *Gateway) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return g.redis.Subscribe(ctx, g.Channel(sessionID))
}

func (g *Gateway) Channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", g.prefix, sessionID)
}
