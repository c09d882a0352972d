package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/event"
	"github.com/maplive/engine/internal/telemetry"
)

// SessionEvent is any bus event addressed to one session's group.
type SessionEvent interface {
	event.Event
	Session() string
}

// Relay subscribes the gateway to the whole session event catalogue: each
// committed event becomes one envelope on the session's channel.
type Relay struct {
	gw  *Gateway
	now func() time.Time
}

func NewRelay(gw *Gateway) *Relay {
	return &Relay{gw: gw, now: time.Now}
}

func (r *Relay) Register(bus *event.Bus) {
	names := []string{
		domain.EventNameSessionStatusChanged,
		domain.EventNameParticipantJoined,
		domain.EventNameParticipantLeft,
		domain.EventNameQuestionActivated,
		domain.EventNameResponseSubmitted,
		domain.EventNameLeaderboardUpdated,
		domain.EventNameTimeExtended,
	}
	for _, name := range names {
		bus.Subscribe(name, r.handle)
	}
}

func (r *Relay) handle(ctx context.Context, e event.Event) error {
	se, ok := e.(SessionEvent)
	if !ok {
		return fmt.Errorf("broadcast: event %s has no session target", e.Name())
	}

	data, err := json.Marshal(se)
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s: %w", se.Name(), err)
	}

	env := Envelope{
		Event:     se.Name(),
		SessionID: se.Session(),
		At:        r.now(),
		Data:      data,
	}
	if err := r.gw.Publish(ctx, env); err != nil {
		telemetry.BroadcastFailures.WithLabelValues(se.Name()).Inc()
		slog.ErrorContext(ctx, "broadcast: publish failed",
			"event", se.Name(),
			"session", se.Session(),
			"error", err,
		)
		return nil
	}
	telemetry.BroadcastsPublished.WithLabelValues(se.Name()).Inc()
	return nil
}
