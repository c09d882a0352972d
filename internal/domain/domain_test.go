package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maplive/engine/internal/domain"
)

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	statuses := []domain.SessionStatus{
		domain.SessionWaiting,
		domain.SessionInProgress,
		domain.SessionPaused,
		domain.SessionCompleted,
	}

	legal := map[domain.SessionStatus][]domain.SessionStatus{
		domain.SessionWaiting:    {domain.SessionInProgress, domain.SessionCompleted},
		domain.SessionInProgress: {domain.SessionPaused, domain.SessionCompleted},
		domain.SessionPaused:     {domain.SessionInProgress, domain.SessionCompleted},
		domain.SessionCompleted:  {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, allowed := range legal[from] {
				if to == allowed {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestSessionQuestion_EffectivePoints(t *testing.T) {
	t.Parallel()

	q := domain.Question{Points: 200}
	assert.Equal(t, 200, domain.SessionQuestion{}.EffectivePoints(q))

	override := 50
	assert.Equal(t, 50, domain.SessionQuestion{PointsOverride: &override}.EffectivePoints(q))

	assert.Equal(t, domain.DefaultQuestionPoints,
		domain.SessionQuestion{}.EffectivePoints(domain.Question{}),
		"zero bank points fall back to the default")
}

func TestSessionQuestion_EffectiveTimeLimit(t *testing.T) {
	t.Parallel()

	q := domain.Question{TimeLimit: 30}

	assert.Equal(t, 30, domain.SessionQuestion{}.EffectiveTimeLimit(q))
	assert.Equal(t, 45, domain.SessionQuestion{ExtraSeconds: 15}.EffectiveTimeLimit(q))

	override := 60
	assert.Equal(t, 75, domain.SessionQuestion{TimeLimitOverride: &override, ExtraSeconds: 15}.EffectiveTimeLimit(q))

	assert.Equal(t, 0, domain.SessionQuestion{ExtraSeconds: 15}.EffectiveTimeLimit(domain.Question{}),
		"no base limit means unlimited, extensions notwithstanding")
}
