package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/scoring"
)

func float64Ptr(f float64) *float64 { return &f }

func mcQuestion() domain.Question {
	return domain.Question{
		ID:   "q1",
		Type: domain.TypeMultipleChoice,
		Options: []domain.Option{
			{ID: "o1", Text: "Hanoi", Correct: false},
			{ID: "o2", Text: "Ho Chi Minh City", Correct: true},
		},
		Points:    100,
		TimeLimit: 10,
	}
}

func TestEngine_Grade(t *testing.T) {
	type (
		inputs struct {
			question        domain.Question
			sessionQuestion domain.SessionQuestion
			payload         domain.AnswerPayload
			responseTime    float64
			pointsForSpeed  bool
		}

		outputs struct {
			result scoring.Result
			err    error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"correct choice with speed bonus: base=100 t=2 limit=10 should award 140": {
			arrange: func() inputs {
				return inputs{
					question:       mcQuestion(),
					payload:        domain.AnswerPayload{OptionID: "o2"},
					responseTime:   2,
					pointsForSpeed: true,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.result.IsCorrect)
				assert.Equal(t, 140, out.result.PointsEarned)
			},
		},

		"correct choice without speed bonus should award base only": {
			arrange: func() inputs {
				return inputs{
					question:     mcQuestion(),
					payload:      domain.AnswerPayload{OptionID: "o2"},
					responseTime: 2,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 100, out.result.PointsEarned)
			},
		},

		"wrong option should earn zero points": {
			arrange: func() inputs {
				return inputs{
					question:       mcQuestion(),
					payload:        domain.AnswerPayload{OptionID: "o1"},
					responseTime:   1,
					pointsForSpeed: true,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.result.IsCorrect)
				assert.Equal(t, 0, out.result.PointsEarned)
			},
		},

		"option not belonging to the question should be rejected": {
			arrange: func() inputs {
				return inputs{
					question: mcQuestion(),
					payload:  domain.AnswerPayload{OptionID: "o9"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"missing option id should be rejected": {
			arrange: func() inputs {
				return inputs{question: mcQuestion()}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"response slower than the limit should keep the base points": {
			arrange: func() inputs {
				return inputs{
					question:       mcQuestion(),
					payload:        domain.AnswerPayload{OptionID: "o2"},
					responseTime:   15,
					pointsForSpeed: true,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 100, out.result.PointsEarned)
			},
		},

		"points override should replace the question points": {
			arrange: func() inputs {
				override := 40
				return inputs{
					question:        mcQuestion(),
					sessionQuestion: domain.SessionQuestion{PointsOverride: &override},
					payload:         domain.AnswerPayload{OptionID: "o2"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 40, out.result.PointsEarned)
			},
		},

		"short answer should match case-insensitively and trimmed": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{
						ID:         "q2",
						Type:       domain.TypeShortAnswer,
						AnswerText: "Mekong",
						Points:     100,
					},
					payload: domain.AnswerPayload{Text: "  mekong "},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.result.IsCorrect)
				assert.Equal(t, 100, out.result.PointsEarned)
			},
		},

		"empty short answer should be rejected": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{ID: "q2", Type: domain.TypeShortAnswer, AnswerText: "Mekong"},
					payload:  domain.AnswerPayload{Text: "   "},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"pin within the acceptance radius should be correct": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{
						ID:               "q3",
						Type:             domain.TypePinOnMap,
						Answer:           &domain.Point{Lat: 10.000, Lng: 106.000},
						AcceptanceRadius: 1000,
						Points:           100,
					},
					payload: domain.AnswerPayload{Lat: float64Ptr(10.002), Lng: float64Ptr(106.000)},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.result.IsCorrect)
				require.NotNil(t, out.result.DistanceError)
				assert.InDelta(t, 222, *out.result.DistanceError, 5)
			},
		},

		"pin outside the acceptance radius should be incorrect but still report distance": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{
						ID:               "q3",
						Type:             domain.TypePinOnMap,
						Answer:           &domain.Point{Lat: 10.000, Lng: 106.000},
						AcceptanceRadius: 100,
						Points:           100,
					},
					payload: domain.AnswerPayload{Lat: float64Ptr(10.002), Lng: float64Ptr(106.000)},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.result.IsCorrect)
				require.NotNil(t, out.result.DistanceError)
			},
		},

		"pin with missing coordinates should be rejected": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{
						ID:     "q3",
						Type:   domain.TypePinOnMap,
						Answer: &domain.Point{Lat: 10, Lng: 106},
					},
					payload: domain.AnswerPayload{Lat: float64Ptr(10.0)},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},

		"unsupported question type should be rejected": {
			arrange: func() inputs {
				return inputs{
					question: domain.Question{ID: "q4", Type: "WORD_CLOUD"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	engine := scoring.NewEngine()

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			res, err := engine.Grade(in.question, in.sessionQuestion, in.payload, in.responseTime, in.pointsForSpeed)
			tt.assert(t, outputs{result: res, err: err})
		})
	}
}

func TestHaversine(t *testing.T) {
	t.Parallel()

	a := domain.Point{Lat: 10.000, Lng: 106.000}
	b := domain.Point{Lat: 10.002, Lng: 106.000}

	assert.Equal(t, scoring.Haversine(a, b), scoring.Haversine(b, a), "distance should be symmetric")
	assert.Zero(t, scoring.Haversine(a, a), "distance to self should be zero")
	assert.InDelta(t, 222, scoring.Haversine(a, b), 5)

	// Known pair ~1116 km apart (Hanoi to Ho Chi Minh City).
	hn := domain.Point{Lat: 21.0278, Lng: 105.8342}
	hcmc := domain.Point{Lat: 10.8231, Lng: 106.6297}
	assert.InDelta(t, 1_137_000, scoring.Haversine(hn, hcmc), 15_000)
}
