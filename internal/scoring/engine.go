package scoring

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
)

// Result is the grading outcome for one submission.
type Result struct {
	IsCorrect     bool
	PointsEarned  int
	DistanceError *float64 // meters, PIN_ON_MAP only
}

// grader validates one answer payload against bank content and returns
// correctness plus any auxiliary metric. Graders are pure: they never touch
// storage or session state.
type grader func(q domain.Question, a domain.AnswerPayload) (bool, *float64, error)

var graders = map[domain.QuestionType]grader{
	domain.TypeMultipleChoice: gradeChoice,
	domain.TypeTrueFalse:      gradeChoice,
	domain.TypeShortAnswer:    gradeShortAnswer,
	domain.TypePinOnMap:       gradePin,
}

// Engine validates answers and computes points per question type. It is
// stateless; one instance serves every session.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Grade validates the payload for the question's type and computes the points
// earned, including the speed bonus when the session enables it.
func (e *Engine) Grade(q domain.Question, sq domain.SessionQuestion, a domain.AnswerPayload, responseTime float64, pointsForSpeed bool) (Result, error) {
	g, ok := graders[q.Type]
	if !ok {
		return Result{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s: unsupported type %q", q.ID, q.Type))
	}

	correct, distance, err := g(q, a)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		IsCorrect:     correct,
		DistanceError: distance,
	}
	if correct {
		res.PointsEarned = points(sq.EffectivePoints(q), sq.EffectiveTimeLimit(q), responseTime, pointsForSpeed)
	}

	return res, nil
}

func gradeChoice(q domain.Question, a domain.AnswerPayload) (bool, *float64, error) {
	if a.OptionID == "" {
		return false, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s: option id is required", q.ID))
	}

	for _, opt := range q.Options {
		if opt.ID == a.OptionID {
			return opt.Correct, nil, nil
		}
	}

	return false, nil, errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("question %s: option %s does not belong to the question", q.ID, a.OptionID))
}

func gradeShortAnswer(q domain.Question, a domain.AnswerPayload) (bool, *float64, error) {
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return false, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s: response text is required", q.ID))
	}

	return strings.EqualFold(text, strings.TrimSpace(q.AnswerText)), nil, nil
}

func gradePin(q domain.Question, a domain.AnswerPayload) (bool, *float64, error) {
	if a.Lat == nil || a.Lng == nil {
		return false, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s: latitude and longitude are required", q.ID))
	}
	if q.Answer == nil {
		return false, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s: question has no canonical point", q.ID))
	}

	radius := q.AcceptanceRadius
	if radius <= 0 {
		radius = domain.DefaultAcceptanceRadius
	}

	d := Haversine(domain.Point{Lat: *a.Lat, Lng: *a.Lng}, *q.Answer)
	return d <= radius, &d, nil
}

// points computes base plus the speed bonus:
//
//	bonus = floor(base * 0.5 * max(0, 1 - responseTime/timeLimit))
//
// Decimal arithmetic keeps the floor exact for fractions like 0.8 that have
// no finite binary representation.
func points(base, timeLimit int, responseTime float64, pointsForSpeed bool) int {
	if !pointsForSpeed || responseTime <= 0 || timeLimit <= 0 {
		return base
	}

	factor := decimal.NewFromInt(1).Sub(
		decimal.NewFromFloat(responseTime).Div(decimal.NewFromInt(int64(timeLimit))))
	if factor.IsNegative() {
		return base
	}

	bonus := decimal.NewFromInt(int64(base)).
		Mul(decimal.NewFromFloat(0.5)).
		Mul(factor).
		Floor()

	return base + int(bonus.IntPart())
}
