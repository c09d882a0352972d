package session

import (
	"context"

	"github.com/maplive/engine/internal/domain"
)

// ActiveQuestion is the participant-facing view of the ACTIVE queue entry:
// option correctness flags and the canonical answer are stripped so nothing
// graded leaks before the question completes.
type ActiveQuestion struct {
	SessionQuestionID string              `json:"sessionQuestionId"`
	QuestionID        string              `json:"questionId"`
	QueueOrder        int                 `json:"queueOrder"`
	Type              domain.QuestionType `json:"type"`
	Prompt            string              `json:"prompt"`
	Options           []QuestionOption    `json:"options,omitempty"`
	Points            int                 `json:"points"`
	TimeLimit         int                 `json:"timeLimit"`
}

type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// GetActiveQuestion returns the current ACTIVE question of the session, or
// NotFound when none is active.
func (s *Service) GetActiveQuestion(ctx context.Context, sessionID string) (*ActiveQuestion, error) {
	sq, err := s.queue.GetActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q, err := s.questions.GetQuestion(ctx, sq.QuestionID)
	if err != nil {
		return nil, err
	}

	opts := make([]QuestionOption, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, QuestionOption{ID: o.ID, Text: o.Text})
	}

	return &ActiveQuestion{
		SessionQuestionID: sq.ID,
		QuestionID:        q.ID,
		QueueOrder:        sq.QueueOrder,
		Type:              q.Type,
		Prompt:            q.Prompt,
		Options:           opts,
		Points:            sq.EffectivePoints(q),
		TimeLimit:         sq.EffectiveTimeLimit(q),
	}, nil
}

// QuestionResults is a read-side projection over all responses to one
// question: option counts for choice questions, submitted pins for map
// questions. It is computed on demand from the response rows so there is no
// second source of truth to keep in sync.
type QuestionResults struct {
	SessionQuestionID string         `json:"sessionQuestionId"`
	TotalResponses    int            `json:"totalResponses"`
	CorrectResponses  int            `json:"correctResponses"`
	OptionCounts      map[string]int `json:"optionCounts,omitempty"`
	Pins              []domain.Point `json:"pins,omitempty"`
}

// GetQuestionResults aggregates the responses submitted to one queue entry.
func (s *Service) GetQuestionResults(ctx context.Context, sessionQuestionID string) (*QuestionResults, error) {
	if _, err := s.queue.Get(ctx, sessionQuestionID); err != nil {
		return nil, err
	}

	responses, err := s.responses.ListByQuestion(ctx, sessionQuestionID)
	if err != nil {
		return nil, err
	}

	res := &QuestionResults{
		SessionQuestionID: sessionQuestionID,
		TotalResponses:    len(responses),
		OptionCounts:      make(map[string]int),
	}
	for _, r := range responses {
		if r.IsCorrect {
			res.CorrectResponses++
		}
		if r.OptionID != "" {
			res.OptionCounts[r.OptionID]++
		}
		if r.Lat != nil && r.Lng != nil {
			res.Pins = append(res.Pins, domain.Point{Lat: *r.Lat, Lng: *r.Lng})
		}
	}

	return res, nil
}
