package domain

import "time"

// Broadcast event catalogue. Every event is timestamped and carries its
// session id so the broadcast layer can resolve the target group.
const (
	EventNameSessionStatusChanged = "session.status_changed"
	EventNameParticipantJoined    = "session.participant_joined"
	EventNameParticipantLeft      = "session.participant_left"
	EventNameQuestionActivated    = "session.question_activated"
	EventNameResponseSubmitted    = "session.response_submitted"
	EventNameLeaderboardUpdated   = "session.leaderboard_updated"
	EventNameTimeExtended         = "session.time_extended"
)

type EventSessionStatusChanged struct {
	SessionID  string        `json:"sessionId"`
	Status     SessionStatus `json:"status"`
	OccurredAt time.Time     `json:"occurredAt"`
}

func (EventSessionStatusChanged) Name() string      { return EventNameSessionStatusChanged }
func (e EventSessionStatusChanged) Session() string { return e.SessionID }

type EventParticipantJoined struct {
	SessionID   string    `json:"sessionId"`
	Participant string    `json:"participantId"`
	DisplayName string    `json:"displayName"`
	Total       int       `json:"totalParticipants"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (EventParticipantJoined) Name() string      { return EventNameParticipantJoined }
func (e EventParticipantJoined) Session() string { return e.SessionID }

type EventParticipantLeft struct {
	SessionID   string    `json:"sessionId"`
	Participant string    `json:"participantId"`
	Total       int       `json:"totalParticipants"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (EventParticipantLeft) Name() string      { return EventNameParticipantLeft }
func (e EventParticipantLeft) Session() string { return e.SessionID }

type EventQuestionActivated struct {
	SessionID         string    `json:"sessionId"`
	SessionQuestionID string    `json:"sessionQuestionId"`
	QuestionID        string    `json:"questionId"`
	QueueOrder        int       `json:"queueOrder"`
	TimeLimit         int       `json:"timeLimit"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func (EventQuestionActivated) Name() string      { return EventNameQuestionActivated }
func (e EventQuestionActivated) Session() string { return e.SessionID }

// EventResponseSubmitted deliberately carries correctness and points only,
// never the submitted answer content: answers must not leak to other
// participants before the question completes.
type EventResponseSubmitted struct {
	SessionID         string    `json:"sessionId"`
	SessionQuestionID string    `json:"sessionQuestionId"`
	Participant       string    `json:"participantId"`
	IsCorrect         bool      `json:"isCorrect"`
	PointsEarned      int       `json:"pointsEarned"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func (EventResponseSubmitted) Name() string      { return EventNameResponseSubmitted }
func (e EventResponseSubmitted) Session() string { return e.SessionID }

type EventLeaderboardUpdated struct {
	SessionID   string      `json:"sessionId"`
	Leaderboard Leaderboard `json:"leaderboard"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

func (EventLeaderboardUpdated) Name() string      { return EventNameLeaderboardUpdated }
func (e EventLeaderboardUpdated) Session() string { return e.SessionID }

type EventTimeExtended struct {
	SessionID         string    `json:"sessionId"`
	SessionQuestionID string    `json:"sessionQuestionId"`
	AddedSeconds      int       `json:"addedSeconds"`
	TimeLimit         int       `json:"timeLimit"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func (EventTimeExtended) Name() string      { return EventNameTimeExtended }
func (e EventTimeExtended) Session() string { return e.SessionID }
