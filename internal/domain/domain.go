package domain

import "time"

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionWaiting    SessionStatus = "WAITING"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionPaused     SessionStatus = "PAUSED"
	SessionCompleted  SessionStatus = "COMPLETED"
)

// CanTransitionTo reports whether the session state machine allows moving to next.
// COMPLETED is terminal and reachable from every other state.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == SessionCompleted {
		return false
	}
	if next == SessionCompleted {
		return true
	}

	switch s {
	case SessionWaiting:
		return next == SessionInProgress
	case SessionInProgress:
		return next == SessionPaused
	case SessionPaused:
		return next == SessionInProgress
	}
	return false
}

// QueueStatus is the per-entry state of the question queue.
// COMPLETED and SKIPPED are terminal.
type QueueStatus string

const (
	QuestionQueued    QueueStatus = "QUEUED"
	QuestionActive    QueueStatus = "ACTIVE"
	QuestionCompleted QueueStatus = "COMPLETED"
	QuestionSkipped   QueueStatus = "SKIPPED"
)

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	TypeTrueFalse      QuestionType = "TRUE_FALSE"
	TypeShortAnswer    QuestionType = "SHORT_ANSWER"
	TypePinOnMap       QuestionType = "PIN_ON_MAP"
)

// SessionConfig holds the host-chosen knobs for a session.
// MaxParticipants of zero means unlimited.
type SessionConfig struct {
	MaxParticipants  int  `json:"maxParticipants"`
	AllowLateJoin    bool `json:"allowLateJoin"`
	ShowLeaderboard  bool `json:"showLeaderboard"`
	ShuffleQuestions bool `json:"shuffleQuestions"`
	PointsForSpeed   bool `json:"pointsForSpeed"`
}

// Session is one live hosted activity bound to a map and a question queue.
// Only the session service mutates it.
type Session struct {
	ID                string        `json:"id"`
	JoinCode          string        `json:"joinCode"`
	HostID            string        `json:"hostId"`
	MapID             string        `json:"mapId"`
	Name              string        `json:"name"`
	Status            SessionStatus `json:"status"`
	Config            SessionConfig `json:"config"`
	TotalParticipants int           `json:"totalParticipants"`
	TotalResponses    int           `json:"totalResponses"`
	CreatedAt         time.Time     `json:"createdAt"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	EndedAt           *time.Time    `json:"endedAt,omitempty"`
}

// SessionQuestion binds a bank question to a session with per-session overrides.
type SessionQuestion struct {
	ID                string      `json:"id"`
	SessionID         string      `json:"sessionId"`
	QuestionID        string      `json:"questionId"`
	QueueOrder        int         `json:"queueOrder"`
	Status            QueueStatus `json:"status"`
	PointsOverride    *int        `json:"pointsOverride,omitempty"`
	TimeLimitOverride *int        `json:"timeLimitOverride,omitempty"`
	ExtraSeconds      int         `json:"extraSeconds"`
	ActivatedAt       *time.Time  `json:"activatedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// EffectivePoints resolves the points awarded for the question inside this session.
func (q SessionQuestion) EffectivePoints(question Question) int {
	if q.PointsOverride != nil {
		return *q.PointsOverride
	}
	if question.Points > 0 {
		return question.Points
	}
	return DefaultQuestionPoints
}

// EffectiveTimeLimit resolves the advisory time limit in seconds, including
// host-granted extensions. Zero means no limit.
func (q SessionQuestion) EffectiveTimeLimit(question Question) int {
	limit := question.TimeLimit
	if q.TimeLimitOverride != nil {
		limit = *q.TimeLimitOverride
	}
	if limit <= 0 {
		return 0
	}
	return limit + q.ExtraSeconds
}

// Participant is a joined user or guest within a session. An empty UserID
// marks a guest. Participants are soft-marked left, never deleted while the
// session is live.
type Participant struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"sessionId"`
	UserID          string     `json:"userId,omitempty"`
	DisplayName     string     `json:"displayName"`
	DeviceInfo      string     `json:"deviceInfo,omitempty"`
	TotalScore      int        `json:"totalScore"`
	CorrectCount    int        `json:"correctCount"`
	AnsweredCount   int        `json:"answeredCount"`
	AvgResponseTime float64    `json:"avgResponseTime"`
	Rank            int        `json:"rank"`
	JoinedAt        time.Time  `json:"joinedAt"`
	LeftAt          *time.Time `json:"leftAt,omitempty"`
}

// AnswerPayload is the submitted answer content. Which fields are required
// depends on the question type.
type AnswerPayload struct {
	OptionID string   `json:"optionId,omitempty"`
	Text     string   `json:"text,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// Response is a participant's graded submission to one active question.
// At most one exists per (session question, participant).
type Response struct {
	ID                string     `json:"id"`
	SessionQuestionID string     `json:"sessionQuestionId"`
	ParticipantID     string     `json:"participantId"`
	OptionID          string     `json:"optionId,omitempty"`
	Text              string     `json:"text,omitempty"`
	Lat               *float64   `json:"lat,omitempty"`
	Lng               *float64   `json:"lng,omitempty"`
	IsCorrect         bool       `json:"isCorrect"`
	PointsEarned      int        `json:"pointsEarned"`
	ResponseTime      float64    `json:"responseTime"`
	DistanceError     *float64   `json:"distanceError,omitempty"`
	UsedHint          bool       `json:"usedHint"`
	SubmittedAt       time.Time  `json:"submittedAt"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

const (
	DefaultQuestionPoints   = 100
	DefaultAcceptanceRadius = 1000.0 // meters
)

// Question is read-only bank content: the engine grades against it but never
// mutates it.
type Question struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Prompt           string       `json:"prompt"`
	Options          []Option     `json:"options,omitempty"`
	AnswerText       string       `json:"answerText,omitempty"`
	Answer           *Point       `json:"answer,omitempty"`
	AcceptanceRadius float64      `json:"acceptanceRadius,omitempty"`
	Points           int          `json:"points"`
	TimeLimit        int          `json:"timeLimit"` // seconds, advisory
}

// QuestionBank is an ordered collection of questions a session queue is
// populated from.
type QuestionBank struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// LeaderboardEntry is a derived ranked view of one participant.
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	ParticipantID   string  `json:"participantId"`
	DisplayName     string  `json:"displayName"`
	TotalScore      int     `json:"totalScore"`
	CorrectCount    int     `json:"correctCount"`
	AnsweredCount   int     `json:"answeredCount"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// Leaderboard is recomputed from participant rows; it is never a source of truth.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
