package session

import (
	"context"
	"time"

	"github.com/maplive/engine/internal/domain"
)

// Collaborator ports. Implementations live under internal/storage; the
// service only assumes the documented atomicity, never the engine behind it,
// because several stateless instances share one store.

// SessionStore persists sessions. Status changes are compare-and-swap: the
// update applies only when the current status is in from, so concurrent hosts
// on different instances cannot double-apply a transition.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, error)
	GetByCode(ctx context.Context, code string) (domain.Session, error)

	// CompareAndSwapStatus atomically moves the session from one of the given
	// statuses to the target and returns the updated row. It fails with
	// InvalidArgument when the current status is not in from.
	CompareAndSwapStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (domain.Session, error)

	// End completes the session and marks every active participant as left in
	// the same atomic unit.
	End(ctx context.Context, id string) (domain.Session, error)

	SetTotalParticipants(ctx context.Context, id string, total int) error
}

// ParticipantStore persists participant rows. Create enforces that an
// authenticated user holds at most one live participant per session.
type ParticipantStore interface {
	Create(ctx context.Context, p *domain.Participant) error
	Get(ctx context.Context, id string) (domain.Participant, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
	MarkLeft(ctx context.Context, id string, at time.Time) error
}

// QuestionQueueStore persists the ordered question queue. ActivateNext is the
// single-ACTIVE guardian: completing the current entry and activating the
// next is one atomic step.
type QuestionQueueStore interface {
	CreateBatch(ctx context.Context, qs []domain.SessionQuestion) error
	Get(ctx context.Context, id string) (domain.SessionQuestion, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
	GetActive(ctx context.Context, sessionID string) (domain.SessionQuestion, error)

	// ActivateNext completes the ACTIVE entry if any, then activates the
	// QUEUED entry with the lowest queue order. NotFound("NoMoreQuestions")
	// when the queue is exhausted.
	ActivateNext(ctx context.Context, sessionID string, at time.Time) (domain.SessionQuestion, error)

	// MarkSkipped moves the entry from ACTIVE to SKIPPED.
	MarkSkipped(ctx context.Context, id string, at time.Time) error

	// AddExtraSeconds extends the ACTIVE entry's effective time limit.
	AddExtraSeconds(ctx context.Context, id string, seconds int) (domain.SessionQuestion, error)
}

// ResponseStore persists graded responses. Commit is the double-credit
// barrier: the response insert, the participant stat update, the rank
// recomputation and the session response counter move as one atomic unit, and
// the (session question, participant) uniqueness is a storage constraint, not
// a check-then-insert. A duplicate fails with AlreadyExists.
type ResponseStore interface {
	Commit(ctx context.Context, r *domain.Response, stats domain.Participant) error
	ListByQuestion(ctx context.Context, sessionQuestionID string) ([]domain.Response, error)
}

// QuestionRepository loads read-only bank content.
type QuestionRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// IdentityProvider resolves the authenticated user for a connection token.
// An empty user id with a nil error means a guest.
type IdentityProvider interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context, token string) (string, error)

func (f IdentityFunc) Resolve(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}
