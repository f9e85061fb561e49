package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// ErrSessionNotFound is returned when no session matches the lookup
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines data access methods for interview sessions
type SessionRepository interface {
	Create(ctx context.Context, session *entities.InterviewSession) error
	GetByID(ctx context.Context, id string) (*entities.InterviewSession, error)
	Update(ctx context.Context, session *entities.InterviewSession) error
	ListByCandidate(ctx context.Context, candidateID string, limit int) ([]*entities.InterviewSession, error)
	// ExpireSessions marks active sessions not updated since the cutoff as expired
	ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error)
}
