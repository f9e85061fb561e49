package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

// SessionRepository is an in-memory implementation of SessionRepository
// for development and tests. Stored sessions are copies.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.InterviewSession // hex id -> session
	now      func() time.Time
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*entities.InterviewSession),
		now:      time.Now,
	}
}

// Create implements repositories.SessionRepository
func (m *SessionRepository) Create(ctx context.Context, session *entities.InterviewSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID()] = session.Clone()
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *SessionRepository) GetByID(ctx context.Context, id string) (*entities.InterviewSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update implements repositories.SessionRepository
func (m *SessionRepository) Update(ctx context.Context, session *entities.InterviewSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.SessionID()]; !exists {
		return repositories.ErrSessionNotFound
	}
	m.sessions[session.SessionID()] = session.Clone()
	return nil
}

// ListByCandidate implements repositories.SessionRepository
func (m *SessionRepository) ListByCandidate(ctx context.Context, candidateID string, limit int) ([]*entities.InterviewSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*entities.InterviewSession
	for _, session := range m.sessions {
		if session.Candidate.ID == candidateID {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ExpireSessions implements repositories.SessionRepository
func (m *SessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired int64
	for _, session := range m.sessions {
		if session.IsActive() && session.UpdatedAt.Before(cutoff) {
			session.Expire(now)
			expired++
		}
	}
	return expired, nil
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)
