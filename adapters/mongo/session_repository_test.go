package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

// TestSessionRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestSessionRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewClient(ctx, Config{URI: mongoURI, Database: "interviewcoach_test"}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Close(ctx)
	defer client.Database.Drop(ctx)

	repo := NewSessionRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	candidate := entities.Candidate{ID: "cand-int-1", Name: "Ada"}

	t.Run("CreateAndGetSession", func(t *testing.T) {
		session := entities.NewInterviewSession(candidate, "backend engineer", 15*time.Minute, now)
		session.AddMessage(entities.MessageRoleInterviewer, "Tell me about yourself.", now, entities.SessionMessageMetadata{Opening: true})

		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		retrieved, err := repo.GetByID(ctx, session.SessionID())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if retrieved.Candidate.ID != candidate.ID {
			t.Errorf("Expected candidate ID %s, got %s", candidate.ID, retrieved.Candidate.ID)
		}
		if len(retrieved.Messages) != 1 || !retrieved.Messages[0].Metadata.Opening {
			t.Errorf("Expected the opening message, got %+v", retrieved.Messages)
		}
	})

	t.Run("UpdateWithReport", func(t *testing.T) {
		session := entities.NewInterviewSession(candidate, "", time.Minute, now)
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		session.Elapsed = time.Minute
		session.Complete(entities.EndReasonBudgetExhausted, now.Add(time.Minute))
		session.Report = entities.NewSessionReport(entities.BehaviorSnapshot{}, 2)
		if err := repo.Update(ctx, session); err != nil {
			t.Fatalf("Failed to update session: %v", err)
		}

		retrieved, err := repo.GetByID(ctx, session.SessionID())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if retrieved.Status != entities.SessionStatusComplete || retrieved.Report == nil || retrieved.Report.FeedbackCount != 2 {
			t.Errorf("Unexpected stored session %+v", retrieved)
		}
	})

	t.Run("ListAndExpire", func(t *testing.T) {
		stale := entities.NewInterviewSession(entities.Candidate{ID: "cand-int-2", Name: "Grace"}, "", time.Minute, now.Add(-time.Hour))
		if err := repo.Create(ctx, stale); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		sessions, err := repo.ListByCandidate(ctx, "cand-int-2", 10)
		if err != nil || len(sessions) != 1 {
			t.Fatalf("Expected 1 session, got %d (%v)", len(sessions), err)
		}

		expired, err := repo.ExpireSessions(ctx, now.Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("Failed to expire sessions: %v", err)
		}
		if expired != 1 {
			t.Errorf("Expected 1 expired session, got %d", expired)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "not-an-id"); !errors.Is(err, repositories.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}
