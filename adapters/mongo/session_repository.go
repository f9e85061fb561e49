package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

const sessionsCollection = "interview_sessions"

// SessionRepository implements repositories.SessionRepository using MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection(sessionsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup and cleanup indexes
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	// Index on candidate_id for history lookups
	candidateIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "candidate.id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	}

	// Index on status and updated_at for cleanup operations
	statusUpdatedIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "updated_at", Value: 1},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{candidateIndex, statusUpdatedIndex}); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	r.logger.Info("Session indexes created successfully")
	return nil
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session *entities.InterviewSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		r.logger.Error("Failed to create session", zap.Error(err), zap.String("candidateID", session.Candidate.ID))
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Info("Session created",
		zap.String("sessionID", session.SessionID()),
		zap.String("candidateID", session.Candidate.ID))
	return nil
}

// GetByID retrieves a session by its hex ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.InterviewSession, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repositories.ErrSessionNotFound
	}

	var session entities.InterviewSession
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		r.logger.Error("Failed to get session by ID", zap.Error(err), zap.String("sessionID", id))
		return nil, err
	}
	return &session, nil
}

// Update replaces the stored session
func (r *SessionRepository) Update(ctx context.Context, session *entities.InterviewSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": session.ID}, session)
	if err != nil {
		r.logger.Error("Failed to update session", zap.Error(err), zap.String("sessionID", session.SessionID()))
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrSessionNotFound
	}

	r.logger.Debug("Session updated", zap.String("sessionID", session.SessionID()))
	return nil
}

// ListByCandidate returns a candidate's sessions, most recent first
func (r *SessionRepository) ListByCandidate(ctx context.Context, candidateID string, limit int) ([]*entities.InterviewSession, error) {
	filter := bson.M{"candidate.id": candidateID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err), zap.String("candidateID", candidateID))
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*entities.InterviewSession
	for cursor.Next(ctx) {
		var session entities.InterviewSession
		if err := cursor.Decode(&session); err != nil {
			r.logger.Error("Failed to decode session", zap.Error(err))
			continue
		}
		sessions = append(sessions, &session)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ExpireSessions marks active sessions that stopped updating before cutoff as expired
func (r *SessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	filter := bson.M{
		"status":     entities.SessionStatusActive,
		"updated_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     entities.SessionStatusExpired,
			"end_reason": entities.EndReasonExpired,
			"ended_at":   now,
			"updated_at": now,
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire sessions", zap.Error(err))
		return 0, err
	}
	if result.ModifiedCount > 0 {
		r.logger.Info("Expired sessions", zap.Int64("count", result.ModifiedCount))
	}
	return result.ModifiedCount, nil
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)
