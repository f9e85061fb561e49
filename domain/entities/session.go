package entities

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus represents the status of an interview session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusComplete   SessionStatus = "complete"
	SessionStatusTerminated SessionStatus = "terminated"
	SessionStatusExpired    SessionStatus = "expired"
)

// EndReason records why a session stopped
type EndReason string

const (
	EndReasonBudgetExhausted EndReason = "budget_exhausted"
	EndReasonCandidateEnded  EndReason = "candidate_ended"
	EndReasonExpired         EndReason = "expired"
	EndReasonShutdown        EndReason = "shutdown"
	EndReasonStartFailed     EndReason = "start_failed"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleCandidate   MessageRole = "candidate"
	MessageRoleInterviewer MessageRole = "interviewer"
)

// SessionMessage represents one entry of the turn log
type SessionMessage struct {
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Role      MessageRole            `json:"role" bson:"role"`
	Content   string                 `json:"content" bson:"content"`
	Metadata  SessionMessageMetadata `json:"metadata" bson:"metadata"`
}

// SessionMessageMetadata contains additional metadata for a message
type SessionMessageMetadata struct {
	TranscriptionConfidence *float64 `json:"transcription_confidence,omitempty" bson:"transcription_confidence,omitempty"`
	AutoSubmitted           bool     `json:"auto_submitted,omitempty" bson:"auto_submitted,omitempty"`
	Opening                 bool     `json:"opening,omitempty" bson:"opening,omitempty"`
}

// DimensionReport is the final tally for one behavior dimension
type DimensionReport struct {
	Dimension             Dimension     `json:"dimension" bson:"dimension"`
	TransitionCount       int           `json:"transition_count" bson:"transition_count"`
	CumulativeBadDuration time.Duration `json:"cumulative_bad_duration" bson:"cumulative_bad_duration"`
}

// SessionReport summarizes behavior over the whole interview
type SessionReport struct {
	Dimensions    []DimensionReport `json:"dimensions" bson:"dimensions"`
	FeedbackCount int               `json:"feedback_count" bson:"feedback_count"`
}

// NewSessionReport builds a report from the final behavior snapshot
func NewSessionReport(snapshot BehaviorSnapshot, feedbackCount int) *SessionReport {
	report := &SessionReport{FeedbackCount: feedbackCount}
	for _, d := range Dimensions {
		m := snapshot.Metric(d)
		report.Dimensions = append(report.Dimensions, DimensionReport{
			Dimension:             d,
			TransitionCount:       m.TransitionCount,
			CumulativeBadDuration: m.CumulativeBadDuration,
		})
	}
	return report
}

// InterviewSession represents one mock interview between a candidate and the interviewer
type InterviewSession struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Candidate  Candidate          `json:"candidate" bson:"candidate"`
	TargetRole string             `json:"target_role" bson:"target_role"`
	Language   string             `json:"language" bson:"language"`
	Muted      bool               `json:"muted" bson:"muted"`
	Budget     time.Duration      `json:"budget" bson:"budget"`
	Elapsed    time.Duration      `json:"elapsed" bson:"elapsed"`
	TurnCount  int                `json:"turn_count" bson:"turn_count"`
	Messages   []SessionMessage   `json:"messages" bson:"messages"`
	Status     SessionStatus      `json:"status" bson:"status"`
	EndReason  EndReason          `json:"end_reason,omitempty" bson:"end_reason,omitempty"`
	Report     *SessionReport     `json:"report,omitempty" bson:"report,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
}

// NewInterviewSession creates a new active session
func NewInterviewSession(candidate Candidate, targetRole string, budget time.Duration, now time.Time) *InterviewSession {
	return &InterviewSession{
		ID:         primitive.NewObjectID(),
		Candidate:  candidate,
		TargetRole: targetRole,
		Language:   "en-US",
		Budget:     budget,
		Messages:   make([]SessionMessage, 0),
		Status:     SessionStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SessionID returns the public identifier of the session
func (s *InterviewSession) SessionID() string {
	return s.ID.Hex()
}

// AddMessage appends a message to the turn log
func (s *InterviewSession) AddMessage(role MessageRole, content string, now time.Time, metadata SessionMessageMetadata) {
	s.Messages = append(s.Messages, SessionMessage{
		Timestamp: now,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	})
	s.UpdatedAt = now
}

// Remaining returns the unused budget, floored at zero
func (s *InterviewSession) Remaining() time.Duration {
	if s.Elapsed >= s.Budget {
		return 0
	}
	return s.Budget - s.Elapsed
}

// IsActive reports whether the session still accepts turns
func (s *InterviewSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Complete marks the session as finished with the given reason
func (s *InterviewSession) Complete(reason EndReason, now time.Time) {
	s.finish(SessionStatusComplete, reason, now)
}

// Terminate marks the session as ended early
func (s *InterviewSession) Terminate(reason EndReason, now time.Time) {
	s.finish(SessionStatusTerminated, reason, now)
}

// Expire marks an abandoned session as expired
func (s *InterviewSession) Expire(now time.Time) {
	s.finish(SessionStatusExpired, EndReasonExpired, now)
}

func (s *InterviewSession) finish(status SessionStatus, reason EndReason, now time.Time) {
	if !s.IsActive() {
		return
	}
	s.Status = status
	s.EndReason = reason
	s.EndedAt = &now
	s.UpdatedAt = now
}

// History returns a copy of the turn log for dialogue context
func (s *InterviewSession) History() []SessionMessage {
	history := make([]SessionMessage, len(s.Messages))
	copy(history, s.Messages)
	return history
}

// Clone returns a deep copy safe to hand to another goroutine
func (s *InterviewSession) Clone() *InterviewSession {
	c := *s
	c.Messages = s.History()
	if s.Report != nil {
		report := *s.Report
		report.Dimensions = append([]DimensionReport(nil), s.Report.Dimensions...)
		c.Report = &report
	}
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		c.EndedAt = &endedAt
	}
	return &c
}

// Validate validates the session data
func (s *InterviewSession) Validate() error {
	if err := s.Candidate.Validate(); err != nil {
		return err
	}

	if s.Budget <= 0 {
		return errors.New("budget must be positive")
	}

	if s.Elapsed < 0 {
		return errors.New("elapsed cannot be negative")
	}

	switch s.Status {
	case SessionStatusActive, SessionStatusComplete, SessionStatusTerminated, SessionStatusExpired:
	default:
		return errors.New("invalid session status")
	}

	return nil
}
