package repositories

import (
	"context"
	"time"
)

// DialogueBackend abstracts the interviewer model
type DialogueBackend interface {
	// Reply takes the conversation so far and returns the interviewer's next turn
	Reply(ctx context.Context, prompt DialoguePrompt) (string, error)
}

// DialoguePrompt is everything the backend needs to produce one interviewer turn
type DialoguePrompt struct {
	Context RoleContext   `json:"context"`
	History []ChatMessage `json:"history"`
	// Opening is set for the first question of a session, when History is empty.
	Opening bool `json:"opening"`
}

// RoleContext describes the interview the backend is conducting
type RoleContext struct {
	CandidateName string        `json:"candidate_name"`
	TargetRole    string        `json:"target_role"`
	Language      string        `json:"language"`
	TurnCount     int           `json:"turn_count"`
	Remaining     time.Duration `json:"remaining"`
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	CandidateRole   Role = "candidate"
	InterviewerRole Role = "interviewer"
	SystemRole      Role = "system"
)
