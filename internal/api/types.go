package api

import (
	"time"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// StartInterviewRequest represents the request payload for starting an interview
type StartInterviewRequest struct {
	CandidateID    string `json:"candidate_id" validate:"required"`
	CandidateName  string `json:"candidate_name" validate:"required"`
	CandidateEmail string `json:"candidate_email,omitempty"`
	TargetRole     string `json:"target_role"`
	Language       string `json:"language,omitempty"`
	// BudgetMinutes of zero selects the default budget
	BudgetMinutes int  `json:"budget_minutes"`
	Muted         bool `json:"muted"`
}

// StartInterviewResponse represents the response payload for a started interview
type StartInterviewResponse struct {
	SessionID     string    `json:"session_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	BudgetSeconds float64   `json:"budget_seconds"`
}

// ListenRequest opens or closes the microphone
type ListenRequest struct {
	Action string `json:"action" validate:"required,oneof=start stop"`
}

// SubmitRequest submits an answer. Empty text submits the buffered transcript.
type SubmitRequest struct {
	Text string `json:"text"`
}

// DismissFeedbackRequest hides the shown feedback message. Empty id matches any.
type DismissFeedbackRequest struct {
	ID string `json:"id"`
}

// HistoryResponse lists a candidate's interviews
type HistoryResponse struct {
	Sessions []*entities.InterviewSession `json:"sessions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
