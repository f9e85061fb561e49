package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careerpath/interviewcoach/server/internal/interview"
	"github.com/careerpath/interviewcoach/server/internal/speech"
	"github.com/careerpath/interviewcoach/server/internal/turn"
	"github.com/careerpath/interviewcoach/server/internal/websocket"
	"github.com/careerpath/interviewcoach/server/usecase"
)

var errInvalidAction = errors.New("action must be start or stop")

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{usecase.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{errInvalidAction, http.StatusBadRequest, "invalid_action"},
	{turn.ErrInvalidBudget, http.StatusBadRequest, "invalid_budget"},
	{turn.ErrEmptySubmission, http.StatusBadRequest, "empty_submission"},
	{usecase.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{turn.ErrTurnInFlight, http.StatusConflict, "turn_in_flight"},
	{turn.ErrSessionEnded, http.StatusConflict, "session_ended"},
	{turn.ErrNothingToRetry, http.StatusConflict, "nothing_to_retry"},
	{turn.ErrNotStarted, http.StatusConflict, "session_not_started"},
	{turn.ErrAlreadyStarted, http.StatusConflict, "session_already_started"},
	{speech.ErrSpeaking, http.StatusConflict, "interviewer_speaking"},
	{speech.ErrSessionInactive, http.StatusConflict, "session_inactive"},
	{speech.ErrCaptureUnavailable, http.StatusConflict, "capture_unavailable"},
	{interview.ErrNoClientMicrophone, http.StatusConflict, "capture_unavailable"},
	{interview.ErrNoActiveFeedback, http.StatusConflict, "no_active_feedback"},
	{usecase.ErrShuttingDown, http.StatusServiceUnavailable, "shutting_down"},
	{websocket.ErrHubStopped, http.StatusServiceUnavailable, "shutting_down"},
	{interview.ErrQueueFull, http.StatusServiceUnavailable, "session_busy"},
	{interview.ErrQueueTimeout, http.StatusServiceUnavailable, "session_busy"},
	{interview.ErrQueueClosed, http.StatusGone, "session_closed"},
}

// errorStatus maps a service error to an HTTP status and error code
func errorStatus(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(c echo.Context, err error) error {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: message})
}
