package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/interview"
	"github.com/careerpath/interviewcoach/server/internal/websocket"
	"github.com/careerpath/interviewcoach/server/usecase"
)

const (
	serviceName         = "interviewcoach-server"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// InterviewService is the session registry behind the API
type InterviewService interface {
	StartInterview(ctx context.Context, req usecase.StartRequest) (*usecase.StartResult, error)
	Runtime(id string) (*interview.Runtime, error)
	State(id string) (*interview.State, error)
	End(id string) error
	Report(ctx context.Context, id string) (*entities.InterviewSession, error)
	History(ctx context.Context, candidateID string, limit int) ([]*entities.InterviewSession, error)
	Active() int
}

type handler struct {
	svc    InterviewService
	hub    *websocket.Hub
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, svc InterviewService, tokens TokenValidator, hub *websocket.Hub, logger *zap.Logger) {
	h := &handler{svc: svc, hub: hub, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"service":         serviceName,
			"active_sessions": svc.Active(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/interviews", h.startInterview)
	v1.GET("/interviews", h.history, sessionAuth(tokens, false, logger))

	session := v1.Group("/interviews/:id", sessionAuth(tokens, false, logger))
	session.GET("", h.state)
	session.POST("/listen", h.listen)
	session.POST("/submit", h.submit)
	session.POST("/retry", h.retry)
	session.POST("/feedback/dismiss", h.dismissFeedback)
	session.POST("/end", h.end)
	session.GET("/report", h.report)

	// WebSocket endpoint, token in the Authorization header or the token query parameter
	e.GET("/ws", h.connect, sessionAuth(tokens, true, logger))
}

func (h *handler) startInterview(c echo.Context) error {
	var req StartInterviewRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind start interview request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	res, err := h.svc.StartInterview(c.Request().Context(), usecase.StartRequest{
		CandidateID:   req.CandidateID,
		CandidateName: req.CandidateName,
		CandidateMail: req.CandidateEmail,
		TargetRole:    req.TargetRole,
		Language:      req.Language,
		BudgetMinutes: req.BudgetMinutes,
		Muted:         req.Muted,
	})
	if err != nil {
		h.logger.Warn("Failed to start interview", zap.String("candidateID", req.CandidateID), zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, StartInterviewResponse{
		SessionID:     res.SessionID,
		Token:         res.Token,
		ExpiresAt:     res.ExpiresAt,
		BudgetSeconds: res.BudgetSeconds,
	})
}

func (h *handler) history(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and 100",
			})
		}
		limit = n
	}

	sessions, err := h.svc.History(c.Request().Context(), claimsFrom(c).CandidateID, limit)
	if err != nil {
		return writeError(c, err)
	}
	if sessions == nil {
		sessions = []*entities.InterviewSession{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Sessions: sessions})
}

func (h *handler) state(c echo.Context) error {
	st, err := h.svc.State(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handler) listen(c echo.Context) error {
	var req ListenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}

	return h.withRuntime(c, func(rt *interview.Runtime) error {
		switch req.Action {
		case "start":
			return rt.StartListening()
		case "stop":
			return rt.StopListening()
		default:
			return errInvalidAction
		}
	})
}

func (h *handler) submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	return h.withRuntime(c, func(rt *interview.Runtime) error {
		return rt.Submit(req.Text)
	})
}

func (h *handler) retry(c echo.Context) error {
	return h.withRuntime(c, func(rt *interview.Runtime) error {
		return rt.Retry()
	})
}

func (h *handler) dismissFeedback(c echo.Context) error {
	var req DismissFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	return h.withRuntime(c, func(rt *interview.Runtime) error {
		return rt.DismissFeedback(req.ID)
	})
}

func (h *handler) end(c echo.Context) error {
	id := c.Param("id")
	if err := h.svc.End(id); err != nil {
		return writeError(c, err)
	}
	h.logger.Info("Interview ended by candidate", zap.String("sessionID", id))
	return h.state(c)
}

func (h *handler) report(c echo.Context) error {
	session, err := h.svc.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// connect attaches a realtime client to the session named by its token
func (h *handler) connect(c echo.Context) error {
	claims := claimsFrom(c)
	h.logger.Info("WebSocket connection authenticated",
		zap.String("sessionID", claims.SessionID()),
		zap.String("candidateID", claims.CandidateID))

	if err := websocket.HandleWebSocketWithAuth(h.hub, c, claims.SessionID(), h.logger); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) || errors.Is(err, websocket.ErrHubStopped) {
			return writeError(c, err)
		}
		// The upgrade already wrote the response.
		return nil
	}
	return nil
}

// withRuntime runs a session command and answers with the resulting state
func (h *handler) withRuntime(c echo.Context, fn func(rt *interview.Runtime) error) error {
	rt, err := h.svc.Runtime(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := fn(rt); err != nil {
		h.logger.Debug("Session command rejected",
			zap.String("sessionID", rt.ID()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rt.State())
}
