package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/adapters/llm"
	"github.com/careerpath/interviewcoach/server/adapters/memory"
	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/auth"
	"github.com/careerpath/interviewcoach/server/internal/interview"
	"github.com/careerpath/interviewcoach/server/internal/turn"
	"github.com/careerpath/interviewcoach/server/internal/websocket"
	"github.com/careerpath/interviewcoach/server/usecase"
)

type apiFixture struct {
	e      *echo.Echo
	svc    *usecase.InterviewService
	issuer *auth.Issuer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	cfg := interview.DefaultConfig()
	cfg.LoopInterval = 0
	svc, err := usecase.NewInterviewService(cfg, usecase.Dependencies{
		Backend:  llm.NewMockInterviewer(),
		Sessions: memory.NewSessionRepository(),
		Issuer:   issuer,
	}, time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	hub := websocket.NewHub(svc, websocket.DefaultConfig(), logger)
	e := echo.New()
	InitRoutes(e, svc, issuer, hub, logger)
	return &apiFixture{e: e, svc: svc, issuer: issuer}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) start(t *testing.T) StartInterviewResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/interviews", "",
		`{"candidate_id":"cand-1","candidate_name":"Ada","target_role":"backend engineer","budget_minutes":5,"muted":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res StartInterviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) interview.State {
	t.Helper()
	var st interview.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var res ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Error
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStartInterview(t *testing.T) {
	f := newAPIFixture(t)
	res := f.start(t)

	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, float64(300), res.BudgetSeconds)

	rec := f.do(t, http.MethodGet, "/api/v1/interviews/"+res.SessionID, res.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeState(t, rec)
	assert.Equal(t, res.SessionID, st.SessionID)
	assert.True(t, st.Muted)
}

func TestStartInterviewValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/interviews", "", `{"candidate_id":"cand-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/interviews", "", `{"candidate_id":"cand-1","candidate_name":"Ada","budget_minutes":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/interviews", "", `{"candidate_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionAuth(t *testing.T) {
	f := newAPIFixture(t)
	first := f.start(t)
	second := f.start(t)

	rec := f.do(t, http.MethodGet, "/api/v1/interviews/"+first.SessionID, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/v1/interviews/"+first.SessionID, "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/interviews/"+first.SessionID, second.Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "session_mismatch", errorCode(t, rec))

	token, _, err := f.issuer.GenerateSessionToken("0123456789abcdef01234567", "cand-1")
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, "/api/v1/interviews/0123456789abcdef01234567", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session_not_found", errorCode(t, rec))
}

func TestSubmitRetryAndEnd(t *testing.T) {
	f := newAPIFixture(t)
	res := f.start(t)
	path := "/api/v1/interviews/" + res.SessionID

	require.Eventually(t, func() bool {
		st, err := f.svc.State(res.SessionID)
		return err == nil && len(st.Turns) == 1 && !st.AwaitingReply
	}, 2*time.Second, 5*time.Millisecond)

	rec := f.do(t, http.MethodPost, path+"/submit", res.Token, `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_submission", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, path+"/submit", res.Token, `{"text":"I design storage systems."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		st, _ := f.svc.State(res.SessionID)
		return len(st.Turns) == 3
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodPost, path+"/retry", res.Token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nothing_to_retry", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, path+"/feedback/dismiss", res.Token, `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, path+"/listen", res.Token, `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path+"/end", res.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeState(t, rec)
	assert.Equal(t, entities.SessionStatusTerminated, st.Status)

	rec = f.do(t, http.MethodPost, path+"/submit", res.Token, `{"text":"late answer"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_ended", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, path+"/report", res.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report entities.InterviewSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TurnCount)
	assert.Equal(t, entities.EndReasonCandidateEnded, report.EndReason)
	require.NotNil(t, report.Report)

	rec = f.do(t, http.MethodGet, "/api/v1/interviews?limit=5", res.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Sessions, 1)
}

func TestListenWithoutMicrophone(t *testing.T) {
	f := newAPIFixture(t)
	res := f.start(t)

	rec := f.do(t, http.MethodPost, "/api/v1/interviews/"+res.SessionID+"/listen", res.Token, `{"action":"start"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capture_unavailable", errorCode(t, rec))
}

func TestWebsocketRequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	status, code := errorStatus(turn.ErrTurnInFlight)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "turn_in_flight", code)

	status, _ = errorStatus(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
}
