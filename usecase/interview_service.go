package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
	"github.com/careerpath/interviewcoach/server/internal/auth"
	"github.com/careerpath/interviewcoach/server/internal/interview"
	"github.com/careerpath/interviewcoach/server/internal/turn"
)

const (
	// DefaultRetention keeps ended sessions reachable for the final state and report
	DefaultRetention = 30 * time.Minute
	persistTimeout   = 5 * time.Second
)

var (
	ErrSessionNotFound = errors.New("interview session not found")
	ErrInvalidRequest  = errors.New("invalid interview request")
	ErrShuttingDown    = errors.New("interview service is shutting down")
)

// Dependencies are the adapters shared by every session
type Dependencies struct {
	Backend     repositories.DialogueBackend
	Recognizer  repositories.SpeechToText
	Synthesizer repositories.TextToSpeech
	Sessions    repositories.SessionRepository
	Issuer      *auth.Issuer
	Clock       clock.Clock
}

// StartRequest describes a new interview
type StartRequest struct {
	CandidateID   string
	CandidateName string
	CandidateMail string
	TargetRole    string
	Language      string
	BudgetMinutes int
	Muted         bool
}

// Validate validates the request
func (r StartRequest) Validate() error {
	if r.BudgetMinutes < 0 || r.BudgetMinutes > turn.MaxBudgetMinutes {
		return fmt.Errorf("%w: budget must be between 0 and %d minutes", ErrInvalidRequest, turn.MaxBudgetMinutes)
	}
	candidate := entities.Candidate{ID: r.CandidateID, Name: r.CandidateName}
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// StartResult is returned to the candidate that started an interview
type StartResult struct {
	SessionID     string
	Token         string
	ExpiresAt     time.Time
	BudgetSeconds float64
}

type liveSession struct {
	runtime *interview.Runtime
	endedAt time.Time
	// closed once the final report has been stored
	stored chan struct{}
}

// InterviewService owns every live interview runtime
type InterviewService struct {
	cfg       interview.Config
	deps      Dependencies
	retention time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closing  bool

	startRuntime func(rt *interview.Runtime, budgetMinutes int) error
}

// NewInterviewService creates the service
func NewInterviewService(cfg interview.Config, deps Dependencies, retention time.Duration, logger *zap.Logger) (*InterviewService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Backend == nil {
		return nil, interview.ErrNoBackend
	}
	if deps.Sessions == nil {
		return nil, errors.New("session repository is required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InterviewService{
		cfg:       cfg,
		deps:      deps,
		retention: retention,
		logger:    logger,
		sessions:  make(map[string]*liveSession),
		startRuntime: func(rt *interview.Runtime, budgetMinutes int) error {
			return rt.Start(budgetMinutes)
		},
	}, nil
}

// StartInterview persists a new session, starts its runtime and issues the session token
func (s *InterviewService) StartInterview(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		return nil, ErrShuttingDown
	}

	minutes := req.BudgetMinutes
	if minutes == 0 {
		minutes = s.cfg.Turn.DefaultBudgetMinutes
	}
	candidate := entities.Candidate{
		ID:    strings.TrimSpace(req.CandidateID),
		Name:  strings.TrimSpace(req.CandidateName),
		Email: req.CandidateMail,
	}
	session := entities.NewInterviewSession(candidate, req.TargetRole, time.Duration(minutes)*time.Minute, s.deps.Clock.Now())
	session.Muted = req.Muted
	if req.Language != "" {
		session.Language = req.Language
	}

	if err := s.deps.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	id := session.SessionID()

	token, expiresAt, err := s.deps.Issuer.GenerateSessionToken(id, candidate.ID)
	if err != nil {
		s.abandon(session, err)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	cfg := s.cfg
	if session.Language != "" {
		cfg.Audio.Language = session.Language
	}
	rt, err := interview.NewRuntime(session, interview.Options{
		Config:      cfg,
		Backend:     s.deps.Backend,
		Recognizer:  s.deps.Recognizer,
		Synthesizer: s.deps.Synthesizer,
		Clock:       s.deps.Clock,
		Logger:      s.logger.Named("interview"),
		OnEnd:       s.onEnd,
	})
	if err != nil {
		s.abandon(session, err)
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}

	s.mu.Lock()
	s.sessions[id] = &liveSession{runtime: rt, stored: make(chan struct{})}
	s.mu.Unlock()

	if err := s.startRuntime(rt, minutes); err != nil {
		// The loop is stopped once removed, so the session is ours again.
		s.remove(id)
		s.abandon(session, err)
		return nil, fmt.Errorf("failed to start interview: %w", err)
	}

	s.logger.Info("Interview started",
		zap.String("sessionID", id),
		zap.String("candidateID", candidate.ID),
		zap.Int("budgetMinutes", minutes),
		zap.Bool("muted", req.Muted))

	return &StartResult{
		SessionID:     id,
		Token:         token,
		ExpiresAt:     expiresAt,
		BudgetSeconds: (time.Duration(minutes) * time.Minute).Seconds(),
	}, nil
}

// Runtime returns the live runtime of a session
func (s *InterviewService) Runtime(id string) (*interview.Runtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live.runtime, nil
}

// State returns the published state of a live or recently ended session
func (s *InterviewService) State(id string) (*interview.State, error) {
	rt, err := s.Runtime(id)
	if err != nil {
		return nil, err
	}
	return rt.State(), nil
}

// End ends a session on the candidate's request
func (s *InterviewService) End(id string) error {
	rt, err := s.Runtime(id)
	if err != nil {
		return err
	}
	return rt.End(entities.EndReasonCandidateEnded)
}

// Report returns the stored session document. Live sessions are returned as of now.
func (s *InterviewService) Report(ctx context.Context, id string) (*entities.InterviewSession, error) {
	s.mu.RLock()
	live, ok := s.sessions[id]
	s.mu.RUnlock()

	if ok {
		if !live.runtime.Ended() {
			return live.runtime.Snapshot()
		}
		select {
		case <-live.stored:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	session, err := s.deps.Sessions.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// History lists the stored sessions of a candidate, newest first
func (s *InterviewService) History(ctx context.Context, candidateID string, limit int) ([]*entities.InterviewSession, error) {
	return s.deps.Sessions.ListByCandidate(ctx, candidateID, limit)
}

// Active returns the number of sessions that have not ended
func (s *InterviewService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, live := range s.sessions {
		if live.endedAt.IsZero() {
			n++
		}
	}
	return n
}

// Sweep checkpoints live sessions, evicts sessions ended longer than the
// retention window ago and expires stored sessions that stopped updating.
func (s *InterviewService) Sweep(ctx context.Context) (evicted int, expired int64, err error) {
	now := s.deps.Clock.Now()

	var live []*interview.Runtime
	var stale []*interview.Runtime
	s.mu.Lock()
	for id, entry := range s.sessions {
		switch {
		case entry.endedAt.IsZero():
			live = append(live, entry.runtime)
		case now.Sub(entry.endedAt) >= s.retention:
			stale = append(stale, entry.runtime)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, rt := range stale {
		rt.Close()
		s.logger.Debug("Evicted ended session", zap.String("sessionID", rt.ID()))
	}

	for _, rt := range live {
		snapshot, snapErr := rt.Snapshot()
		if snapErr != nil || !snapshot.IsActive() {
			continue
		}
		if updateErr := s.deps.Sessions.Update(ctx, snapshot); updateErr != nil {
			err = multierr.Append(err, fmt.Errorf("checkpoint %s: %w", rt.ID(), updateErr))
		}
	}

	expired, expireErr := s.deps.Sessions.ExpireSessions(ctx, now.Add(-s.retention))
	err = multierr.Append(err, expireErr)
	return len(stale), expired, err
}

// Shutdown ends every live session and waits for the final reports to be stored
func (s *InterviewService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*liveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		sessions = append(sessions, live)
	}
	s.mu.Unlock()

	var err error
	for _, live := range sessions {
		if live.runtime.Ended() {
			continue
		}
		if endErr := live.runtime.End(entities.EndReasonShutdown); endErr != nil {
			err = multierr.Append(err, fmt.Errorf("end %s: %w", live.runtime.ID(), endErr))
		}
	}

	for _, live := range sessions {
		select {
		case <-live.stored:
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("report of %s not stored: %w", live.runtime.ID(), ctx.Err()))
		}
		live.runtime.Close()
	}

	s.logger.Info("Interview service stopped", zap.Int("sessions", len(sessions)))
	return err
}

func (s *InterviewService) onEnd(session *entities.InterviewSession) {
	id := session.SessionID()

	s.mu.Lock()
	live, ok := s.sessions[id]
	if ok {
		live.endedAt = s.deps.Clock.Now()
	}
	s.mu.Unlock()
	if ok {
		defer close(live.stored)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.deps.Sessions.Update(ctx, session); err != nil {
		s.logger.Error("Failed to store session report",
			zap.String("sessionID", id),
			zap.Error(err))
		return
	}
	s.logger.Info("Session report stored",
		zap.String("sessionID", id),
		zap.String("status", string(session.Status)),
		zap.Int("turnCount", session.TurnCount))
}

// abandon marks a stored session that never got running as terminated
func (s *InterviewService) abandon(session *entities.InterviewSession, cause error) {
	id := session.SessionID()
	session.Terminate(entities.EndReasonStartFailed, s.deps.Clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.deps.Sessions.Update(ctx, session); err != nil {
		s.logger.Error("Failed to terminate unstarted session",
			zap.String("sessionID", id),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.logger.Warn("Interview failed to start",
		zap.String("sessionID", id),
		zap.Error(cause))
}

func (s *InterviewService) remove(id string) {
	s.mu.Lock()
	live, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		live.runtime.Close()
	}
}
