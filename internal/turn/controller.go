// Package turn keeps the interview clock and sequences candidate and
// interviewer turns around the dialogue backend.
package turn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

const (
	DefaultTickInterval  = time.Second
	DefaultBudgetMinutes = 15
	MaxBudgetMinutes     = 120
)

var (
	ErrAlreadyStarted  = errors.New("turn: session already started")
	ErrNotStarted      = errors.New("turn: session not started")
	ErrSessionEnded    = errors.New("turn: session has ended")
	ErrTurnInFlight    = errors.New("turn: waiting for the interviewer reply")
	ErrEmptySubmission = errors.New("turn: submission is empty")
	ErrNothingToRetry  = errors.New("turn: no failed turn to retry")
	ErrStaleReply      = errors.New("turn: reply belongs to an earlier request")
	ErrEmptyReply      = errors.New("turn: dialogue backend returned an empty reply")
	ErrInvalidBudget   = errors.New("turn: invalid budget")
)

// Config configures the controller
type Config struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	DefaultBudgetMinutes int           `mapstructure:"default_budget_minutes"`
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:         DefaultTickInterval,
		DefaultBudgetMinutes: DefaultBudgetMinutes,
	}
}

// Validate validates the controller configuration
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.DefaultBudgetMinutes <= 0 || c.DefaultBudgetMinutes > MaxBudgetMinutes {
		return fmt.Errorf("default budget must be between 1 and %d minutes", MaxBudgetMinutes)
	}
	return nil
}

// Request is one dialogue backend call issued by the controller.
// Generation identifies it when the reply comes back.
type Request struct {
	Generation uint64
	Prompt     repositories.DialoguePrompt
}

// Controller owns the InterviewSession entity. It is not safe for concurrent
// use; the session loop owns it.
type Controller struct {
	cfg               Config
	session           *entities.InterviewSession
	onBudgetExhausted func(now time.Time)
	logger            *zap.Logger

	started    bool
	exhausted  bool
	generation uint64
	inFlight   bool
	// pending is set from the moment a request is issued until a reply is recorded.
	pending *pendingTurn
}

type pendingTurn struct {
	opening bool
	failed  bool
	err     error
}

// NewController creates a controller for the session
func NewController(cfg Config, session *entities.InterviewSession, onBudgetExhausted func(now time.Time), logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DefaultBudgetMinutes <= 0 {
		cfg.DefaultBudgetMinutes = DefaultBudgetMinutes
	}
	return &Controller{
		cfg:               cfg,
		session:           session,
		onBudgetExhausted: onBudgetExhausted,
		logger:            logger.With(zap.String("sessionID", session.SessionID())),
	}
}

// Start sets the budget and starts the clock. Zero minutes selects the default budget.
func (c *Controller) Start(now time.Time, budgetMinutes int) error {
	if c.started {
		return ErrAlreadyStarted
	}
	if budgetMinutes == 0 {
		budgetMinutes = c.cfg.DefaultBudgetMinutes
	}
	if budgetMinutes < 0 || budgetMinutes > MaxBudgetMinutes {
		return fmt.Errorf("%w: %d minutes", ErrInvalidBudget, budgetMinutes)
	}
	c.session.Budget = time.Duration(budgetMinutes) * time.Minute
	c.session.Elapsed = 0
	c.session.UpdatedAt = now
	c.started = true
	c.logger.Info("Interview clock started", zap.Duration("budget", c.session.Budget))
	return nil
}

// Tick advances the clock by one interval. It reports whether this tick exhausted the budget.
func (c *Controller) Tick(now time.Time) bool {
	if !c.started || !c.session.IsActive() {
		return false
	}
	c.session.Elapsed += c.cfg.TickInterval
	if c.session.Elapsed > c.session.Budget {
		c.session.Elapsed = c.session.Budget
	}
	if c.session.Remaining() > 0 || c.exhausted {
		return false
	}

	c.exhausted = true
	c.invalidate()
	c.session.Complete(entities.EndReasonBudgetExhausted, now)
	c.logger.Info("Interview budget exhausted",
		zap.Duration("elapsed", c.session.Elapsed),
		zap.Int("turnCount", c.session.TurnCount))
	if c.onBudgetExhausted != nil {
		c.onBudgetExhausted(now)
	}
	return true
}

// RecordTurn appends a message to the turn log
func (c *Controller) RecordTurn(now time.Time, role entities.MessageRole, content string, metadata entities.SessionMessageMetadata) {
	c.session.AddMessage(role, content, now, metadata)
}

// Opening issues the request for the interviewer's first question
func (c *Controller) Opening(now time.Time) (Request, error) {
	if err := c.ready(); err != nil {
		return Request{}, err
	}
	c.pending = &pendingTurn{opening: true}
	return c.issue(now), nil
}

// Submit records the candidate's answer and issues the next dialogue request.
// The answer stays in the log even if the request later fails.
func (c *Controller) Submit(now time.Time, text string, metadata entities.SessionMessageMetadata) (Request, error) {
	if err := c.ready(); err != nil {
		return Request{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Request{}, ErrEmptySubmission
	}

	c.RecordTurn(now, entities.MessageRoleCandidate, text, metadata)
	c.session.TurnCount++
	c.pending = &pendingTurn{}
	return c.issue(now), nil
}

// Retry reissues the request of a failed turn without recording anything new
func (c *Controller) Retry(now time.Time) (Request, error) {
	if err := c.ready(); err != nil {
		return Request{}, err
	}
	if c.pending == nil || !c.pending.failed {
		return Request{}, ErrNothingToRetry
	}
	c.pending.failed = false
	c.pending.err = nil
	return c.issue(now), nil
}

// Complete applies the result of a dialogue request. Stale results are
// rejected with ErrStaleReply and change nothing.
func (c *Controller) Complete(now time.Time, generation uint64, reply string, err error) error {
	if generation != c.generation || !c.inFlight || !c.session.IsActive() {
		c.logger.Debug("Discarding stale dialogue reply",
			zap.Uint64("generation", generation),
			zap.Uint64("currentGeneration", c.generation))
		return ErrStaleReply
	}
	c.inFlight = false

	reply = strings.TrimSpace(reply)
	if err == nil && reply == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		c.pending.failed = true
		c.pending.err = err
		c.logger.Warn("Dialogue backend failed", zap.Uint64("generation", generation), zap.Error(err))
		return err
	}

	c.RecordTurn(now, entities.MessageRoleInterviewer, reply, entities.SessionMessageMetadata{Opening: c.pending.opening})
	c.pending = nil
	return nil
}

// End stops the clock and invalidates any request still in flight
func (c *Controller) End(now time.Time, reason entities.EndReason) {
	c.invalidate()
	c.session.Terminate(reason, now)
}

func (c *Controller) ready() error {
	switch {
	case !c.started:
		return ErrNotStarted
	case !c.session.IsActive():
		return ErrSessionEnded
	case c.inFlight:
		return ErrTurnInFlight
	}
	return nil
}

func (c *Controller) issue(now time.Time) Request {
	c.generation++
	c.inFlight = true
	c.session.UpdatedAt = now
	return Request{Generation: c.generation, Prompt: c.prompt()}
}

func (c *Controller) invalidate() {
	c.generation++
	c.inFlight = false
	c.pending = nil
}

func (c *Controller) prompt() repositories.DialoguePrompt {
	history := make([]repositories.ChatMessage, 0, len(c.session.Messages))
	for _, m := range c.session.Messages {
		role := repositories.CandidateRole
		if m.Role == entities.MessageRoleInterviewer {
			role = repositories.InterviewerRole
		}
		history = append(history, repositories.ChatMessage{Role: role, Content: m.Content})
	}
	return repositories.DialoguePrompt{
		Context: repositories.RoleContext{
			CandidateName: c.session.Candidate.Name,
			TargetRole:    c.session.TargetRole,
			Language:      c.session.Language,
			TurnCount:     c.session.TurnCount,
			Remaining:     c.session.Remaining(),
		},
		History: history,
		Opening: c.pending != nil && c.pending.opening,
	}
}

// Session returns the controlled session. Callers must not mutate it.
func (c *Controller) Session() *entities.InterviewSession {
	return c.session
}

// Elapsed returns the time used so far
func (c *Controller) Elapsed() time.Duration {
	return c.session.Elapsed
}

// Remaining returns the unused budget, floored at zero
func (c *Controller) Remaining() time.Duration {
	return c.session.Remaining()
}

// InFlight reports whether a dialogue request is outstanding
func (c *Controller) InFlight() bool {
	return c.inFlight
}

// FailedTurn returns the error of a turn awaiting a user retry, or nil
func (c *Controller) FailedTurn() error {
	if c.pending == nil || !c.pending.failed {
		return nil
	}
	return c.pending.err
}

// Generation returns the token of the latest request
func (c *Controller) Generation() uint64 {
	return c.generation
}
