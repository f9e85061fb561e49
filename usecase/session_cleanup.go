package usecase

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often ended sessions are swept
const DefaultCleanupInterval = time.Minute

// Sweeper evicts ended sessions and expires abandoned ones
type Sweeper interface {
	Sweep(ctx context.Context) (evicted int, expired int64, err error)
}

// SessionCleanupService runs the periodic session sweep
type SessionCleanupService struct {
	sweeper  Sweeper
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(sweeper Sweeper, interval time.Duration, clk clock.Clock, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCleanupService{
		sweeper:  sweeper,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *SessionCleanupService) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Session cleanup service started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cleanup service stopped")
			return nil
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// runCleanup performs one sweep
func (s *SessionCleanupService) runCleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	evicted, expired, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Session cleanup failed", zap.Error(err))
	}
	if evicted > 0 || expired > 0 {
		s.logger.Info("Session cleanup completed",
			zap.Int("evicted", evicted),
			zap.Int64("expired", expired))
	}
}
