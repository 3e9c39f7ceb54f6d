package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionCleaner deletes expired sessions and reports how many went.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// SessionSweeper purges expired sessions on a fixed interval so the table
// does not grow with sessions nobody presents again.
type SessionSweeper struct {
	cleaner  SessionCleaner
	interval time.Duration
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	cancelCtx context.CancelFunc
}

func NewSessionSweeper(cleaner SessionCleaner, interval time.Duration, logger *zap.SugaredLogger) *SessionSweeper {
	return &SessionSweeper{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *SessionSweeper) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Infow("Starting session sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("Session sweeper stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	n, err := s.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		// the store may still be uninitialized; retry on the next tick
		s.logger.Warnw("Session sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("Expired sessions purged", "count", n)
	}
}
