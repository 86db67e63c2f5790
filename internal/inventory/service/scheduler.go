package service

import (
	"context"
	"time"

	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// EvictionScheduler periodically closes inventory stores nobody used for a while.
type EvictionScheduler struct {
	ledger      *LedgerService
	interval    time.Duration
	idleTimeout time.Duration
	logger      *logger.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEvictionScheduler creates a new eviction scheduler
func NewEvictionScheduler(ledger *LedgerService, interval, idleTimeout time.Duration, log *logger.Logger) *EvictionScheduler {
	return &EvictionScheduler{
		ledger:      ledger,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      log,
	}
}

// Start starts the scheduler in a background goroutine.
func (s *EvictionScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().
			Dur("interval", s.interval).
			Dur("idle_timeout", s.idleTimeout).
			Msg("eviction scheduler started")

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("eviction scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for it to exit
func (s *EvictionScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *EvictionScheduler) runCycle(ctx context.Context) {
	start := time.Now()
	n := s.ledger.EvictIdle(ctx, start.Add(-s.idleTimeout))
	if n == 0 {
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("evicted", n).
		Int("open", s.ledger.Loaded()).
		Msg("idle inventory stores evicted")
}
