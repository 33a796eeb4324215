package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// Scheduler drives the sweeps on wall-clock schedules: the expiration sweep
// daily at a configured hour, the tier evaluation monthly on a configured
// day. It wakes at the configured check interval and runs whatever is due.
type Scheduler struct {
	expiration *ExpirationSweep
	tier       *TierSweep
	cfg        domain.SweepConfig
	logger     *slog.Logger
	now        func() time.Time

	lastExpirationDay string // YYYY-MM-DD of the last expiration run
	lastTierEvalMonth string // YYYY-MM of the last tier evaluation
	cancel            context.CancelFunc
	done              chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(expiration *ExpirationSweep, tier *TierSweep, cfg domain.SweepConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	return &Scheduler{
		expiration: expiration,
		tier:       tier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()

		s.logger.Info("sweep scheduler started",
			"check_interval", s.cfg.CheckInterval,
			"expiration_hour", s.cfg.ExpirationHour,
			"tier_evaluation_day", s.cfg.TierEvaluationDay,
		)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweep scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// tick runs whichever sweeps are due at the current wall-clock time.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	day := now.Format("2006-01-02")
	if now.Hour() == s.cfg.ExpirationHour && s.lastExpirationDay != day {
		s.lastExpirationDay = day
		if _, err := s.expiration.Run(ctx); err != nil {
			s.logger.Error("expiration sweep failed", "error", err)
		}
	}

	month := now.Format("2006-01")
	if now.Day() == s.cfg.TierEvaluationDay && s.lastTierEvalMonth != month {
		s.lastTierEvalMonth = month
		if _, err := s.tier.Run(ctx); err != nil {
			s.logger.Error("tier evaluation failed", "error", err)
		}
	}
}
