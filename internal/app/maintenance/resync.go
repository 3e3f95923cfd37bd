package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/provider"
	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/pkg/logger"
)

const (
	defaultSchedule   = "@every 15m"
	defaultStaleAfter = 30 * time.Minute
	defaultBatchSize  = 100
)

// Sweeper periodically reconciles stale sessions against the provider so
// sessions whose webhooks were lost still converge. Each sweep costs one
// provider API call per stale session, so deployments enable it explicitly.
type Sweeper struct {
	store    *services.SessionStore
	provider provider.Client
	cron     *cron.Cron
	log      *zap.Logger

	schedule   string
	staleAfter time.Duration
	batchSize  int
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for sweeps.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithStaleAfter adjusts how old a pending session must be before it is swept.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithBatchSize caps how many sessions one sweep reconciles.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(store *services.SessionStore, client provider.Client, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("sweeper: session store is required")
	}
	if client == nil {
		return nil, errors.New("sweeper: provider client is required")
	}

	sweeper := &Sweeper{
		store:      store,
		provider:   client,
		schedule:   defaultSchedule,
		staleAfter: defaultStaleAfter,
		batchSize:  defaultBatchSize,
		log:        logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper, nil
}

// Start registers the sweep job with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("resync sweep finished with errors", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("sweeper: register job: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce reconciles one batch of stale sessions. Per-session failures are
// aggregated so one unreachable session does not stop the batch.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stale, err := s.store.ListStale(ctx, s.staleAfter, s.batchSize)
	if err != nil {
		return fmt.Errorf("sweeper: list stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	resynced := 0

	for _, session := range stale {
		remote, err := s.provider.GetSession(ctx, session.SessionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.SessionID, err))
			continue
		}

		status := models.SessionStatus(remote.Status)
		if !status.Valid() {
			s.log.Warn("provider reported unknown status during sweep",
				zap.String("session_id", session.SessionID),
				zap.String("status", remote.Status))
			continue
		}

		changed, err := s.store.Resync(ctx, session.SessionID, status)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.SessionID, err))
			continue
		}
		if changed {
			resynced++
		}
	}

	s.log.Info("resync sweep complete",
		zap.Int("stale", len(stale)),
		zap.Int("resynced", resynced))

	return errs
}
