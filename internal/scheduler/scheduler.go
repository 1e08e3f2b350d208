// Package scheduler runs the sync pipeline on a fixed interval using cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	syncpkg "github.com/tendhunt/data-sync-service/internal/sync"
)

// Scheduler triggers a full sync of all sources on a fixed interval. The
// first run fires immediately on Start; cron handles the rest. Overlap
// protection lives in the runner, so a tick landing mid-run is rejected
// per source rather than queued.
type Scheduler struct {
	runner   *syncpkg.Runner
	interval time.Duration
	cron     *cron.Cron
	log      zerolog.Logger
}

// New creates a scheduler firing every interval.
func New(runner *syncpkg.Runner, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		cron:     cron.New(),
		log:      log,
	}
}

// Start registers the recurring job and kicks off the first run in the
// background.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("interval", s.interval.String()).Msg("scheduler started")

	go s.tick(ctx)
	return nil
}

// Stop stops the cron schedule and waits for any running tick to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	summaries, err := s.runner.RunAll(ctx)
	if err != nil && !errors.Is(err, syncpkg.ErrRunInProgress) {
		s.log.Error().Err(err).Msg("scheduled sync failed")
	}
	for src, summary := range summaries {
		s.log.Debug().
			Str("source", string(src)).
			Int("fetched", summary.Fetched).
			Int("errors", summary.Errors).
			Bool("done", summary.Done).
			Msg("scheduled sync summary")
	}
}
