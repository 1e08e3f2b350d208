package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/source"
	"github.com/tendhunt/data-sync-service/internal/storage"
)

// ErrRunInProgress is returned when a run is requested for a source that is
// already being synced. Runs against the same source must be serialized;
// checkpoint writes would race otherwise.
var ErrRunInProgress = errors.New("sync run already in progress for source")

// Runner is the invocation surface exposed to the scheduler and operators.
// It builds a fresh adapter instance for every run (adapters hold per-run
// continuation state and must never be shared) and guarantees at most one
// in-flight run per source within this process.
type Runner struct {
	store storage.Store
	cfg   config.SyncConfig
	log   zerolog.Logger

	locks map[models.Source]*gosync.Mutex
}

// NewRunner creates a runner over the given store and sync configuration.
func NewRunner(store storage.Store, cfg config.SyncConfig, log zerolog.Logger) *Runner {
	locks := make(map[models.Source]*gosync.Mutex)
	for _, src := range models.Sources() {
		locks[src] = &gosync.Mutex{}
	}
	return &Runner{store: store, cfg: cfg, log: log, locks: locks}
}

// Run executes one bounded sync invocation for a source and reports the
// summary. It is synchronous: it returns only when the run has completed or
// failed. A concurrent call for the same source fails with ErrRunInProgress.
func (r *Runner) Run(ctx context.Context, src models.Source) (models.RunSummary, error) {
	lock, ok := r.locks[src]
	if !ok {
		return models.RunSummary{}, fmt.Errorf("unknown source %q", src)
	}
	if !lock.TryLock() {
		return models.RunSummary{}, fmt.Errorf("%w: %s", ErrRunInProgress, src)
	}
	defer lock.Unlock()

	runLog := r.log.With().
		Str("run_id", uuid.NewString()).
		Str("source", string(src)).
		Logger()

	adapter, backfillStart, maxItems := r.build(src)
	engine := NewEngine(r.store, maxItems, runLog)

	return engine.Run(ctx, src, adapter, backfillStart)
}

// RunAll syncs every source sequentially, Find a Tender first, and returns
// the per-source summaries. Individual source failures do not stop the
// remaining sources; the first error is returned after all have run.
func (r *Runner) RunAll(ctx context.Context) (map[models.Source]models.RunSummary, error) {
	summaries := make(map[models.Source]models.RunSummary)
	var firstErr error

	for _, src := range models.Sources() {
		summary, err := r.Run(ctx, src)
		summaries[src] = summary
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sync %s: %w", src, err)
		}
	}
	return summaries, firstErr
}

// build assembles a fresh adapter and the per-source run parameters.
func (r *Runner) build(src models.Source) (source.Adapter, time.Time, int) {
	client := source.NewClient(r.cfg.HTTPTimeout, r.cfg.RetryCount, r.cfg.RequestsPerSecond, r.log)
	maxItems := r.cfg.MaxItems(string(src))

	if src == models.SourceFindATender {
		return source.NewFindATender(client, r.cfg.FindATenderBaseURL, r.cfg.FatBackfillStart),
			r.cfg.FatBackfillStart, maxItems
	}
	return source.NewContractsFinder(client, r.cfg.ContractsFinderBaseURL, r.cfg.CfBackfillStart),
		r.cfg.CfBackfillStart, maxItems
}
