// Package sync contains the incremental ingestion engine: the orchestrator
// that drives paged fetching through a source adapter, maps raw releases,
// writes them through the persistence gateway, and checkpoints job state
// after every page.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tendhunt/data-sync-service/internal/mapper"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/observability"
	"github.com/tendhunt/data-sync-service/internal/source"
	"github.com/tendhunt/data-sync-service/internal/storage"
)

// Engine processes one bounded sync invocation for a single source.
//
// A backfilling job crawls history by cursor alone; a syncing job starts
// cursorless every run with lastSyncedDate as the date floor. A job left in
// the error state resumes backfilling when a cursor was in flight, and
// date-floor syncing otherwise.
type Engine struct {
	store    storage.Store
	gateway  *Gateway
	maxItems int
	log      zerolog.Logger
}

// NewEngine creates an engine bounded to maxItems fetched per invocation.
func NewEngine(store storage.Store, maxItems int, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		gateway:  NewGateway(store),
		maxItems: maxItems,
		log:      log,
	}
}

// Run drives the page loop for one source until the source is drained, the
// item budget is spent, or a fatal error occurs. The cursor is checkpointed
// after every page and before the next fetch, so a crash at any point loses
// at most one page of progress, which the idempotent upsert absorbs on the
// next run.
func (e *Engine) Run(ctx context.Context, src models.Source, adapter source.Adapter, backfillStart time.Time) (models.RunSummary, error) {
	job, err := e.store.GetOrCreateSyncJob(ctx, src, backfillStart)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to load sync job: %w", err)
	}

	isBackfill := job.Status == models.SyncBackfilling
	if job.Status == models.SyncError {
		isBackfill = job.Cursor != ""
	}

	var dateFrom time.Time
	cursor := job.Cursor
	if !isBackfill {
		cursor = ""
		if job.LastSyncedDate != nil {
			dateFrom = *job.LastSyncedDate
		}
	}

	e.log.Info().
		Str("source", string(src)).
		Bool("backfill", isBackfill).
		Str("cursor", cursor).
		Msg("sync run started")

	summary := models.RunSummary{}

	fail := func(stage string, cause error) (models.RunSummary, error) {
		wrapped := fmt.Errorf("%s: %w", stage, cause)
		if markErr := e.store.MarkSyncError(ctx, src, wrapped.Error()); markErr != nil {
			e.log.Error().Err(markErr).Str("source", string(src)).Msg("failed to record sync error")
		}
		observability.Runs.WithLabelValues(string(src), "error").Inc()
		return summary, wrapped
	}

	for summary.Fetched < e.maxItems {
		page, err := adapter.FetchPage(ctx, cursor, dateFrom)
		if err != nil {
			return fail("fetch page", err)
		}

		batch, errorMessages := e.mapPage(src, page.Releases)
		summary.Errors += len(errorMessages)

		if len(batch) > 0 {
			if _, err := e.gateway.UpsertNotices(ctx, batch); err != nil {
				return fail("upsert notices", err)
			}
			created, err := e.gateway.ExtractOrganizations(ctx, batch)
			if err != nil {
				return fail("extract organizations", err)
			}
			observability.OrganizationsCreated.WithLabelValues(string(src)).Add(float64(created))
		}

		summary.Fetched += len(page.Releases)
		cursor = page.NextCursor
		observability.ReleasesFetched.WithLabelValues(string(src)).Add(float64(len(page.Releases)))

		// Checkpoint before the next fetch; this is what makes the run
		// resumable after a crash.
		err = e.store.UpdateSyncProgress(ctx, src, storage.Progress{
			Cursor:        cursor,
			TotalFetched:  job.TotalFetched + int64(summary.Fetched),
			RunFetched:    summary.Fetched,
			RunErrors:     summary.Errors,
			ErrorMessages: errorMessages,
		})
		if err != nil {
			return fail("checkpoint progress", err)
		}

		// Only an empty cursor means the source is drained. A zero-release
		// page can still carry a handoff cursor from a stage-split adapter,
		// which is followed like any other.
		if cursor == "" {
			summary.Done = true
			break
		}
	}

	if summary.Done && isBackfill {
		if err := e.store.MarkSyncComplete(ctx, src, time.Now().UTC()); err != nil {
			return fail("complete backfill", err)
		}
		e.log.Info().Str("source", string(src)).Msg("backfill complete, switching to incremental sync")
	}

	observability.Runs.WithLabelValues(string(src), "ok").Inc()
	e.log.Info().
		Str("source", string(src)).
		Int("fetched", summary.Fetched).
		Int("errors", summary.Errors).
		Bool("done", summary.Done).
		Msg("sync run finished")

	return summary, nil
}

// mapPage maps every release on a page, collecting per-release failures
// without aborting the batch. Relative order within the page is preserved.
func (e *Engine) mapPage(src models.Source, releases []models.Release) ([]models.Notice, []string) {
	batch := make([]models.Notice, 0, len(releases))
	var errorMessages []string

	for _, release := range releases {
		notice, err := mapper.MapRelease(release, src)
		if err != nil {
			errorMessages = append(errorMessages, err.Error())
			observability.MappingErrors.WithLabelValues(string(src)).Inc()
			continue
		}
		batch = append(batch, notice)
	}
	return batch, errorMessages
}
