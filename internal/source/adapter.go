// Package source contains the per-upstream adapters that translate each
// procurement API's pagination mechanics into one uniform contract.
package source

import (
	"context"
	"time"

	"github.com/tendhunt/data-sync-service/internal/models"
)

// pageSize is the page size requested from both upstream APIs.
const pageSize = 100

// Page is one page of raw releases plus the cursor for the next one.
// An empty NextCursor means the source is exhausted.
type Page struct {
	Releases   []models.Release
	NextCursor string
}

// Adapter fetches one page of releases given a resume cursor and an optional
// date floor. An empty cursor means "start from the beginning"; a zero
// dateFrom means no date floor (historical backfill). Cursors are opaque to
// callers: their format is adapter-specific and must never be interpreted by
// the orchestrator.
//
// Adapter instances hold per-run continuation state and must not be shared
// across concurrent sync runs.
type Adapter interface {
	FetchPage(ctx context.Context, cursor string, dateFrom time.Time) (Page, error)
}
