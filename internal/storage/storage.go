// Package storage implements the persistence layer: canonical notices,
// derived organizations, and per-source sync job state, behind one Store
// interface with interchangeable backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// errorLogCap bounds the per-job error log to its most recent entries.
const errorLogCap = 100

// Progress is the per-page checkpoint written after every processed page.
// Persisting the cursor before the next fetch is what makes a sync run
// crash-safe: a restart re-fetches at most one already-seen page, which the
// idempotent upsert absorbs.
type Progress struct {
	Cursor        string
	TotalFetched  int64
	RunFetched    int
	RunErrors     int
	ErrorMessages []string
}

// NoticeQuery filters supporting lookups over stored notices.
type NoticeQuery struct {
	Buyer         string     // exact buyer name match
	PublishedFrom *time.Time // inclusive floor on publishedDate
	Limit         int
}

// Store is the persistence contract shared by all backends.
//
// UpsertNotices writes each record independently by its (source, noticeId)
// natural key, so calling it twice with the same batch is a no-op and a
// mid-batch crash leaves exactly the already-written prefix persisted.
//
// MergeOrganizations performs one atomic create-once/increment-always merge
// per seed: identity fields are set only when the organization is first
// observed, while the contract counter is unconditionally increased by the
// seed's notice count. It returns how many organizations were newly created.
type Store interface {
	GetOrCreateSyncJob(ctx context.Context, source models.Source, backfillStart time.Time) (*models.SyncJob, error)
	UpdateSyncProgress(ctx context.Context, source models.Source, p Progress) error
	MarkSyncComplete(ctx context.Context, source models.Source, syncedAt time.Time) error
	MarkSyncError(ctx context.Context, source models.Source, message string) error
	ListSyncJobs(ctx context.Context) ([]models.SyncJob, error)

	UpsertNotices(ctx context.Context, notices []models.Notice) error
	ListNotices(ctx context.Context, q NoticeQuery) ([]models.Notice, error)
	CountNotices(ctx context.Context) (int64, error)

	MergeOrganizations(ctx context.Context, seeds []models.OrganizationSeed) (int, error)
	CountOrganizations(ctx context.Context) (int64, error)

	Close() error
}

// NewStore creates a store instance based on configuration.
func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "mongodb":
		return NewMongoStore(ctx, cfg)
	case "postgresql":
		return NewPostgresStore(cfg)
	case "dynamodb":
		return NewDynamoDBStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func capErrorLog(log []string) []string {
	if len(log) > errorLogCap {
		return log[len(log)-errorLogCap:]
	}
	return log
}
