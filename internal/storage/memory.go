package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tendhunt/data-sync-service/internal/models"
)

// MemoryStore is an in-memory Store with the same upsert and merge semantics
// as the real backends. It backs the engine and gateway tests and small
// local experiments; it is not meant for production use.
type MemoryStore struct {
	mu      sync.Mutex
	notices map[string]models.Notice // keyed by source + "#" + noticeId
	orgs    map[string]models.Organization
	jobs    map[models.Source]models.SyncJob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notices: make(map[string]models.Notice),
		orgs:    make(map[string]models.Organization),
		jobs:    make(map[models.Source]models.SyncJob),
	}
}

// GetOrCreateSyncJob returns the job for a source, creating it in
// backfilling state on first sight.
func (m *MemoryStore) GetOrCreateSyncJob(_ context.Context, source models.Source, backfillStart time.Time) (*models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[source]; ok {
		return cloneJob(job), nil
	}

	now := time.Now().UTC()
	job := models.SyncJob{
		Source:            source,
		Status:            models.SyncBackfilling,
		BackfillStartDate: backfillStart.UTC(),
		LastRunAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.jobs[source] = job
	return cloneJob(job), nil
}

// UpdateSyncProgress checkpoints cursor position and counters after a page.
func (m *MemoryStore) UpdateSyncProgress(_ context.Context, source models.Source, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[source]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Cursor = p.Cursor
	job.TotalFetched = p.TotalFetched
	job.LastRunAt = now
	job.LastRunFetched = p.RunFetched
	job.LastRunErrors = p.RunErrors
	job.ErrorLog = capErrorLog(append(job.ErrorLog, p.ErrorMessages...))
	job.UpdatedAt = now
	m.jobs[source] = job
	return nil
}

// MarkSyncComplete transitions a drained backfill to steady-state syncing.
func (m *MemoryStore) MarkSyncComplete(_ context.Context, source models.Source, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[source]
	if !ok {
		return ErrNotFound
	}
	job.Status = models.SyncSyncing
	job.Cursor = ""
	synced := syncedAt.UTC()
	job.LastSyncedDate = &synced
	job.UpdatedAt = time.Now().UTC()
	m.jobs[source] = job
	return nil
}

// MarkSyncError records a fatal failure without touching the cursor.
func (m *MemoryStore) MarkSyncError(_ context.Context, source models.Source, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[source]
	if !ok {
		return ErrNotFound
	}
	job.Status = models.SyncError
	job.ErrorLog = capErrorLog(append(job.ErrorLog, message))
	job.UpdatedAt = time.Now().UTC()
	m.jobs[source] = job
	return nil
}

// ListSyncJobs returns all sync jobs, ordered by source for stable output.
func (m *MemoryStore) ListSyncJobs(_ context.Context) ([]models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]models.SyncJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Source < jobs[j].Source })
	return jobs, nil
}

// UpsertNotices writes each notice independently by its natural key,
// preserving the creation timestamp of already-present records.
func (m *MemoryStore) UpsertNotices(_ context.Context, notices []models.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, n := range notices {
		key := string(n.Source) + "#" + n.NoticeID
		if existing, ok := m.notices[key]; ok {
			n.CreatedAt = existing.CreatedAt
		} else {
			n.CreatedAt = now
		}
		n.UpdatedAt = now
		m.notices[key] = n
	}
	return nil
}

// ListNotices returns notices matching the query, newest first.
func (m *MemoryStore) ListNotices(_ context.Context, q NoticeQuery) ([]models.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Notice
	for _, n := range m.notices {
		if q.Buyer != "" && n.BuyerName != q.Buyer {
			continue
		}
		if q.PublishedFrom != nil {
			if n.PublishedDate == nil || n.PublishedDate.Before(*q.PublishedFrom) {
				continue
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].PublishedDate, out[j].PublishedDate
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CountNotices returns the total number of stored notices.
func (m *MemoryStore) CountNotices(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.notices)), nil
}

// MergeOrganizations applies the create-once/increment-always merge per
// seed under the store lock, mirroring the atomicity of the real backends.
func (m *MemoryStore) MergeOrganizations(_ context.Context, seeds []models.OrganizationSeed) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	created := 0
	for _, seed := range seeds {
		org, ok := m.orgs[seed.OrgID]
		if !ok {
			org = models.Organization{
				OrgID:     seed.OrgID,
				Name:      seed.Name,
				Sector:    seed.Sector,
				Region:    seed.Region,
				CreatedAt: now,
			}
			created++
		}
		org.ContractCount += int64(seed.Notices)
		org.UpdatedAt = now
		m.orgs[seed.OrgID] = org
	}
	return created, nil
}

// CountOrganizations returns the total number of derived organizations.
func (m *MemoryStore) CountOrganizations(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.orgs)), nil
}

// GetOrganization exposes a stored organization for assertions in tests.
func (m *MemoryStore) GetOrganization(orgID string) (models.Organization, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	return org, ok
}

// GetNotice exposes a stored notice for assertions in tests.
func (m *MemoryStore) GetNotice(source models.Source, noticeID string) (models.Notice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notices[string(source)+"#"+noticeID]
	return n, ok
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cloneJob(job models.SyncJob) *models.SyncJob {
	out := job
	out.ErrorLog = append([]string(nil), job.ErrorLog...)
	if job.LastSyncedDate != nil {
		t := *job.LastSyncedDate
		out.LastSyncedDate = &t
	}
	return &out
}
