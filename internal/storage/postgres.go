package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the schema.
func NewPostgresStore(cfg config.StorageConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return store, nil
}

func (p *PostgresStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS notices (
			source TEXT NOT NULL,
			notice_id TEXT NOT NULL,
			ocid TEXT,
			source_url TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			buyer_name TEXT NOT NULL,
			buyer_org_ref TEXT,
			buyer_region TEXT,
			cpv_codes TEXT[] NOT NULL DEFAULT '{}',
			sector TEXT,
			value_min DOUBLE PRECISION,
			value_max DOUBLE PRECISION,
			currency TEXT NOT NULL,
			published_date TIMESTAMPTZ,
			deadline_date TIMESTAMPTZ,
			contract_start TIMESTAMPTZ,
			contract_end TIMESTAMPTZ,
			procurement_method TEXT,
			procurement_method_details TEXT,
			awarded_suppliers TEXT[] NOT NULL DEFAULT '{}',
			award_date TIMESTAMPTZ,
			award_value DOUBLE PRECISION,
			raw_data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source, notice_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notices_buyer_name ON notices (buyer_name)`,
		`CREATE INDEX IF NOT EXISTS idx_notices_published_date ON notices (published_date DESC)`,
		`CREATE TABLE IF NOT EXISTS organizations (
			org_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sector TEXT,
			region TEXT,
			contract_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
			source TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			cursor TEXT NOT NULL DEFAULT '',
			backfill_start TIMESTAMPTZ NOT NULL,
			last_synced_date TIMESTAMPTZ,
			total_fetched BIGINT NOT NULL DEFAULT 0,
			last_run_at TIMESTAMPTZ NOT NULL,
			last_run_fetched INT NOT NULL DEFAULT 0,
			last_run_errors INT NOT NULL DEFAULT 0,
			error_log TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateSyncJob returns the job for a source, creating it in
// backfilling state on first sight.
func (p *PostgresStore) GetOrCreateSyncJob(ctx context.Context, source models.Source, backfillStart time.Time) (*models.SyncJob, error) {
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (source, status, backfill_start, last_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (source) DO NOTHING`,
		source, models.SyncBackfilling, backfillStart.UTC(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync job for %s: %w", source, err)
	}
	return p.getSyncJob(ctx, source)
}

func (p *PostgresStore) getSyncJob(ctx context.Context, source models.Source) (*models.SyncJob, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT source, status, cursor, backfill_start, last_synced_date, total_fetched,
		       last_run_at, last_run_fetched, last_run_errors, error_log, created_at, updated_at
		FROM sync_jobs WHERE source = $1`, source)

	var job models.SyncJob
	var lastSynced sql.NullTime
	err := row.Scan(&job.Source, &job.Status, &job.Cursor, &job.BackfillStartDate, &lastSynced,
		&job.TotalFetched, &job.LastRunAt, &job.LastRunFetched, &job.LastRunErrors,
		pq.Array(&job.ErrorLog), &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job for %s: %w", source, err)
	}
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		job.LastSyncedDate = &t
	}
	return &job, nil
}

// UpdateSyncProgress checkpoints cursor position and counters after a page,
// appending new error messages and trimming the log to its newest entries.
func (p *PostgresStore) UpdateSyncProgress(ctx context.Context, source models.Source, prog Progress) error {
	msgs := prog.ErrorMessages
	if msgs == nil {
		msgs = []string{}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE sync_jobs SET
			cursor = $2,
			total_fetched = $3,
			last_run_at = now(),
			last_run_fetched = $4,
			last_run_errors = $5,
			error_log = (error_log || $6::text[])[greatest(array_length(error_log || $6::text[], 1) - $7 + 1, 1):],
			updated_at = now()
		WHERE source = $1`,
		source, prog.Cursor, prog.TotalFetched, prog.RunFetched, prog.RunErrors,
		pq.Array(msgs), errorLogCap)
	if err != nil {
		return fmt.Errorf("failed to update sync progress for %s: %w", source, err)
	}
	return nil
}

// MarkSyncComplete transitions a drained backfill to steady-state syncing.
func (p *PostgresStore) MarkSyncComplete(ctx context.Context, source models.Source, syncedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = $2, cursor = '', last_synced_date = $3, updated_at = now()
		WHERE source = $1`,
		source, models.SyncSyncing, syncedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark sync complete for %s: %w", source, err)
	}
	return nil
}

// MarkSyncError records a fatal failure without touching the cursor.
func (p *PostgresStore) MarkSyncError(ctx context.Context, source models.Source, message string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sync_jobs SET
			status = $2,
			error_log = (error_log || $3::text[])[greatest(array_length(error_log || $3::text[], 1) - $4 + 1, 1):],
			updated_at = now()
		WHERE source = $1`,
		source, models.SyncError, pq.Array([]string{message}), errorLogCap)
	if err != nil {
		return fmt.Errorf("failed to mark sync error for %s: %w", source, err)
	}
	return nil
}

// ListSyncJobs returns all sync jobs.
func (p *PostgresStore) ListSyncJobs(ctx context.Context) ([]models.SyncJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT source, status, cursor, backfill_start, last_synced_date, total_fetched,
		       last_run_at, last_run_fetched, last_run_errors, error_log, created_at, updated_at
		FROM sync_jobs ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		var lastSynced sql.NullTime
		err := rows.Scan(&job.Source, &job.Status, &job.Cursor, &job.BackfillStartDate, &lastSynced,
			&job.TotalFetched, &job.LastRunAt, &job.LastRunFetched, &job.LastRunErrors,
			pq.Array(&job.ErrorLog), &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		if lastSynced.Valid {
			t := lastSynced.Time.UTC()
			job.LastSyncedDate = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpsertNotices writes each notice independently via ON CONFLICT on the
// natural key; every field except the key and created_at takes the latest
// observation.
func (p *PostgresStore) UpsertNotices(ctx context.Context, notices []models.Notice) error {
	const stmt = `
		INSERT INTO notices (
			source, notice_id, ocid, source_url, title, description, status, stage,
			buyer_name, buyer_org_ref, buyer_region, cpv_codes, sector,
			value_min, value_max, currency, published_date, deadline_date,
			contract_start, contract_end, procurement_method, procurement_method_details,
			awarded_suppliers, award_date, award_value, raw_data, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, now(), now()
		)
		ON CONFLICT (source, notice_id) DO UPDATE SET
			ocid = EXCLUDED.ocid,
			source_url = EXCLUDED.source_url,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			buyer_name = EXCLUDED.buyer_name,
			buyer_org_ref = EXCLUDED.buyer_org_ref,
			buyer_region = EXCLUDED.buyer_region,
			cpv_codes = EXCLUDED.cpv_codes,
			sector = EXCLUDED.sector,
			value_min = EXCLUDED.value_min,
			value_max = EXCLUDED.value_max,
			currency = EXCLUDED.currency,
			published_date = EXCLUDED.published_date,
			deadline_date = EXCLUDED.deadline_date,
			contract_start = EXCLUDED.contract_start,
			contract_end = EXCLUDED.contract_end,
			procurement_method = EXCLUDED.procurement_method,
			procurement_method_details = EXCLUDED.procurement_method_details,
			awarded_suppliers = EXCLUDED.awarded_suppliers,
			award_date = EXCLUDED.award_date,
			award_value = EXCLUDED.award_value,
			raw_data = EXCLUDED.raw_data,
			updated_at = now()`

	for _, n := range notices {
		raw, err := json.Marshal(n.RawData)
		if err != nil {
			return fmt.Errorf("failed to marshal raw data for notice %s: %w", n.NoticeID, err)
		}
		cpv := n.CPVCodes
		if cpv == nil {
			cpv = []string{}
		}
		suppliers := n.AwardedSuppliers
		if suppliers == nil {
			suppliers = []string{}
		}

		_, err = p.db.ExecContext(ctx, stmt,
			n.Source, n.NoticeID, n.OCID, n.SourceURL, n.Title, n.Description, n.Status, n.Stage,
			n.BuyerName, n.BuyerOrgRef, n.BuyerRegion, pq.Array(cpv), n.Sector,
			n.ValueMin, n.ValueMax, n.Currency, n.PublishedDate, n.DeadlineDate,
			n.ContractStart, n.ContractEnd, n.ProcurementMethod, n.ProcurementMethodDetails,
			pq.Array(suppliers), n.AwardDate, n.AwardValue, raw)
		if err != nil {
			return fmt.Errorf("failed to upsert notice %s/%s: %w", n.Source, n.NoticeID, err)
		}
	}
	return nil
}

// ListNotices returns notices matching the query, newest first.
func (p *PostgresStore) ListNotices(ctx context.Context, q NoticeQuery) ([]models.Notice, error) {
	query := `
		SELECT source, notice_id, ocid, source_url, title, description, status, stage,
		       buyer_name, buyer_org_ref, buyer_region, cpv_codes, sector,
		       value_min, value_max, currency, published_date, deadline_date,
		       contract_start, contract_end, procurement_method, procurement_method_details,
		       awarded_suppliers, award_date, award_value, raw_data, created_at, updated_at
		FROM notices WHERE 1=1`
	args := []interface{}{}

	if q.Buyer != "" {
		args = append(args, q.Buyer)
		query += fmt.Sprintf(" AND buyer_name = $%d", len(args))
	}
	if q.PublishedFrom != nil {
		args = append(args, q.PublishedFrom.UTC())
		query += fmt.Sprintf(" AND published_date >= $%d", len(args))
	}
	query += " ORDER BY published_date DESC NULLS LAST"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	defer rows.Close()

	var out []models.Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotice(rows *sql.Rows) (models.Notice, error) {
	var n models.Notice
	var ocid, description, buyerOrgRef, buyerRegion, sector sql.NullString
	var procMethod, procMethodDetails sql.NullString
	var valueMin, valueMax, awardValue sql.NullFloat64
	var published, deadline, contractStart, contractEnd, awardDate sql.NullTime
	var raw []byte

	err := rows.Scan(&n.Source, &n.NoticeID, &ocid, &n.SourceURL, &n.Title, &description,
		&n.Status, &n.Stage, &n.BuyerName, &buyerOrgRef, &buyerRegion,
		pq.Array(&n.CPVCodes), &sector, &valueMin, &valueMax, &n.Currency,
		&published, &deadline, &contractStart, &contractEnd,
		&procMethod, &procMethodDetails, pq.Array(&n.AwardedSuppliers),
		&awardDate, &awardValue, &raw, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, fmt.Errorf("failed to scan notice: %w", err)
	}

	n.OCID = ocid.String
	n.Description = description.String
	n.BuyerOrgRef = buyerOrgRef.String
	n.BuyerRegion = buyerRegion.String
	n.Sector = sector.String
	n.ProcurementMethod = procMethod.String
	n.ProcurementMethodDetails = procMethodDetails.String
	n.ValueMin = nullFloat(valueMin)
	n.ValueMax = nullFloat(valueMax)
	n.AwardValue = nullFloat(awardValue)
	n.PublishedDate = nullTime(published)
	n.DeadlineDate = nullTime(deadline)
	n.ContractStart = nullTime(contractStart)
	n.ContractEnd = nullTime(contractEnd)
	n.AwardDate = nullTime(awardDate)

	if err := json.Unmarshal(raw, &n.RawData); err != nil {
		return n, fmt.Errorf("failed to unmarshal raw data for notice %s: %w", n.NoticeID, err)
	}
	return n, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// CountNotices returns the total number of stored notices.
func (p *PostgresStore) CountNotices(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM notices`).Scan(&count)
	return count, err
}

// MergeOrganizations applies one atomic insert-or-increment per seed.
// xmax = 0 distinguishes freshly inserted rows from conflicting updates.
func (p *PostgresStore) MergeOrganizations(ctx context.Context, seeds []models.OrganizationSeed) (int, error) {
	created := 0
	for _, seed := range seeds {
		var inserted bool
		err := p.db.QueryRowContext(ctx, `
			INSERT INTO organizations (org_id, name, sector, region, contract_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (org_id) DO UPDATE SET
				contract_count = organizations.contract_count + EXCLUDED.contract_count,
				updated_at = now()
			RETURNING (xmax = 0)`,
			seed.OrgID, seed.Name, seed.Sector, seed.Region, seed.Notices).Scan(&inserted)
		if err != nil {
			return created, fmt.Errorf("failed to merge organization %s: %w", seed.OrgID, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// CountOrganizations returns the total number of derived organizations.
func (p *PostgresStore) CountOrganizations(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM organizations`).Scan(&count)
	return count, err
}

// Close closes the database handle.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
