package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
)

// MongoStore implements Store using MongoDB, the primary production backend.
type MongoStore struct {
	client        *mongo.Client
	notices       *mongo.Collection
	organizations *mongo.Collection
	syncJobs      *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the indexes backing the
// natural-key upserts and supporting lookups.
func NewMongoStore(ctx context.Context, cfg config.StorageConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDB)
	store := &MongoStore{
		client:        client,
		notices:       db.Collection("notices"),
		organizations: db.Collection("organizations"),
		syncJobs:      db.Collection("syncJobs"),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := m.notices.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source", Value: 1}, {Key: "noticeId", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "buyerName", Value: 1}}},
		{Keys: bson.D{{Key: "publishedDate", Value: -1}}},
	})
	if err != nil {
		return err
	}
	_, err = m.organizations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "orgId", Value: 1}}, Options: unique,
	})
	if err != nil {
		return err
	}
	_, err = m.syncJobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "source", Value: 1}}, Options: unique,
	})
	return err
}

// GetOrCreateSyncJob returns the job for a source, creating it in
// backfilling state on first sight. The upsert is atomic, so concurrent
// first runs cannot create duplicates.
func (m *MongoStore) GetOrCreateSyncJob(ctx context.Context, source models.Source, backfillStart time.Time) (*models.SyncJob, error) {
	now := time.Now().UTC()
	res := m.syncJobs.FindOneAndUpdate(ctx,
		bson.M{"source": source},
		bson.M{"$setOnInsert": models.SyncJob{
			Source:            source,
			Status:            models.SyncBackfilling,
			BackfillStartDate: backfillStart.UTC(),
			LastRunAt:         now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var job models.SyncJob
	if err := res.Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to get or create sync job for %s: %w", source, err)
	}
	return &job, nil
}

// UpdateSyncProgress checkpoints cursor position and counters after a page.
func (m *MongoStore) UpdateSyncProgress(ctx context.Context, source models.Source, p Progress) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"cursor":         p.Cursor,
			"totalFetched":   p.TotalFetched,
			"lastRunAt":      now,
			"lastRunFetched": p.RunFetched,
			"lastRunErrors":  p.RunErrors,
			"updatedAt":      now,
		},
	}
	if len(p.ErrorMessages) > 0 {
		update["$push"] = bson.M{
			"errorLog": bson.M{"$each": p.ErrorMessages, "$slice": -errorLogCap},
		}
	}

	if _, err := m.syncJobs.UpdateOne(ctx, bson.M{"source": source}, update); err != nil {
		return fmt.Errorf("failed to update sync progress for %s: %w", source, err)
	}
	return nil
}

// MarkSyncComplete transitions a drained backfill to steady-state syncing.
func (m *MongoStore) MarkSyncComplete(ctx context.Context, source models.Source, syncedAt time.Time) error {
	_, err := m.syncJobs.UpdateOne(ctx, bson.M{"source": source}, bson.M{
		"$set": bson.M{
			"status":         models.SyncSyncing,
			"cursor":         "",
			"lastSyncedDate": syncedAt.UTC(),
			"updatedAt":      time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark sync complete for %s: %w", source, err)
	}
	return nil
}

// MarkSyncError records a fatal failure; the cursor stays at its last
// checkpointed value so the next run re-fetches that page safely.
func (m *MongoStore) MarkSyncError(ctx context.Context, source models.Source, message string) error {
	_, err := m.syncJobs.UpdateOne(ctx, bson.M{"source": source}, bson.M{
		"$set": bson.M{
			"status":    models.SyncError,
			"updatedAt": time.Now().UTC(),
		},
		"$push": bson.M{
			"errorLog": bson.M{"$each": []string{message}, "$slice": -errorLogCap},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark sync error for %s: %w", source, err)
	}
	return nil
}

// ListSyncJobs returns all sync jobs.
func (m *MongoStore) ListSyncJobs(ctx context.Context) ([]models.SyncJob, error) {
	cur, err := m.syncJobs.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	var jobs []models.SyncJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode sync jobs: %w", err)
	}
	return jobs, nil
}

// UpsertNotices writes each notice independently by its natural key.
func (m *MongoStore) UpsertNotices(ctx context.Context, notices []models.Notice) error {
	now := time.Now().UTC()
	for _, n := range notices {
		n.UpdatedAt = now
		n.CreatedAt = time.Time{} // assigned by $setOnInsert only

		fields, err := noticeSetFields(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notice %s: %w", n.NoticeID, err)
		}

		_, err = m.notices.UpdateOne(ctx,
			bson.M{"source": n.Source, "noticeId": n.NoticeID},
			bson.M{
				"$set":         fields,
				"$setOnInsert": bson.M{"createdAt": now},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert notice %s/%s: %w", n.Source, n.NoticeID, err)
		}
	}
	return nil
}

// noticeSetFields flattens a notice into the $set document, leaving the
// creation timestamp to $setOnInsert.
func noticeSetFields(n models.Notice) (bson.M, error) {
	raw, err := bson.Marshal(n)
	if err != nil {
		return nil, err
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "createdAt")
	return fields, nil
}

// ListNotices returns notices matching the query, newest first.
func (m *MongoStore) ListNotices(ctx context.Context, q NoticeQuery) ([]models.Notice, error) {
	filter := bson.M{}
	if q.Buyer != "" {
		filter["buyerName"] = q.Buyer
	}
	if q.PublishedFrom != nil {
		filter["publishedDate"] = bson.M{"$gte": q.PublishedFrom.UTC()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "publishedDate", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := m.notices.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	var out []models.Notice
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notices: %w", err)
	}
	return out, nil
}

// CountNotices returns the total number of stored notices.
func (m *MongoStore) CountNotices(ctx context.Context) (int64, error) {
	return m.notices.EstimatedDocumentCount(ctx)
}

// MergeOrganizations applies one atomic $setOnInsert + $inc per seed, so
// interleaved increments from concurrent source runs cannot be lost and
// identity fields written by downstream enrichment are never clobbered.
func (m *MongoStore) MergeOrganizations(ctx context.Context, seeds []models.OrganizationSeed) (int, error) {
	now := time.Now().UTC()
	created := 0
	for _, seed := range seeds {
		res, err := m.organizations.UpdateOne(ctx,
			bson.M{"orgId": seed.OrgID},
			bson.M{
				"$setOnInsert": bson.M{
					"orgId":     seed.OrgID,
					"name":      seed.Name,
					"sector":    seed.Sector,
					"region":    seed.Region,
					"createdAt": now,
				},
				"$inc": bson.M{"contractCount": seed.Notices},
				"$set": bson.M{"updatedAt": now},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return created, fmt.Errorf("failed to merge organization %s: %w", seed.OrgID, err)
		}
		if res.UpsertedCount > 0 {
			created++
		}
	}
	return created, nil
}

// CountOrganizations returns the total number of derived organizations.
func (m *MongoStore) CountOrganizations(ctx context.Context) (int64, error) {
	return m.organizations.EstimatedDocumentCount(ctx)
}

// Close disconnects from MongoDB.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
