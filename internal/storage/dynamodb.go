package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
)

// DynamoDBStore implements Store using AWS DynamoDB. Notices live under a
// composite "SOURCE#noticeId" partition key with the canonical record nested
// in a doc attribute; organizations and sync jobs are keyed directly.
type DynamoDBStore struct {
	client    *dynamodb.DynamoDB
	notices   string
	orgs      string
	syncJobs  string
}

// NewDynamoDBStore creates a DynamoDB-backed store, creating the tables when
// they do not exist (for local testing with DynamoDB Local).
func NewDynamoDBStore(cfg config.StorageConfig) (*DynamoDBStore, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := &DynamoDBStore{
		client:   dynamodb.New(sess),
		notices:  cfg.TablePrefix + "_notices",
		orgs:     cfg.TablePrefix + "_organizations",
		syncJobs: cfg.TablePrefix + "_sync_jobs",
	}

	for table, key := range map[string]string{
		store.notices:  "pk",
		store.orgs:     "orgId",
		store.syncJobs: "source",
	} {
		if err := store.ensureTable(table, key); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s: %w", table, err)
		}
	}
	return store, nil
}

// ensureTable creates a single-hash-key table if it doesn't exist.
func (d *DynamoDBStore) ensureTable(name, hashKey string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

func noticePK(source models.Source, noticeID string) string {
	return string(source) + "#" + noticeID
}

// GetOrCreateSyncJob returns the job for a source, creating it in
// backfilling state on first sight.
func (d *DynamoDBStore) GetOrCreateSyncJob(ctx context.Context, source models.Source, backfillStart time.Time) (*models.SyncJob, error) {
	job, err := d.getSyncJob(ctx, source)
	if err == nil {
		return job, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := models.SyncJob{
		Source:            source,
		Status:            models.SyncBackfilling,
		BackfillStartDate: backfillStart.UTC(),
		LastRunAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	item, err := dynamodbattribute.MarshalMap(fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync job: %w", err)
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.syncJobs),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#src)"),
		ExpressionAttributeNames: map[string]*string{
			"#src": aws.String("source"),
		},
	})
	if err != nil {
		// Lost the race against another creator: the existing job wins.
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return d.getSyncJob(ctx, source)
		}
		return nil, fmt.Errorf("failed to create sync job for %s: %w", source, err)
	}
	return &fresh, nil
}

func (d *DynamoDBStore) getSyncJob(ctx context.Context, source models.Source) (*models.SyncJob, error) {
	out, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.syncJobs),
		Key: map[string]*dynamodb.AttributeValue{
			"source": {S: aws.String(string(source))},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job for %s: %w", source, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var job models.SyncJob
	if err := dynamodbattribute.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync job: %w", err)
	}
	return &job, nil
}

// putSyncJob replaces the stored job document. Job state has a single
// writer per source (the orchestrator run holding the per-source lock), so
// read-modify-write is safe here.
func (d *DynamoDBStore) putSyncJob(ctx context.Context, job *models.SyncJob) error {
	job.UpdatedAt = time.Now().UTC()
	item, err := dynamodbattribute.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("failed to marshal sync job: %w", err)
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.syncJobs),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store sync job for %s: %w", job.Source, err)
	}
	return nil
}

// UpdateSyncProgress checkpoints cursor position and counters after a page.
func (d *DynamoDBStore) UpdateSyncProgress(ctx context.Context, source models.Source, p Progress) error {
	job, err := d.getSyncJob(ctx, source)
	if err != nil {
		return err
	}
	job.Cursor = p.Cursor
	job.TotalFetched = p.TotalFetched
	job.LastRunAt = time.Now().UTC()
	job.LastRunFetched = p.RunFetched
	job.LastRunErrors = p.RunErrors
	job.ErrorLog = capErrorLog(append(job.ErrorLog, p.ErrorMessages...))
	return d.putSyncJob(ctx, job)
}

// MarkSyncComplete transitions a drained backfill to steady-state syncing.
func (d *DynamoDBStore) MarkSyncComplete(ctx context.Context, source models.Source, syncedAt time.Time) error {
	job, err := d.getSyncJob(ctx, source)
	if err != nil {
		return err
	}
	job.Status = models.SyncSyncing
	job.Cursor = ""
	synced := syncedAt.UTC()
	job.LastSyncedDate = &synced
	return d.putSyncJob(ctx, job)
}

// MarkSyncError records a fatal failure without touching the cursor.
func (d *DynamoDBStore) MarkSyncError(ctx context.Context, source models.Source, message string) error {
	job, err := d.getSyncJob(ctx, source)
	if err != nil {
		return err
	}
	job.Status = models.SyncError
	job.ErrorLog = capErrorLog(append(job.ErrorLog, message))
	return d.putSyncJob(ctx, job)
}

// ListSyncJobs returns all sync jobs.
func (d *DynamoDBStore) ListSyncJobs(ctx context.Context) ([]models.SyncJob, error) {
	out, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.syncJobs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync jobs: %w", err)
	}
	var jobs []models.SyncJob
	if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync jobs: %w", err)
	}
	return jobs, nil
}

// UpsertNotices writes each notice independently, preserving the creation
// timestamp of records already present.
func (d *DynamoDBStore) UpsertNotices(ctx context.Context, notices []models.Notice) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, n := range notices {
		n.CreatedAt = time.Time{}
		n.UpdatedAt = time.Time{}
		doc, err := dynamodbattribute.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notice %s: %w", n.NoticeID, err)
		}

		_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.notices),
			Key: map[string]*dynamodb.AttributeValue{
				"pk": {S: aws.String(noticePK(n.Source, n.NoticeID))},
			},
			UpdateExpression: aws.String(
				"SET doc = :doc, createdAt = if_not_exists(createdAt, :now), updatedAt = :now"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":doc": doc,
				":now": {S: aws.String(now)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to upsert notice %s/%s: %w", n.Source, n.NoticeID, err)
		}
	}
	return nil
}

// ListNotices scans for notices matching the query. DynamoDB deployments of
// this service are small-scale; a filtered scan is acceptable there.
func (d *DynamoDBStore) ListNotices(ctx context.Context, q NoticeQuery) ([]models.Notice, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.notices)}

	filters := ""
	values := map[string]*dynamodb.AttributeValue{}
	if q.Buyer != "" {
		filters = "doc.buyerName = :buyer"
		values[":buyer"] = &dynamodb.AttributeValue{S: aws.String(q.Buyer)}
	}
	if q.PublishedFrom != nil {
		if filters != "" {
			filters += " AND "
		}
		filters += "doc.publishedDate >= :from"
		values[":from"] = &dynamodb.AttributeValue{S: aws.String(q.PublishedFrom.UTC().Format(time.RFC3339))}
	}
	if filters != "" {
		input.FilterExpression = aws.String(filters)
		input.ExpressionAttributeValues = values
	}
	if q.Limit > 0 {
		input.Limit = aws.Int64(int64(q.Limit))
	}

	out, err := d.client.ScanWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan notices: %w", err)
	}

	notices := make([]models.Notice, 0, len(out.Items))
	for _, item := range out.Items {
		var n models.Notice
		if err := dynamodbattribute.Unmarshal(item["doc"], &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notice: %w", err)
		}
		// Timestamps live as top-level attributes (if_not_exists needs them
		// outside doc), so they are restored onto the decoded record here.
		n.CreatedAt = itemTime(item["createdAt"])
		n.UpdatedAt = itemTime(item["updatedAt"])
		notices = append(notices, n)
	}
	return notices, nil
}

// itemTime decodes an RFC3339 string attribute, zero on absence or garbage.
func itemTime(av *dynamodb.AttributeValue) time.Time {
	if av == nil || av.S == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, aws.StringValue(av.S))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// CountNotices counts stored notices with a paged COUNT scan.
func (d *DynamoDBStore) CountNotices(ctx context.Context) (int64, error) {
	return d.countTable(ctx, d.notices)
}

// MergeOrganizations applies one atomic UpdateItem per seed: identity fields
// via if_not_exists, counter via ADD, so concurrent increments from
// different source runs cannot be lost.
func (d *DynamoDBStore) MergeOrganizations(ctx context.Context, seeds []models.OrganizationSeed) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	created := 0
	for _, seed := range seeds {
		out, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.orgs),
			Key: map[string]*dynamodb.AttributeValue{
				"orgId": {S: aws.String(seed.OrgID)},
			},
			UpdateExpression: aws.String(
				"SET #name = if_not_exists(#name, :name), " +
					"sector = if_not_exists(sector, :sector), " +
					"#region = if_not_exists(#region, :region), " +
					"createdAt = if_not_exists(createdAt, :now), " +
					"updatedAt = :now " +
					"ADD contractCount :count"),
			ExpressionAttributeNames: map[string]*string{
				"#name":   aws.String("name"),
				"#region": aws.String("region"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":name":   {S: aws.String(seed.Name)},
				":sector": {S: aws.String(seed.Sector)},
				":region": {S: aws.String(seed.Region)},
				":now":    {S: aws.String(now)},
				":count":  {N: aws.String(fmt.Sprint(seed.Notices))},
			},
			ReturnValues: aws.String("ALL_OLD"),
		})
		if err != nil {
			return created, fmt.Errorf("failed to merge organization %s: %w", seed.OrgID, err)
		}
		if len(out.Attributes) == 0 {
			created++
		}
	}
	return created, nil
}

// CountOrganizations counts derived organizations.
func (d *DynamoDBStore) CountOrganizations(ctx context.Context) (int64, error) {
	return d.countTable(ctx, d.orgs)
}

func (d *DynamoDBStore) countTable(ctx context.Context, table string) (int64, error) {
	var count int64
	input := &dynamodb.ScanInput{
		TableName: aws.String(table),
		Select:    aws.String("COUNT"),
	}
	for {
		out, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", table, err)
		}
		count += aws.Int64Value(out.Count)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return count, nil
}

// Close is a no-op; the DynamoDB client is stateless.
func (d *DynamoDBStore) Close() error {
	return nil
}
