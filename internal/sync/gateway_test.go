package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/storage"
)

func TestUpsertNoticesFiltersGarbage(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := NewGateway(store)
	ctx := context.Background()

	written, err := gw.UpsertNotices(ctx, []models.Notice{
		{Source: models.SourceFindATender, NoticeID: "n-1", Title: "Real notice"},
		{Source: models.SourceFindATender, NoticeID: "n-2", Title: "Untitled"},
		{Source: models.SourceFindATender, NoticeID: "n-3", Title: "Untitled", Description: "has a body"},
		{Source: models.SourceFindATender, NoticeID: "n-4", Title: "", Description: "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	count, err := store.CountNotices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, ok := store.GetNotice(models.SourceFindATender, "n-2")
	assert.False(t, ok, "title-less, description-less records are dropped")
	_, ok = store.GetNotice(models.SourceFindATender, "n-3")
	assert.True(t, ok, "a description rescues an untitled record")
}

func TestUpsertNoticesAllGarbage(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := NewGateway(store)

	written, err := gw.UpsertNotices(context.Background(), []models.Notice{
		{Source: models.SourceFindATender, NoticeID: "n-1", Title: "Untitled"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}

func TestExtractOrganizationsGroupsByKey(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := NewGateway(store)
	ctx := context.Background()

	batch := []models.Notice{
		{Source: models.SourceFindATender, NoticeID: "n-1", Title: "A", BuyerName: "NHS England", Sector: "Health & Social", BuyerRegion: "London"},
		{Source: models.SourceFindATender, NoticeID: "n-2", Title: "B", BuyerName: "N.H.S. England"},
		{Source: models.SourceFindATender, NoticeID: "n-3", Title: "C", BuyerName: "City of London", BuyerOrgRef: "GB-LAC-E09000001"},
		{Source: models.SourceFindATender, NoticeID: "n-4", Title: "Untitled"},     // garbage, skipped
		{Source: models.SourceFindATender, NoticeID: "n-5", Title: "D"},            // no usable buyer
		{Source: models.SourceFindATender, NoticeID: "n-6", Title: "E", BuyerName: "???"}, // slug comes out empty
	}

	created, err := gw.ExtractOrganizations(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	count, err := store.CountOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The two spelling variants collapsed into one key with two notices.
	nhs, ok := store.GetOrganization("auto-nhs-england")
	require.True(t, ok)
	assert.Equal(t, "NHS England", nhs.Name)
	assert.Equal(t, "Health & Social", nhs.Sector)
	assert.Equal(t, int64(2), nhs.ContractCount)

	col, ok := store.GetOrganization("GB-LAC-E09000001")
	require.True(t, ok)
	assert.Equal(t, int64(1), col.ContractCount)
}

func TestExtractOrganizationsEmptyBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := NewGateway(store)

	created, err := gw.ExtractOrganizations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	count, err := store.CountOrganizations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
