package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/storage"
	syncpkg "github.com/tendhunt/data-sync-service/internal/sync"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	runner := syncpkg.NewRunner(store, config.SyncConfig{
		FatMaxItems: 10,
		CfMaxItems:  10,
	}, zerolog.Nop())
	return NewServer(config.ServerConfig{Port: 0}, store, runner, zerolog.Nop()), store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHealthEndpointRejectsPost(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.GetOrCreateSyncJob(ctx, models.SourceFindATender, start)
	require.NoError(t, err)
	require.NoError(t, store.UpdateSyncProgress(ctx, models.SourceFindATender, storage.Progress{
		Cursor:        "tok-1",
		TotalFetched:  100,
		ErrorMessages: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7"},
	}))
	require.NoError(t, store.UpsertNotices(ctx, []models.Notice{
		{Source: models.SourceFindATender, NoticeID: "n-1", Title: "A"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, models.SourceFindATender, resp.Jobs[0].Source)
	assert.Equal(t, models.SyncBackfilling, resp.Jobs[0].Status)
	assert.Equal(t, "tok-1", resp.Jobs[0].Cursor)
	assert.Equal(t, int64(100), resp.Jobs[0].TotalFetched)
	assert.Len(t, resp.Jobs[0].RecentErrors, 5, "error log is trimmed in the response")
	assert.Equal(t, "e7", resp.Jobs[0].RecentErrors[4])
	assert.Equal(t, int64(1), resp.Notices)
}

func TestRunEndpointInvalidSource(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/run?source=ebay", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunEndpointRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/run?source=FAT", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNoticesEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertNotices(ctx, []models.Notice{
		{Source: models.SourceFindATender, NoticeID: "n-1", Title: "A", BuyerName: "Alpha", PublishedDate: &published},
		{Source: models.SourceFindATender, NoticeID: "n-2", Title: "B", BuyerName: "Beta", PublishedDate: &published},
	}))

	req := httptest.NewRequest(http.MethodGet, "/notices?buyer=Alpha", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int             `json:"count"`
		Notices []models.Notice `json:"notices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Alpha", resp.Notices[0].BuyerName)
}

func TestNoticesEndpointValidatesParams(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, target := range []string{
		"/notices?limit=0",
		"/notices?limit=9000",
		"/notices?limit=ten",
		"/notices?from=yesterday",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestNoticesEndpointEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/notices", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"notices":[]}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
