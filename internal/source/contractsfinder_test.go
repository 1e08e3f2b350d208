package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendhunt/data-sync-service/internal/models"
)

var cfBackfillStart = time.Date(2016, 11, 1, 0, 0, 0, 0, time.UTC)

func TestContractsFinderFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tender,award", q.Get("stages"))
		assert.Equal(t, "2016-11-01T00:00:00Z", q.Get("publishedFrom"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.False(t, q.Has("cursor"), "first request carries no cursor")

		json.NewEncoder(w).Encode(cfResponse{
			Releases:   []models.Release{{ID: "a"}, {ID: "b"}},
			NextCursor: "tok-2",
		})
	}))
	defer srv.Close()

	adapter := NewContractsFinder(testClient(3), srv.URL, cfBackfillStart)
	page, err := adapter.FetchPage(context.Background(), "", time.Time{})
	require.NoError(t, err)

	assert.Len(t, page.Releases, 2)
	assert.Equal(t, "tok-2", page.NextCursor)
}

func TestContractsFinderAppendsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-2", r.URL.Query().Get("cursor"))
		json.NewEncoder(w).Encode(cfResponse{
			Releases: []models.Release{{ID: "c"}},
			Cursor:   "tok-3", // older field name for the continuation token
		})
	}))
	defer srv.Close()

	adapter := NewContractsFinder(testClient(3), srv.URL, cfBackfillStart)
	page, err := adapter.FetchPage(context.Background(), "tok-2", time.Time{})
	require.NoError(t, err)

	assert.Len(t, page.Releases, 1)
	assert.Equal(t, "tok-3", page.NextCursor)
}

func TestContractsFinderDateFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-06-01T00:00:00Z", r.URL.Query().Get("publishedFrom"))
		json.NewEncoder(w).Encode(cfResponse{})
	}))
	defer srv.Close()

	adapter := NewContractsFinder(testClient(3), srv.URL, cfBackfillStart)
	dateFrom := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := adapter.FetchPage(context.Background(), "", dateFrom)
	require.NoError(t, err)
}

func TestContractsFinderEmptyPageExhausts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even when a token is present, an empty page means the source is done.
		json.NewEncoder(w).Encode(cfResponse{NextCursor: "tok-ignored"})
	}))
	defer srv.Close()

	adapter := NewContractsFinder(testClient(3), srv.URL, cfBackfillStart)
	page, err := adapter.FetchPage(context.Background(), "tok-9", time.Time{})
	require.NoError(t, err)

	assert.Empty(t, page.Releases)
	assert.Equal(t, "", page.NextCursor)
}

func TestContractsFinderLastPageWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(cfResponse{
			Releases: []models.Release{{ID: "z"}},
		})
	}))
	defer srv.Close()

	adapter := NewContractsFinder(testClient(3), srv.URL, cfBackfillStart)
	page, err := adapter.FetchPage(context.Background(), "tok-9", time.Time{})
	require.NoError(t, err)

	assert.Len(t, page.Releases, 1)
	assert.Equal(t, "", page.NextCursor)
}
