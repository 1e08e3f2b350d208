package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tendhunt/data-sync-service/internal/models"
)

// Contracts Finder accepts both stages in a single request and paginates via
// a bare continuation token, which the caller appends as a cursor query
// parameter on the follow-up request. The date filter parameter is
// publishedFrom.

// ContractsFinderAdapter pages through the Contracts Finder OCDS search API.
type ContractsFinderAdapter struct {
	baseURL       string
	backfillStart time.Time
	client        *Client
}

// NewContractsFinder creates an adapter instance.
func NewContractsFinder(client *Client, baseURL string, backfillStart time.Time) *ContractsFinderAdapter {
	return &ContractsFinderAdapter{
		baseURL:       baseURL,
		backfillStart: backfillStart,
		client:        client,
	}
}

type cfResponse struct {
	Releases []models.Release `json:"releases"`
	// The API has used both field names for the continuation token.
	NextCursor string `json:"nextCursor"`
	Cursor     string `json:"cursor"`
}

// FetchPage fetches one page, rebuilding the full request URL from the base
// query parameters plus the bare continuation token.
func (a *ContractsFinderAdapter) FetchPage(ctx context.Context, cursor string, dateFrom time.Time) (Page, error) {
	from := dateFrom
	if from.IsZero() {
		from = a.backfillStart
	}

	params := url.Values{}
	params.Set("publishedFrom", from.UTC().Format(time.RFC3339))
	params.Set("stages", "tender,award")
	params.Set("limit", fmt.Sprint(pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp cfResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"?"+params.Encode(), &resp); err != nil {
		return Page{}, fmt.Errorf("contracts finder: %w", err)
	}

	if len(resp.Releases) == 0 {
		return Page{}, nil
	}

	next := resp.NextCursor
	if next == "" {
		next = resp.Cursor
	}

	return Page{Releases: resp.Releases, NextCursor: next}, nil
}
