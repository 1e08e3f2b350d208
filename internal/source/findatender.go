package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tendhunt/data-sync-service/internal/models"
)

// Find a Tender rejects comma-separated stage filters, so tender and award
// releases are fetched in two sequential passes. Pagination links come back
// as complete follow-up URLs in links.next, and the date filter parameter is
// updatedFrom.

// stage is the adapter's explicit position in the two-pass fetch sequence.
type stage int

const (
	stageTender stage = iota
	stageAward
)

func (s stage) String() string {
	if s == stageAward {
		return "award"
	}
	return "tender"
}

// awardStageCursor is the synthetic cursor emitted when the tender pass is
// exhausted. It round-trips through the job state store so a run killed
// between stages resumes at the award pass. The orchestrator treats it as
// any other opaque token.
const awardStageCursor = "stage:award"

// FindATenderAdapter pages through the Find a Tender OCDS API.
type FindATenderAdapter struct {
	baseURL       string
	backfillStart time.Time
	client        *Client
}

// NewFindATender creates an adapter instance. Instances carry continuation
// state and are built fresh for every sync run.
func NewFindATender(client *Client, baseURL string, backfillStart time.Time) *FindATenderAdapter {
	return &FindATenderAdapter{
		baseURL:       baseURL,
		backfillStart: backfillStart,
		client:        client,
	}
}

type fatResponse struct {
	Releases []models.Release `json:"releases"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// FetchPage fetches one page, advancing through the tender pass and then the
// award pass. The current stage is derived from the incoming cursor on every
// call (resume URLs carry it in their stages query parameter), so a fresh
// adapter resuming mid-award does not restart the tender pass.
func (a *FindATenderAdapter) FetchPage(ctx context.Context, cursor string, dateFrom time.Time) (Page, error) {
	current, fetchURL := a.resolve(cursor, dateFrom)

	var resp fatResponse
	if err := a.client.GetJSON(ctx, fetchURL, &resp); err != nil {
		return Page{}, fmt.Errorf("find a tender %s stage: %w", current, err)
	}

	if len(resp.Releases) == 0 {
		if current == stageTender {
			return Page{NextCursor: awardStageCursor}, nil
		}
		return Page{}, nil
	}

	next := resp.Links.Next
	if next == "" {
		if current == stageTender {
			next = awardStageCursor
		}
		// award pass exhausted: leave the cursor empty
	}

	return Page{Releases: resp.Releases, NextCursor: next}, nil
}

// resolve maps the incoming cursor to the stage being fetched and the URL to
// request.
func (a *FindATenderAdapter) resolve(cursor string, dateFrom time.Time) (stage, string) {
	switch {
	case cursor == "":
		return stageTender, a.stageURL(stageTender, dateFrom)
	case cursor == awardStageCursor:
		return stageAward, a.stageURL(stageAward, dateFrom)
	default:
		// Full follow-up URL from links.next.
		return stageFromURL(cursor), cursor
	}
}

func (a *FindATenderAdapter) stageURL(s stage, dateFrom time.Time) string {
	from := dateFrom
	if from.IsZero() {
		from = a.backfillStart
	}
	params := url.Values{}
	params.Set("updatedFrom", from.UTC().Format(time.RFC3339))
	params.Set("stages", s.String())
	params.Set("limit", fmt.Sprint(pageSize))
	return a.baseURL + "?" + params.Encode()
}

func stageFromURL(raw string) stage {
	u, err := url.Parse(raw)
	if err == nil && strings.Contains(u.Query().Get("stages"), "award") {
		return stageAward
	}
	return stageTender
}
