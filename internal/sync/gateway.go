package sync

import (
	"context"
	"strings"

	"github.com/tendhunt/data-sync-service/internal/mapper"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/storage"
)

// Gateway is the write path between mapped batches and the store. It owns
// the garbage filter in front of the notice upsert and the derivation of
// organization seeds from a batch.
type Gateway struct {
	store storage.Store
}

// NewGateway creates a gateway writing through the given store.
func NewGateway(store storage.Store) *Gateway {
	return &Gateway{store: store}
}

// UpsertNotices writes a mapped batch through the store's idempotent
// per-record upsert. Records with neither a real title nor any description
// are garbage upstream artifacts and are skipped; the number actually
// written is returned.
func (g *Gateway) UpsertNotices(ctx context.Context, batch []models.Notice) (int, error) {
	kept := make([]models.Notice, 0, len(batch))
	for _, n := range batch {
		if hasContent(n) {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}
	if err := g.store.UpsertNotices(ctx, kept); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// ExtractOrganizations derives buyer organizations from a batch and merges
// them into the organization store. Each distinct key is merged once, with
// the counter increased by the number of notices referencing it; identity
// fields stick from the first notice observed for the key. Returns the
// number of organizations newly created.
func (g *Gateway) ExtractOrganizations(ctx context.Context, batch []models.Notice) (int, error) {
	var order []string
	seeds := make(map[string]*models.OrganizationSeed)

	for _, n := range batch {
		if !hasContent(n) {
			continue
		}
		key := mapper.OrganizationKey(n)
		if key == "" {
			continue
		}
		if seed, ok := seeds[key]; ok {
			seed.Notices++
			continue
		}
		seeds[key] = &models.OrganizationSeed{
			OrgID:   key,
			Name:    n.BuyerName,
			Sector:  n.Sector,
			Region:  n.BuyerRegion,
			Notices: 1,
		}
		order = append(order, key)
	}

	if len(order) == 0 {
		return 0, nil
	}

	flat := make([]models.OrganizationSeed, 0, len(order))
	for _, key := range order {
		flat = append(flat, *seeds[key])
	}
	return g.store.MergeOrganizations(ctx, flat)
}

// hasContent reports whether a notice carries enough substance to be worth
// storing: a real title or a non-blank description.
func hasContent(n models.Notice) bool {
	if n.Title != "" && n.Title != "Untitled" {
		return true
	}
	return strings.TrimSpace(n.Description) != ""
}
