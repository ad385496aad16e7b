package txcache

import (
	"context"
	"fmt"

	"chainrails/internal/escrow"
	"chainrails/internal/log"
)

// DetailsFetcher reads an escrow's canonical on-chain record. The escrow
// gateway satisfies it.
type DetailsFetcher interface {
	Details(ctx context.Context, escrowID uint64) (escrow.Details, error)
}

// Reconcile refreshes every non-terminal cached record in the scope against
// the chain and returns the history newest-first, capped at limit.
//
// A failed lookup for one record falls back to that record's last cached
// value instead of failing the whole batch: one bad RPC call must not hide
// the rest of the user's history. Running it twice against unchanged chain
// state yields identical output.
func (c *Cache) Reconcile(ctx context.Context, scope Scope, limit int, fetcher DetailsFetcher) ([]Record, error) {
	records, err := c.store.Load(ctx, scope.Key())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope.Key(), err)
	}

	changed := false
	for i := range records {
		if records[i].Status.Terminal() {
			continue
		}

		d, err := fetcher.Details(ctx, records[i].EscrowID)
		if err != nil {
			log.Cache.Warn().Err(err).Uint64("escrow", records[i].EscrowID).
				Msg("reconcile lookup failed, keeping cached value")
			continue
		}

		updated, err := records[i].applyDetails(d, c.now())
		if err != nil {
			log.Cache.Warn().Err(err).Uint64("escrow", records[i].EscrowID).
				Msg("reconcile skipped record with unknown chain status")
			continue
		}
		if updated {
			changed = true
		}
	}

	if changed {
		if err := c.store.Save(ctx, scope.Key(), records); err != nil {
			return nil, fmt.Errorf("save %s: %w", scope.Key(), err)
		}
	}
	return newestFirst(records, limit), nil
}
