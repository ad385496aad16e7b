package txcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chainrails/internal/log"
)

// Cache wraps a Store with the escrow-history semantics: deduplicated
// appends, legal status transitions and newest-first reads. Scopes never
// collide across addresses, so no cross-scope locking is needed.
type Cache struct {
	store Store
	now   func() time.Time
}

// New builds a cache over the given store.
func New(store Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Append inserts a record into the scope unless an equivalent one is
// already cached. A retried write with the same txHash, or the same
// (escrowId, direction) pair, is a no-op rather than a duplicate.
func (c *Cache) Append(ctx context.Context, scope Scope, rec Record) error {
	records, err := c.store.Load(ctx, scope.Key())
	if err != nil {
		return fmt.Errorf("load %s: %w", scope.Key(), err)
	}

	for _, existing := range records {
		if existing.TxHash == rec.TxHash {
			return nil
		}
		if existing.EscrowID == rec.EscrowID && existing.Direction == rec.Direction {
			return nil
		}
	}

	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = c.now().UTC()
	}
	records = append(records, rec)
	return c.store.Save(ctx, scope.Key(), records)
}

// RecordCreation writes both views of a new escrow: the outgoing record
// under the sender's scope and the incoming record under the receiver's,
// sharing the same escrow id and tx hash.
func (c *Cache) RecordCreation(ctx context.Context, chainID, networkID string, escrowID uint64, sender, receiver string, amount decimal.Decimal, txHash string) error {
	now := c.now().UTC()
	base := Record{
		EscrowID:    escrowID,
		ChainID:     chainID,
		NetworkID:   networkID,
		Sender:      sender,
		Receiver:    receiver,
		Amount:      amount,
		Status:      StatusPending,
		TxHash:      txHash,
		CreatedAt:   now,
		LastUpdated: now,
	}

	outgoing := base
	outgoing.Direction = DirectionOutgoing
	if err := c.Append(ctx, Scope{ChainID: chainID, NetworkID: networkID, Address: sender}, outgoing); err != nil {
		return fmt.Errorf("record outgoing: %w", err)
	}

	incoming := base
	incoming.Direction = DirectionIncoming
	if err := c.Append(ctx, Scope{ChainID: chainID, NetworkID: networkID, Address: receiver}, incoming); err != nil {
		return fmt.Errorf("record incoming: %w", err)
	}
	return nil
}

// UpdateStatus rewrites matching records in place. Only Pending records may
// transition; an attempt to move a terminal record is rejected.
func (c *Cache) UpdateStatus(ctx context.Context, scope Scope, escrowID uint64, newStatus Status, confirmingTxHash string) error {
	records, err := c.store.Load(ctx, scope.Key())
	if err != nil {
		return fmt.Errorf("load %s: %w", scope.Key(), err)
	}

	now := c.now().UTC()
	changed := false
	for i := range records {
		if records[i].EscrowID != escrowID {
			continue
		}
		if records[i].Status == newStatus {
			continue
		}
		if records[i].Status.Terminal() {
			return fmt.Errorf("escrow %d is already %s", escrowID, records[i].Status)
		}

		records[i].Status = newStatus
		records[i].ConfirmingTxHash = confirmingTxHash
		records[i].LastUpdated = now
		switch newStatus {
		case StatusClaimed:
			at := now
			records[i].ClaimedAt = &at
		case StatusRefunded:
			at := now
			records[i].RefundedAt = &at
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return c.store.Save(ctx, scope.Key(), records)
}

// History returns the scope's records newest-first, capped at limit
// (0 = unlimited).
func (c *Cache) History(ctx context.Context, scope Scope, limit int) ([]Record, error) {
	records, err := c.store.Load(ctx, scope.Key())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope.Key(), err)
	}
	return newestFirst(records, limit), nil
}

// Size reports the number of cached records for a scope, for metrics.
func (c *Cache) Size(ctx context.Context, scope Scope) int {
	records, err := c.store.Load(ctx, scope.Key())
	if err != nil {
		log.Cache.Warn().Err(err).Str("scope", scope.Key()).Msg("size lookup failed")
		return 0
	}
	return len(records)
}

// newestFirst orders by creation time descending, falling back to append
// order for equal timestamps, and applies the limit.
func newestFirst(records []Record, limit int) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	// Insertion sort keeps equal-timestamp records in append order, which
	// is stable across runs.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NormalizeAddress lowercases an address the way scope keys do.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
