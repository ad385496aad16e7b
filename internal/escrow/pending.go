package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"chainrails/internal/errclass"
	"chainrails/internal/log"
)

// PendingActions resolves the ids an address can act on right now. It is an
// explicit two-tier strategy: the contract's own pending-actions query is
// the primary source; when that is unavailable the candidate lister's
// sent/received ids are cross-referenced against each escrow's live status.
// Both tiers produce the same typed result.
func (g *Gateway) PendingActions(ctx context.Context, address string) (PendingActionSet, error) {
	if !common.IsHexAddress(address) {
		return PendingActionSet{}, errclass.Reject(fmt.Sprintf("%q is not a valid address", address))
	}
	addr := common.HexToAddress(address)

	set, err := g.backend.PendingActions(ctx, addr)
	if err == nil {
		return normalizeSet(set), nil
	}
	if g.candidates == nil {
		return PendingActionSet{}, errclass.Classify(fmt.Errorf("pending actions: %w", err))
	}

	log.Escrow.Warn().Err(err).Str("address", addr.Hex()).Msg("pending-actions query failed, cross-referencing candidates")
	return g.pendingFromCandidates(ctx, addr)
}

func (g *Gateway) pendingFromCandidates(ctx context.Context, addr common.Address) (PendingActionSet, error) {
	sent, received, err := g.candidates(ctx, addr.Hex())
	if err != nil {
		return PendingActionSet{}, errclass.Classify(fmt.Errorf("pending candidates: %w", err))
	}

	set := PendingActionSet{Claimable: []uint64{}, Refundable: []uint64{}}
	for _, id := range received {
		d, err := g.Details(ctx, id)
		if err != nil {
			continue
		}
		if d.Status == StatusPending && d.Receiver == addr {
			set.Claimable = append(set.Claimable, id)
		}
	}
	for _, id := range sent {
		d, err := g.Details(ctx, id)
		if err != nil {
			continue
		}
		if d.Status == StatusPending && d.Sender == addr {
			set.Refundable = append(set.Refundable, id)
		}
	}
	return set, nil
}

func normalizeSet(set PendingActionSet) PendingActionSet {
	if set.Claimable == nil {
		set.Claimable = []uint64{}
	}
	if set.Refundable == nil {
		set.Refundable = []uint64{}
	}
	return set
}
