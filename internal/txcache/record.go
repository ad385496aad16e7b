// Package txcache is the per-(chain, network, address) local store of
// escrow records, reconciled against the canonical on-chain state.
package txcache

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chainrails/internal/escrow"
	"chainrails/internal/units"
)

// Status is the cached escrow state. Pending is the only non-terminal one.
type Status string

const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// StatusFromChain maps the contract's uint8 encoding.
func StatusFromChain(code uint8) (Status, error) {
	switch code {
	case escrow.StatusPending:
		return StatusPending, nil
	case escrow.StatusClaimed:
		return StatusClaimed, nil
	case escrow.StatusRefunded:
		return StatusRefunded, nil
	default:
		return "", fmt.Errorf("unknown chain status %d", code)
	}
}

// Direction is the record's perspective relative to the scope address.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Record is one cached escrow entry. Records are never deleted; a record is
// final once its status leaves Pending.
type Record struct {
	EscrowID         uint64          `json:"escrowId"`
	ChainID          string          `json:"chainId"`
	NetworkID        string          `json:"networkId"`
	Sender           string          `json:"sender"`
	Receiver         string          `json:"receiver"`
	Amount           decimal.Decimal `json:"amount"`
	Status           Status          `json:"status"`
	Direction        Direction       `json:"direction"`
	TxHash           string          `json:"txHash"`
	ConfirmingTxHash string          `json:"confirmingTxHash,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ClaimedAt        *time.Time      `json:"claimedAt,omitempty"`
	RefundedAt       *time.Time      `json:"refundedAt,omitempty"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// applyDetails copies the chain's canonical state onto the record. Terminal
// cached statuses are left alone: reconciliation never downgrades.
func (r *Record) applyDetails(d escrow.Details, now time.Time) (changed bool, err error) {
	if r.Status.Terminal() {
		return false, nil
	}
	status, err := StatusFromChain(d.Status)
	if err != nil {
		return false, err
	}
	if status == r.Status {
		return false, nil
	}

	r.Status = status
	if d.ClaimedAt != 0 {
		at := time.Unix(int64(d.ClaimedAt), 0).UTC()
		r.ClaimedAt = &at
	}
	if d.RefundedAt != 0 {
		at := time.Unix(int64(d.RefundedAt), 0).UTC()
		r.RefundedAt = &at
	}
	if d.Amount != nil {
		r.Amount = units.FromWei(d.Amount)
	}
	r.LastUpdated = now.UTC()
	return true, nil
}

// Scope identifies one address's history on one network.
type Scope struct {
	ChainID   string
	NetworkID string
	Address   string
}

// Key builds the persistent store key. Addresses are lowercased so the same
// account always maps to the same scope regardless of checksum casing.
func (s Scope) Key() string {
	return fmt.Sprintf("escrow_tx_history_%s_%s_%s", s.ChainID, s.NetworkID, strings.ToLower(s.Address))
}
