// Package escrow binds the engine to the deployed escrow contract: the
// three mutating calls and the read surface, with every precondition the
// contract would revert on checked locally before a transaction is signed.
package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract status encoding.
const (
	StatusPending  uint8 = 0
	StatusClaimed  uint8 = 1
	StatusRefunded uint8 = 2
)

// Op names a mutating contract call.
type Op string

const (
	OpCreate Op = "createEscrow"
	OpClaim  Op = "claim"
	OpRefund Op = "refund"
)

// Details is the contract's canonical record of one escrow. Timestamps are
// unix seconds; zero means the event has not happened.
type Details struct {
	Sender     common.Address
	Receiver   common.Address
	Amount     *big.Int
	Status     uint8
	CreatedAt  uint64
	ClaimedAt  uint64
	RefundedAt uint64
}

// PendingActionSet lists the escrow ids an address can currently act on.
type PendingActionSet struct {
	Claimable  []uint64 `json:"claimable"`
	Refundable []uint64 `json:"refundable"`
}

// IDSource tells callers whether an escrow id came from the creation event
// or from the best-effort counter fallback.
type IDSource string

const (
	IDFromEvent   IDSource = "event"
	IDFromCounter IDSource = "counter"
)

// CreateResult is the outcome of a confirmed creation.
type CreateResult struct {
	TxHash   string
	EscrowID uint64
	IDSource IDSource
	Receipt  *types.Receipt
}

// ActionResult is the outcome of a confirmed claim or refund.
type ActionResult struct {
	TxHash  string
	Receipt *types.Receipt
}

// ErrNotFound marks an escrow id the contract has no record of.
var ErrNotFound = errors.New("escrow not found")

// Backend is the chain-facing half of the gateway. EthBackend implements it
// over JSON-RPC; FakeBackend implements it in memory for tests.
type Backend interface {
	SubmitCreate(ctx context.Context, key *ecdsa.PrivateKey, receiver common.Address, amountWei *big.Int, gasLimit uint64) (common.Hash, error)
	SubmitClaim(ctx context.Context, key *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (common.Hash, error)
	SubmitRefund(ctx context.Context, key *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (common.Hash, error)
	EscrowDetails(ctx context.Context, escrowID uint64) (Details, error)
	PendingActions(ctx context.Context, addr common.Address) (PendingActionSet, error)
	EscrowCount(ctx context.Context) (uint64, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CreatedID(receipt *types.Receipt) (uint64, error)
	CallMsg(op Op, sender common.Address, escrowID uint64, receiver common.Address, value *big.Int) (ethereum.CallMsg, error)
}
