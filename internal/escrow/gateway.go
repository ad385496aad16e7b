package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"chainrails/internal/errclass"
	"chainrails/internal/log"
	"chainrails/internal/units"
)

// DefaultReceiptTimeout bounds how long a submission waits for its receipt.
// Hitting it does not mean the transaction failed, only that its outcome is
// unknown; it is reported as a network failure, never as a revert.
const DefaultReceiptTimeout = 60 * time.Second

// CandidateLister supplies the fallback source for pending actions: the
// escrow ids this address has sent and received, typically from the local
// cache. Each candidate is then checked against live contract status.
type CandidateLister func(ctx context.Context, address string) (sent, received []uint64, err error)

// Gateway executes escrow operations against one (chain, network) contract.
type Gateway struct {
	backend        Backend
	receiptTimeout time.Duration
	candidates     CandidateLister
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithReceiptTimeout overrides the confirmation wait bound.
func WithReceiptTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.receiptTimeout = d }
}

// WithCandidateLister installs the pending-actions fallback source.
func WithCandidateLister(l CandidateLister) Option {
	return func(g *Gateway) { g.candidates = l }
}

// NewGateway wraps a backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:        backend,
		receiptTimeout: DefaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create submits a new escrow and waits for confirmation. All preconditions
// are checked locally first, so a call doomed to revert never costs gas.
// The escrow id comes from the EscrowCreated event; if the event cannot be
// parsed the contract counter is read instead, a best-effort fallback that
// can race with concurrent creations (surfaced via IDSource).
func (g *Gateway) Create(ctx context.Context, senderKey *ecdsa.PrivateKey, receiver string, amount decimal.Decimal, gasLimit uint64) (CreateResult, error) {
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	recvAddr, err := g.validateCreate(sender, receiver, amount)
	if err != nil {
		return CreateResult{}, err
	}
	wei, err := units.ToWei(amount)
	if err != nil {
		return CreateResult{}, errclass.Reject(err.Error())
	}

	txHash, err := g.backend.SubmitCreate(ctx, senderKey, recvAddr, wei, gasLimit)
	if err != nil {
		return CreateResult{}, errclass.Classify(fmt.Errorf("create escrow: %w", err))
	}
	log.Escrow.Info().Str("tx", txHash.Hex()).Str("receiver", recvAddr.Hex()).Msg("escrow creation submitted")

	receipt, err := g.awaitReceipt(ctx, txHash)
	if err != nil {
		return CreateResult{}, err
	}

	escrowID, err := g.backend.CreatedID(receipt)
	source := IDFromEvent
	if err != nil {
		// Non-standard node or unparseable logs: fall back to the running
		// counter. Can return a neighbour's id if creations race.
		log.Escrow.Warn().Err(err).Str("tx", txHash.Hex()).Msg("event parse failed, reading escrow counter")
		count, countErr := g.backend.EscrowCount(ctx)
		if countErr != nil {
			return CreateResult{}, errclass.Classify(fmt.Errorf("escrow id recovery: %w", countErr))
		}
		escrowID = count
		source = IDFromCounter
	}

	return CreateResult{
		TxHash:   txHash.Hex(),
		EscrowID: escrowID,
		IDSource: source,
		Receipt:  receipt,
	}, nil
}

// Claim releases a pending escrow to its receiver. The caller must hold the
// receiver's key; party, existence and status are verified against the
// contract's own record before anything is signed.
func (g *Gateway) Claim(ctx context.Context, receiverKey *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (ActionResult, error) {
	caller := crypto.PubkeyToAddress(receiverKey.PublicKey)
	if err := g.validateAction(ctx, OpClaim, caller, escrowID); err != nil {
		return ActionResult{}, err
	}

	txHash, err := g.backend.SubmitClaim(ctx, receiverKey, escrowID, gasLimit)
	if err != nil {
		return ActionResult{}, errclass.Classify(fmt.Errorf("claim escrow %d: %w", escrowID, err))
	}
	log.Escrow.Info().Str("tx", txHash.Hex()).Uint64("escrow", escrowID).Msg("claim submitted")

	receipt, err := g.awaitReceipt(ctx, txHash)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{TxHash: txHash.Hex(), Receipt: receipt}, nil
}

// Refund returns a pending escrow to its sender.
func (g *Gateway) Refund(ctx context.Context, senderKey *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (ActionResult, error) {
	caller := crypto.PubkeyToAddress(senderKey.PublicKey)
	if err := g.validateAction(ctx, OpRefund, caller, escrowID); err != nil {
		return ActionResult{}, err
	}

	txHash, err := g.backend.SubmitRefund(ctx, senderKey, escrowID, gasLimit)
	if err != nil {
		return ActionResult{}, errclass.Classify(fmt.Errorf("refund escrow %d: %w", escrowID, err))
	}
	log.Escrow.Info().Str("tx", txHash.Hex()).Uint64("escrow", escrowID).Msg("refund submitted")

	receipt, err := g.awaitReceipt(ctx, txHash)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{TxHash: txHash.Hex(), Receipt: receipt}, nil
}

// Details reads the contract's canonical record for an escrow id.
func (g *Gateway) Details(ctx context.Context, escrowID uint64) (Details, error) {
	d, err := g.backend.EscrowDetails(ctx, escrowID)
	if err != nil {
		return Details{}, errclass.Classify(fmt.Errorf("escrow %d details: %w", escrowID, err))
	}
	if d.Sender == (common.Address{}) {
		return Details{}, ErrNotFound
	}
	return d, nil
}

// Count reads the contract's running escrow counter.
func (g *Gateway) Count(ctx context.Context) (uint64, error) {
	count, err := g.backend.EscrowCount(ctx)
	if err != nil {
		return 0, errclass.Classify(fmt.Errorf("escrow count: %w", err))
	}
	return count, nil
}

// CallMsg builds the call spec for gas estimation of an operation.
func (g *Gateway) CallMsg(op Op, sender common.Address, escrowID uint64, receiver common.Address, amount decimal.Decimal) (ethereum.CallMsg, error) {
	value, err := units.ToWei(amount)
	if err != nil {
		return ethereum.CallMsg{}, errclass.Reject(err.Error())
	}
	return g.backend.CallMsg(op, sender, escrowID, receiver, value)
}

func (g *Gateway) validateCreate(sender common.Address, receiver string, amount decimal.Decimal) (common.Address, error) {
	if !common.IsHexAddress(receiver) {
		return common.Address{}, errclass.Reject(fmt.Sprintf("receiver %q is not a valid address", receiver))
	}
	recvAddr := common.HexToAddress(receiver)
	if recvAddr == (common.Address{}) {
		return common.Address{}, errclass.Reject("receiver must not be the zero address")
	}
	if recvAddr == sender {
		return common.Address{}, errclass.Reject("receiver must differ from sender")
	}
	if !amount.IsPositive() {
		return common.Address{}, errclass.Reject("amount must be greater than zero")
	}
	return recvAddr, nil
}

// validateAction reads the live record and rejects a claim/refund the
// contract would revert: missing escrow, wrong party, terminal status.
func (g *Gateway) validateAction(ctx context.Context, op Op, caller common.Address, escrowID uint64) error {
	d, err := g.Details(ctx, escrowID)
	if err == ErrNotFound {
		return errclass.Reject(fmt.Sprintf("escrow %d does not exist", escrowID))
	}
	if err != nil {
		return err
	}

	switch op {
	case OpClaim:
		if d.Receiver != caller {
			return errclass.Reject("only the receiver can claim this escrow")
		}
	case OpRefund:
		if d.Sender != caller {
			return errclass.Reject("only the sender can refund this escrow")
		}
	}
	if d.Status != StatusPending {
		return errclass.Reject(fmt.Sprintf("escrow %d is no longer pending", escrowID))
	}
	if d.Amount == nil || d.Amount.Sign() <= 0 {
		return errclass.Reject(fmt.Sprintf("escrow %d holds no value", escrowID))
	}
	return nil
}

// awaitReceipt waits for confirmation under the gateway's timeout. A mined
// receipt with failed status is a revert; a timeout is an unknown outcome.
func (g *Gateway) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	receipt, err := g.backend.WaitMined(waitCtx, txHash)
	if err != nil {
		// The caller abandoning the wait and the timer elapsing are both
		// unknown outcomes, but they deserve accurate messages.
		if ctx.Err() != nil {
			return nil, errclass.New(errclass.NetworkError,
				fmt.Sprintf("confirmation wait for %s was interrupted; the transaction may yet succeed", txHash.Hex()),
				err)
		}
		if waitCtx.Err() != nil {
			return nil, errclass.New(errclass.NetworkError,
				fmt.Sprintf("transaction %s is still unconfirmed after %s; it may yet succeed", txHash.Hex(), g.receiptTimeout),
				err)
		}
		return nil, errclass.Classify(fmt.Errorf("wait receipt %s: %w", txHash.Hex(), err))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, errclass.New(errclass.ContractRevert, "", fmt.Errorf("transaction %s reverted", txHash.Hex()))
	}
	return receipt, nil
}
