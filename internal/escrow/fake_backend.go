package escrow

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeBackend emulates the escrow contract in memory for tests and for
// running the daemon without a configured chain.
type FakeBackend struct {
	mu      sync.Mutex
	escrows map[uint64]*Details
	count   uint64
	txSeq   uint64
	created map[common.Hash]uint64

	// SubmitCalls counts mutating submissions, letting tests assert that
	// rejected requests never reached the network layer.
	SubmitCalls int

	// FailCreatedID forces the counter fallback path for id extraction.
	FailCreatedID bool
	// WaitBlock makes WaitMined block until the context ends, simulating a
	// transaction that never confirms within the caller's deadline.
	WaitBlock bool
	// FailReceipt makes WaitMined return a reverted receipt.
	FailReceipt bool
	// PendingErr makes the pending-actions query fail, forcing the
	// candidate fallback.
	PendingErr error
	// DetailsErr simulates per-id RPC failures.
	DetailsErr map[uint64]error

	now func() time.Time
}

// NewFakeBackend builds an empty in-memory contract.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		escrows: make(map[uint64]*Details),
		created: make(map[common.Hash]uint64),
		now:     time.Now,
	}
}

func (f *FakeBackend) nextTxHash() common.Hash {
	f.txSeq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("fake-tx-%d", f.txSeq)))
	return common.BytesToHash(sum[:])
}

func (f *FakeBackend) SubmitCreate(_ context.Context, key *ecdsa.PrivateKey, receiver common.Address, amountWei *big.Int, _ uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubmitCalls++

	f.count++
	id := f.count
	f.escrows[id] = &Details{
		Sender:    crypto.PubkeyToAddress(key.PublicKey),
		Receiver:  receiver,
		Amount:    new(big.Int).Set(amountWei),
		Status:    StatusPending,
		CreatedAt: uint64(f.now().Unix()),
	}
	hash := f.nextTxHash()
	f.created[hash] = id
	return hash, nil
}

func (f *FakeBackend) SubmitClaim(_ context.Context, _ *ecdsa.PrivateKey, escrowID uint64, _ uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubmitCalls++

	d, ok := f.escrows[escrowID]
	if !ok || d.Status != StatusPending {
		return common.Hash{}, fmt.Errorf("execution reverted: NotClaimable")
	}
	d.Status = StatusClaimed
	d.ClaimedAt = uint64(f.now().Unix())
	return f.nextTxHash(), nil
}

func (f *FakeBackend) SubmitRefund(_ context.Context, _ *ecdsa.PrivateKey, escrowID uint64, _ uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubmitCalls++

	d, ok := f.escrows[escrowID]
	if !ok || d.Status != StatusPending {
		return common.Hash{}, fmt.Errorf("execution reverted: NotRefundable")
	}
	d.Status = StatusRefunded
	d.RefundedAt = uint64(f.now().Unix())
	return f.nextTxHash(), nil
}

func (f *FakeBackend) EscrowDetails(_ context.Context, escrowID uint64) (Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.DetailsErr[escrowID]; ok && err != nil {
		return Details{}, err
	}
	d, ok := f.escrows[escrowID]
	if !ok {
		// A missing id reads as an all-zero record, like the contract.
		return Details{}, nil
	}
	out := *d
	out.Amount = new(big.Int).Set(d.Amount)
	return out, nil
}

func (f *FakeBackend) PendingActions(_ context.Context, addr common.Address) (PendingActionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PendingErr != nil {
		return PendingActionSet{}, f.PendingErr
	}
	set := PendingActionSet{Claimable: []uint64{}, Refundable: []uint64{}}
	for id, d := range f.escrows {
		if d.Status != StatusPending {
			continue
		}
		if d.Receiver == addr {
			set.Claimable = append(set.Claimable, id)
		}
		if d.Sender == addr {
			set.Refundable = append(set.Refundable, id)
		}
	}
	return set, nil
}

func (f *FakeBackend) EscrowCount(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *FakeBackend) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.WaitBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	status := types.ReceiptStatusSuccessful
	if f.FailReceipt {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: txHash}, nil
}

func (f *FakeBackend) CreatedID(receipt *types.Receipt) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreatedID {
		return 0, fmt.Errorf("no EscrowCreated event in receipt %s", receipt.TxHash.Hex())
	}
	id, ok := f.created[receipt.TxHash]
	if !ok {
		return 0, fmt.Errorf("no EscrowCreated event in receipt %s", receipt.TxHash.Hex())
	}
	return id, nil
}

func (f *FakeBackend) CallMsg(_ Op, sender common.Address, _ uint64, _ common.Address, value *big.Int) (ethereum.CallMsg, error) {
	return ethereum.CallMsg{From: sender, Value: value}, nil
}
