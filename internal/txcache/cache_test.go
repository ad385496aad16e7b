package txcache

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"chainrails/internal/escrow"
)

var (
	senderAddr   = "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B"
	receiverAddr = "0x4E83362442B8d1beC281594cEa3050c8EB01311C"
)

func testScope(addr string) Scope {
	return Scope{ChainID: "ethereum", NetworkID: "sepolia", Address: addr}
}

func pendingRecord(id uint64, txHash string) Record {
	return Record{
		EscrowID:  id,
		ChainID:   "ethereum",
		NetworkID: "sepolia",
		Sender:    senderAddr,
		Receiver:  receiverAddr,
		Amount:    decimal.NewFromFloat(0.01),
		Status:    StatusPending,
		Direction: DirectionOutgoing,
		TxHash:    txHash,
		CreatedAt: time.Unix(1_700_000_000+int64(id), 0).UTC(),
	}
}

func TestAppendDeduplicates(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	rec := pendingRecord(1, "0xaaa")
	if err := c.Append(ctx, scope, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Retried write with the same tx hash.
	if err := c.Append(ctx, scope, rec); err != nil {
		t.Fatalf("retried append: %v", err)
	}
	// Same escrow and direction under a different hash.
	dup := rec
	dup.TxHash = "0xbbb"
	if err := c.Append(ctx, scope, dup); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := c.History(ctx, scope, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(history))
	}
}

func TestScopeKeyCaseInsensitive(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	if err := c.Append(ctx, testScope(senderAddr), pendingRecord(1, "0xaaa")); err != nil {
		t.Fatalf("append: %v", err)
	}
	history, err := c.History(ctx, testScope(NormalizeAddress(senderAddr)), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatal("checksum-cased and lowercase addresses must share a scope")
	}
}

func TestRecordCreationWritesBothSides(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	err := c.RecordCreation(ctx, "ethereum", "sepolia", 7, senderAddr, receiverAddr, decimal.NewFromFloat(0.01), "0xcc1")
	if err != nil {
		t.Fatalf("record creation: %v", err)
	}

	out, _ := c.History(ctx, testScope(senderAddr), 0)
	in, _ := c.History(ctx, testScope(receiverAddr), 0)
	if len(out) != 1 || len(in) != 1 {
		t.Fatalf("expected one record per side, got %d/%d", len(out), len(in))
	}
	if out[0].Direction != DirectionOutgoing || in[0].Direction != DirectionIncoming {
		t.Fatal("direction mismatch")
	}
	if out[0].EscrowID != in[0].EscrowID || out[0].TxHash != in[0].TxHash {
		t.Fatal("both sides must share escrow id and tx hash")
	}
	if out[0].Status != StatusPending || in[0].Status != StatusPending {
		t.Fatal("fresh records must be pending")
	}
}

func TestUpdateStatusLegality(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	if err := c.Append(ctx, scope, pendingRecord(1, "0xaaa")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.UpdateStatus(ctx, scope, 1, StatusClaimed, "0xconfirm"); err != nil {
		t.Fatalf("claim transition: %v", err)
	}

	history, _ := c.History(ctx, scope, 0)
	if history[0].Status != StatusClaimed {
		t.Fatalf("status = %s", history[0].Status)
	}
	if history[0].ConfirmingTxHash != "0xconfirm" || history[0].ClaimedAt == nil {
		t.Fatal("confirming hash and claimedAt must be stamped")
	}

	// Terminal states are append-only.
	if err := c.UpdateStatus(ctx, scope, 1, StatusRefunded, "0xother"); err == nil {
		t.Fatal("claimed -> refunded must be rejected")
	}
	if err := c.UpdateStatus(ctx, scope, 1, StatusPending, "0xother"); err == nil {
		t.Fatal("downgrade out of a terminal state must be rejected")
	}
	// Re-applying the same status is an idempotent no-op.
	if err := c.UpdateStatus(ctx, scope, 1, StatusClaimed, "0xagain"); err != nil {
		t.Fatalf("idempotent update: %v", err)
	}
}

func TestHistoryNewestFirstAndLimit(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	for i := uint64(1); i <= 5; i++ {
		rec := pendingRecord(i, "0xhash"+string(rune('a'+i)))
		if err := c.Append(ctx, scope, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	history, err := c.History(ctx, scope, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 records, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.After(history[i-1].CreatedAt) {
			t.Fatal("history must be newest-first")
		}
	}

	capped, _ := c.History(ctx, scope, 2)
	if len(capped) != 2 || capped[0].EscrowID != 5 {
		t.Fatalf("limit 2 should keep the two newest, got %+v", capped)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	scope := testScope(senderAddr)

	c := New(store)
	if err := c.Append(ctx, scope, pendingRecord(1, "0xaaa")); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	history, err := New(reopened).History(ctx, scope, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].TxHash != "0xaaa" {
		t.Fatalf("unexpected persisted records %+v", history)
	}
}

type stubFetcher struct {
	details map[uint64]escrow.Details
	errs    map[uint64]error
	calls   int
}

func (s *stubFetcher) Details(_ context.Context, id uint64) (escrow.Details, error) {
	s.calls++
	if err := s.errs[id]; err != nil {
		return escrow.Details{}, err
	}
	return s.details[id], nil
}

func chainClaimed(at uint64) escrow.Details {
	return escrow.Details{
		Sender:    common.HexToAddress(senderAddr),
		Receiver:  common.HexToAddress(receiverAddr),
		Amount:    big.NewInt(10_000_000_000_000_000),
		Status:    escrow.StatusClaimed,
		CreatedAt: at - 60,
		ClaimedAt: at,
	}
}

func chainPending() escrow.Details {
	return escrow.Details{
		Sender:    common.HexToAddress(senderAddr),
		Receiver:  common.HexToAddress(receiverAddr),
		Amount:    big.NewInt(10_000_000_000_000_000),
		Status:    escrow.StatusPending,
		CreatedAt: 1_700_000_000,
	}
}

func TestReconcileRefreshesPending(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	if err := c.Append(ctx, scope, pendingRecord(3, "0x3")); err != nil {
		t.Fatalf("append: %v", err)
	}

	fetcher := &stubFetcher{details: map[uint64]escrow.Details{3: chainClaimed(1_700_000_500)}}
	records, err := c.Reconcile(ctx, scope, 0, fetcher)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if records[0].Status != StatusClaimed || records[0].ClaimedAt == nil {
		t.Fatalf("record not refreshed: %+v", records[0])
	}

	// The refresh must be persisted, not just returned.
	history, _ := c.History(ctx, scope, 0)
	if history[0].Status != StatusClaimed {
		t.Fatal("refreshed status must be written back to the cache")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	if err := c.Append(ctx, scope, pendingRecord(3, "0x3")); err != nil {
		t.Fatalf("append: %v", err)
	}
	fetcher := &stubFetcher{details: map[uint64]escrow.Details{3: chainClaimed(1_700_000_500)}}

	first, err := c.Reconcile(ctx, scope, 0, fetcher)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := c.Reconcile(ctx, scope, 0, fetcher)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatal("reconcile must be idempotent on unchanged chain state")
	}
}

func TestReconcileSkipsTerminalRecords(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	rec := pendingRecord(4, "0x4")
	rec.Status = StatusRefunded
	if err := c.Append(ctx, scope, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	fetcher := &stubFetcher{details: map[uint64]escrow.Details{4: chainPending()}}
	records, err := c.Reconcile(ctx, scope, 0, fetcher)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("terminal records must not be re-fetched")
	}
	if records[0].Status != StatusRefunded {
		t.Fatal("terminal status must never be downgraded")
	}
}

func TestReconcilePartialFailureTolerance(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	scope := testScope(senderAddr)

	for _, id := range []uint64{3, 7, 9} {
		if err := c.Append(ctx, scope, pendingRecord(id, "0x"+string(rune('0'+id)))); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}

	fetcher := &stubFetcher{
		details: map[uint64]escrow.Details{
			3: chainClaimed(1_700_000_500),
			9: chainClaimed(1_700_000_600),
		},
		errs: map[uint64]error{7: errors.New("connection refused")},
	}

	records, err := c.Reconcile(ctx, scope, 0, fetcher)
	if err != nil {
		t.Fatalf("reconcile must tolerate one bad lookup: %v", err)
	}

	byID := map[uint64]Record{}
	for _, r := range records {
		byID[r.EscrowID] = r
	}
	if byID[3].Status != StatusClaimed || byID[9].Status != StatusClaimed {
		t.Fatal("healthy records must still be refreshed")
	}
	if byID[7].Status != StatusPending {
		t.Fatal("failed lookup must fall back to the last cached value")
	}
	if !reflect.DeepEqual(byID[7].Amount, decimal.NewFromFloat(0.01)) {
		t.Fatalf("cached fields must be untouched for the failed record")
	}
}
