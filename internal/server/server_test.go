package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"chainrails/internal/escrow"
	"chainrails/internal/gas"
	"chainrails/internal/registry"
	"chainrails/internal/txcache"
	"chainrails/internal/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type stubReader struct {
	balance *big.Int
}

func (s *stubReader) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 80_000, nil
}

func (s *stubReader) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (s *stubReader) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (s *stubReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.balance, nil
}

type fixture struct {
	server   *Server
	backend  *escrow.FakeBackend
	cache    *txcache.Cache
	sender   string
	receiver string
}

// oneEther comfortably covers every test amount plus fees.
var oneEther = new(big.Int).Mul(big.NewInt(1), big.NewInt(1_000_000_000_000_000_000))

func newFixture(t *testing.T, balance *big.Int) *fixture {
	t.Helper()

	vault, err := wallet.NewVault(testMnemonic)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	reg := registry.New()
	profile, err := reg.Profile("ethereum")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	senderWallet, err := vault.Derive(profile, 0)
	if err != nil {
		t.Fatalf("derive sender: %v", err)
	}
	defer senderWallet.Zero()
	receiverWallet, err := vault.Derive(profile, 1)
	if err != nil {
		t.Fatalf("derive receiver: %v", err)
	}
	defer receiverWallet.Zero()

	backend := escrow.NewFakeBackend()
	cache := txcache.New(txcache.NewMemoryStore())

	gateway := escrow.NewGateway(backend)
	estimator := gas.NewEstimator(&stubReader{balance: balance}, "ETH")
	engines := func(context.Context, string, string) (*EngineSet, error) {
		return &EngineSet{Gateway: gateway, Estimator: estimator}, nil
	}

	cfg := Config{CreateGasCap: 300_000, ActionGasCap: 150_000}
	return &fixture{
		server:   New(cfg, reg, vault, cache, engines),
		backend:  backend,
		cache:    cache,
		sender:   senderWallet.Address,
		receiver: receiverWallet.Address,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createBody(f *fixture, amount string) map[string]any {
	return map[string]any{
		"chainId":      "ethereum",
		"networkId":    "sepolia",
		"accountIndex": 0,
		"receiver":     f.receiver,
		"amount":       amount,
	}
}

func historyPath(address string, reconcile bool) string {
	p := fmt.Sprintf("/api/v1/history?chainId=ethereum&networkId=sepolia&address=%s", address)
	if reconcile {
		p += "&reconcile=true"
	}
	return p
}

type historyResponse struct {
	Records []txcache.Record `json:"records"`
}

func TestCreateThenClaimEndToEnd(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodPost, "/api/v1/escrows", createBody(f, "0.01"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[createResponse](t, rec)
	if created.EscrowID != 1 || created.IDSource != escrow.IDFromEvent {
		t.Fatalf("unexpected creation result %+v", created)
	}
	if created.TxHash == "" {
		t.Fatal("creation must report its tx hash")
	}

	// Both parties see the new escrow as pending.
	for _, probe := range []struct {
		address   string
		direction txcache.Direction
	}{
		{f.sender, txcache.DirectionOutgoing},
		{f.receiver, txcache.DirectionIncoming},
	} {
		rec := f.do(t, http.MethodGet, historyPath(probe.address, false), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("history status %d", rec.Code)
		}
		history := decodeJSON[historyResponse](t, rec)
		if len(history.Records) != 1 {
			t.Fatalf("expected one record for %s, got %d", probe.address, len(history.Records))
		}
		got := history.Records[0]
		if got.Status != txcache.StatusPending || got.Direction != probe.direction {
			t.Fatalf("unexpected record %+v", got)
		}
		if got.Amount.String() != "0.01" {
			t.Fatalf("amount = %s", got.Amount)
		}
	}

	rec = f.do(t, http.MethodPost, "/api/v1/escrows/claim", map[string]any{
		"chainId":      "ethereum",
		"networkId":    "sepolia",
		"accountIndex": 1,
		"escrowId":     created.EscrowID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status %d: %s", rec.Code, rec.Body.String())
	}
	claimed := decodeJSON[actionResponse](t, rec)
	if claimed.TxHash == "" {
		t.Fatal("claim must report its tx hash")
	}

	// Both cached views move to claimed together, stamped with the
	// confirming hash.
	for _, address := range []string{f.sender, f.receiver} {
		rec := f.do(t, http.MethodGet, historyPath(address, false), nil)
		history := decodeJSON[historyResponse](t, rec)
		got := history.Records[0]
		if got.Status != txcache.StatusClaimed {
			t.Fatalf("%s status = %s", address, got.Status)
		}
		if got.ClaimedAt == nil || got.ConfirmingTxHash != claimed.TxHash {
			t.Fatalf("claim stamp missing on %+v", got)
		}
	}
}

func TestRefundBySender(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodPost, "/api/v1/escrows", createBody(f, "0.5"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[createResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/escrows/refund", map[string]any{
		"chainId":      "ethereum",
		"networkId":    "sepolia",
		"accountIndex": 0,
		"escrowId":     created.EscrowID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refund status %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, historyPath(f.sender, false), nil)
	history := decodeJSON[historyResponse](t, rec)
	if history.Records[0].Status != txcache.StatusRefunded || history.Records[0].RefundedAt == nil {
		t.Fatalf("record not refunded: %+v", history.Records[0])
	}
}

func TestCreateRejectsUnsupportedChain(t *testing.T) {
	f := newFixture(t, oneEther)

	body := createBody(f, "0.01")
	body["chainId"] = "dogecoin"
	rec := f.do(t, http.MethodPost, "/api/v1/escrows", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if f.backend.SubmitCalls != 0 {
		t.Fatal("unsupported chain must be rejected before any submission")
	}
}

func TestCreateRejectsInvalidReceiver(t *testing.T) {
	f := newFixture(t, oneEther)

	body := createBody(f, "0.01")
	body["receiver"] = "not-an-address"
	rec := f.do(t, http.MethodPost, "/api/v1/escrows", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	resp := decodeJSON[errorResponse](t, rec)
	if resp.Category != "contract_revert" {
		t.Fatalf("category = %s", resp.Category)
	}
	if f.backend.SubmitCalls != 0 {
		t.Fatal("invalid receiver must never reach the network")
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	f := newFixture(t, big.NewInt(1000))

	rec := f.do(t, http.MethodPost, "/api/v1/escrows", createBody(f, "0.01"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[errorResponse](t, rec)
	if resp.Category != "insufficient_funds" {
		t.Fatalf("category = %s", resp.Category)
	}
	if !strings.Contains(resp.Message, "ETH") {
		t.Fatalf("message must use native units: %q", resp.Message)
	}
	if f.backend.SubmitCalls != 0 {
		t.Fatal("underfunded creation must never be submitted")
	}
}

func TestDetailsNotFound(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodGet, "/api/v1/escrows/details?chainId=ethereum&networkId=sepolia&id=42", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPendingActionsAfterCreate(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodPost, "/api/v1/escrows", createBody(f, "0.01"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/pending?chainId=ethereum&networkId=sepolia&address="+f.receiver, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status %d: %s", rec.Code, rec.Body.String())
	}
	set := decodeJSON[escrow.PendingActionSet](t, rec)
	if len(set.Claimable) != 1 || set.Claimable[0] != 1 {
		t.Fatalf("unexpected claimable set %+v", set)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/pending?chainId=ethereum&networkId=sepolia&address="+f.sender, nil)
	set = decodeJSON[escrow.PendingActionSet](t, rec)
	if len(set.Refundable) != 1 || set.Refundable[0] != 1 {
		t.Fatalf("unexpected refundable set %+v", set)
	}
}

func TestHistoryReconcilePicksUpExternalClaim(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodPost, "/api/v1/escrows", createBody(f, "0.01"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	created := decodeJSON[createResponse](t, rec)

	// The receiver claims through some other client; our cache still says
	// pending until a reconciled read.
	if _, err := f.backend.SubmitClaim(context.Background(), nil, created.EscrowID, 0); err != nil {
		t.Fatalf("external claim: %v", err)
	}

	rec = f.do(t, http.MethodGet, historyPath(f.sender, false), nil)
	history := decodeJSON[historyResponse](t, rec)
	if history.Records[0].Status != txcache.StatusPending {
		t.Fatal("plain read must serve the cached value")
	}

	rec = f.do(t, http.MethodGet, historyPath(f.sender, true), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status %d: %s", rec.Code, rec.Body.String())
	}
	history = decodeJSON[historyResponse](t, rec)
	if history.Records[0].Status != txcache.StatusClaimed {
		t.Fatalf("reconciled record = %+v", history.Records[0])
	}
}

func TestAddressesListsEveryChain(t *testing.T) {
	f := newFixture(t, oneEther)

	rec := f.do(t, http.MethodGet, "/api/v1/addresses", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[struct {
		Addresses []addressEntry `json:"addresses"`
	}](t, rec)
	if len(resp.Addresses) != len(registry.New().Chains()) {
		t.Fatalf("expected one entry per chain, got %d", len(resp.Addresses))
	}
	// Shared seed and coin type: every chain shows the same address.
	for _, entry := range resp.Addresses {
		if entry.Address != f.sender {
			t.Fatalf("chain %s address %s != %s", entry.ChainID, entry.Address, f.sender)
		}
		if entry.DerivationPath != "m/44'/60'/0'/0/0" {
			t.Fatalf("path = %s", entry.DerivationPath)
		}
	}
}

func TestHMACAuthOnMutatingRoutes(t *testing.T) {
	f := newFixture(t, oneEther)
	cfg := Config{
		HMACSecret:    "test-secret",
		HMACClockSkew: time.Minute,
		CreateGasCap:  300_000,
		ActionGasCap:  150_000,
	}
	f.server = New(cfg, registry.New(), nil, f.cache, f.server.engines)

	body, _ := json.Marshal(createBody(f, "0.01"))

	// Unsigned mutating request is refused.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escrows", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request status %d", rec.Code)
	}

	// A correctly signed request clears the middleware.
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req = httptest.NewRequest(http.MethodPost, "/api/v1/escrows", bytes.NewReader(body))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, computeSignature("test-secret", ts, body))
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code == http.StatusUnauthorized {
		t.Fatalf("signed request rejected: %s", rec.Body.String())
	}

	// Reads stay open.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
}
