// Package server exposes the engine over HTTP: escrow submission, history,
// pending actions and address listing, with HMAC auth on mutating routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"chainrails/internal/errclass"
	"chainrails/internal/escrow"
	"chainrails/internal/gas"
	"chainrails/internal/log"
	"chainrails/internal/registry"
	"chainrails/internal/txcache"
	"chainrails/internal/units"
	"chainrails/internal/wallet"
)

// EngineSet bundles the per-network pieces: the gateway bound to that
// network's contract and the estimator over the same RPC endpoint.
type EngineSet struct {
	Gateway   *escrow.Gateway
	Estimator *gas.Estimator
}

// EngineFactory resolves (chain, network) to a ready EngineSet. Production
// wiring dials the network's RPC endpoint; tests hand back fakes.
type EngineFactory func(ctx context.Context, chainID, networkID string) (*EngineSet, error)

// Config holds the server's own settings.
type Config struct {
	HMACSecret    string
	HMACClockSkew time.Duration
	CreateGasCap  uint64
	ActionGasCap  uint64
}

// Server routes HTTP requests into the engine.
type Server struct {
	cfg      Config
	registry *registry.Registry
	vault    *wallet.Vault
	cache    *txcache.Cache
	engines  EngineFactory
	metrics  *metricsRegistry
	mux      *http.ServeMux
}

// New wires the routes. vault may be nil, in which case the signing routes
// report that no wallet is configured.
func New(cfg Config, reg *registry.Registry, vault *wallet.Vault, cache *txcache.Cache, engines EngineFactory) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		vault:    vault,
		cache:    cache,
		engines:  engines,
		metrics:  newMetricsRegistry(),
		mux:      http.NewServeMux(),
	}

	auth := &verifier{secret: cfg.HMACSecret, maxSkew: cfg.HMACClockSkew}

	s.mux.Handle("POST /api/v1/escrows", auth.middleware(http.HandlerFunc(s.handleCreate)))
	s.mux.Handle("POST /api/v1/escrows/claim", auth.middleware(http.HandlerFunc(s.handleClaim)))
	s.mux.Handle("POST /api/v1/escrows/refund", auth.middleware(http.HandlerFunc(s.handleRefund)))
	s.mux.HandleFunc("GET /api/v1/escrows/details", s.handleDetails)
	s.mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/pending", s.handlePending)
	s.mux.HandleFunc("GET /api/v1/addresses", s.handleAddresses)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /api/v1/metrics", s.metrics.handler())

	return s
}

// Handler returns the routed handler for mounting in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Server.Info().Int("port", port).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type createRequest struct {
	ChainID      string          `json:"chainId"`
	NetworkID    string          `json:"networkId"`
	AccountIndex uint32          `json:"accountIndex"`
	Receiver     string          `json:"receiver"`
	Amount       decimal.Decimal `json:"amount"`
}

type createResponse struct {
	TxHash   string          `json:"txHash"`
	EscrowID uint64          `json:"escrowId"`
	IDSource escrow.IDSource `json:"idSource"`
	GasLimit uint64          `json:"gasLimit"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Receiver) {
		s.writeClassified(w, "create", errclass.Reject(fmt.Sprintf("receiver %q is not a valid address", req.Receiver)))
		return
	}

	set, derived, ok := s.resolveSigner(w, r.Context(), req.ChainID, req.NetworkID, req.AccountIndex, "create")
	if !ok {
		return
	}
	defer derived.Zero()

	ctx := r.Context()
	sender := common.HexToAddress(derived.Address)
	receiver := common.HexToAddress(req.Receiver)

	msg, err := set.Gateway.CallMsg(escrow.OpCreate, sender, 0, receiver, req.Amount)
	if err != nil {
		s.writeClassified(w, "create", err)
		return
	}
	gasLimit := set.Estimator.Estimate(ctx, msg, gas.MethodCreate, s.cfg.CreateGasCap)

	if err := s.checkBalance(ctx, set.Estimator, sender, req.Amount, gasLimit); err != nil {
		s.writeClassified(w, "create", err)
		return
	}

	result, err := set.Gateway.Create(ctx, derived.PrivateKey, req.Receiver, req.Amount, gasLimit)
	if err != nil {
		s.writeClassified(w, "create", err)
		return
	}

	err = s.cache.RecordCreation(ctx, req.ChainID, req.NetworkID, result.EscrowID,
		txcache.NormalizeAddress(derived.Address), txcache.NormalizeAddress(req.Receiver),
		req.Amount, result.TxHash)
	if err != nil {
		// The escrow exists on chain; reconciliation will repair the cache.
		log.Server.Error().Err(err).Uint64("escrow", result.EscrowID).Msg("history write failed after creation")
	}

	s.metrics.incSubmission("create", "confirmed")
	writeJSON(w, http.StatusCreated, createResponse{
		TxHash:   result.TxHash,
		EscrowID: result.EscrowID,
		IDSource: result.IDSource,
		GasLimit: gasLimit,
	})
}

type actionRequest struct {
	ChainID      string `json:"chainId"`
	NetworkID    string `json:"networkId"`
	AccountIndex uint32 `json:"accountIndex"`
	EscrowID     uint64 `json:"escrowId"`
}

type actionResponse struct {
	TxHash string `json:"txHash"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, escrow.OpClaim)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, escrow.OpRefund)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, op escrow.Op) {
	opName := "claim"
	if op == escrow.OpRefund {
		opName = "refund"
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}

	set, derived, ok := s.resolveSigner(w, r.Context(), req.ChainID, req.NetworkID, req.AccountIndex, opName)
	if !ok {
		return
	}
	defer derived.Zero()

	ctx := r.Context()
	caller := common.HexToAddress(derived.Address)

	// Read the live record up front: it both fails fast and supplies the
	// counterparty address for the cache update below.
	details, err := set.Gateway.Details(ctx, req.EscrowID)
	if errors.Is(err, escrow.ErrNotFound) {
		s.writeClassified(w, opName, errclass.Reject(fmt.Sprintf("escrow %d does not exist", req.EscrowID)))
		return
	}
	if err != nil {
		s.writeClassified(w, opName, err)
		return
	}

	msg, err := set.Gateway.CallMsg(op, caller, req.EscrowID, common.Address{}, decimal.Zero)
	if err != nil {
		s.writeClassified(w, opName, err)
		return
	}
	method := gas.MethodClaim
	if op == escrow.OpRefund {
		method = gas.MethodRefund
	}
	gasLimit := set.Estimator.Estimate(ctx, msg, method, s.cfg.ActionGasCap)

	if err := s.checkBalance(ctx, set.Estimator, caller, decimal.Zero, gasLimit); err != nil {
		s.writeClassified(w, opName, err)
		return
	}

	var result escrow.ActionResult
	newStatus := txcache.StatusClaimed
	if op == escrow.OpClaim {
		result, err = set.Gateway.Claim(ctx, derived.PrivateKey, req.EscrowID, gasLimit)
	} else {
		result, err = set.Gateway.Refund(ctx, derived.PrivateKey, req.EscrowID, gasLimit)
		newStatus = txcache.StatusRefunded
	}
	if err != nil {
		s.writeClassified(w, opName, err)
		return
	}

	// Both parties' cached views move together.
	for _, addr := range []string{details.Sender.Hex(), details.Receiver.Hex()} {
		scope := txcache.Scope{ChainID: req.ChainID, NetworkID: req.NetworkID, Address: addr}
		if err := s.cache.UpdateStatus(ctx, scope, req.EscrowID, newStatus, result.TxHash); err != nil {
			log.Server.Warn().Err(err).Uint64("escrow", req.EscrowID).Str("scope", scope.Key()).
				Msg("history update failed after confirmation")
		}
	}

	s.metrics.incSubmission(opName, "confirmed")
	writeJSON(w, http.StatusOK, actionResponse{TxHash: result.TxHash})
}

type detailsResponse struct {
	EscrowID   uint64          `json:"escrowId"`
	Sender     string          `json:"sender"`
	Receiver   string          `json:"receiver"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	CreatedAt  uint64          `json:"createdAt"`
	ClaimedAt  uint64          `json:"claimedAt,omitempty"`
	RefundedAt uint64          `json:"refundedAt,omitempty"`
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	escrowID, err := strconv.ParseUint(q.Get("id"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "id must be a non-negative integer")
		return
	}

	set, ok := s.resolveEngines(w, r.Context(), q.Get("chainId"), q.Get("networkId"))
	if !ok {
		return
	}

	d, err := set.Gateway.Details(r.Context(), escrowID)
	if errors.Is(err, escrow.ErrNotFound) {
		http.Error(w, fmt.Sprintf("escrow %d not found", escrowID), http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeClassified(w, "details", err)
		return
	}

	status, _ := txcache.StatusFromChain(d.Status)
	writeJSON(w, http.StatusOK, detailsResponse{
		EscrowID:   escrowID,
		Sender:     d.Sender.Hex(),
		Receiver:   d.Receiver.Hex(),
		Amount:     units.FromWei(d.Amount),
		Status:     string(status),
		CreatedAt:  d.CreatedAt,
		ClaimedAt:  d.ClaimedAt,
		RefundedAt: d.RefundedAt,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := q.Get("address")
	if !common.IsHexAddress(address) {
		s.writeBadRequest(w, "address is required")
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	chainID, networkID := q.Get("chainId"), q.Get("networkId")
	if !s.registry.IsCompatible(chainID) {
		s.writeBadRequest(w, fmt.Sprintf("unsupported chain %q", chainID))
		return
	}
	scope := txcache.Scope{ChainID: chainID, NetworkID: networkID, Address: address}

	ctx := r.Context()
	var records []txcache.Record
	var err error
	if q.Get("reconcile") == "true" {
		set, ok := s.resolveEngines(w, ctx, chainID, networkID)
		if !ok {
			return
		}
		records, err = s.cache.Reconcile(ctx, scope, limit, set.Gateway)
		if err == nil {
			s.metrics.incReconcile()
		}
	} else {
		records, err = s.cache.History(ctx, scope, limit)
	}
	if err != nil {
		s.writeClassified(w, "history", err)
		return
	}

	s.metrics.setCacheRecords(s.cache.Size(ctx, scope))
	if records == nil {
		records = []txcache.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := q.Get("address")
	if !common.IsHexAddress(address) {
		s.writeBadRequest(w, "address is required")
		return
	}

	set, ok := s.resolveEngines(w, r.Context(), q.Get("chainId"), q.Get("networkId"))
	if !ok {
		return
	}

	actions, err := set.Gateway.PendingActions(r.Context(), address)
	if err != nil {
		s.writeClassified(w, "pending", err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

type addressEntry struct {
	ChainID        string `json:"chainId"`
	DisplayName    string `json:"displayName"`
	NativeSymbol   string `json:"nativeSymbol"`
	Address        string `json:"address"`
	DerivationPath string `json:"derivationPath"`
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		http.Error(w, "no wallet configured", http.StatusServiceUnavailable)
		return
	}
	accountIndex := uint32(0)
	if raw := r.URL.Query().Get("accountIndex"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			s.writeBadRequest(w, "accountIndex must be a non-negative integer")
			return
		}
		accountIndex = uint32(parsed)
	}

	entries := make([]addressEntry, 0)
	for _, profile := range s.registry.Chains() {
		derived, err := s.vault.Derive(profile, accountIndex)
		if err != nil {
			s.writeClassified(w, "addresses", err)
			return
		}
		entries = append(entries, addressEntry{
			ChainID:        profile.ID,
			DisplayName:    profile.DisplayName,
			NativeSymbol:   profile.NativeSymbol,
			Address:        derived.Address,
			DerivationPath: derived.DerivationPath,
		})
		derived.Zero()
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountIndex": accountIndex, "addresses": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveSigner validates the chain, builds the engine set and derives the
// signing key. Callers must Zero the returned wallet.
func (s *Server) resolveSigner(w http.ResponseWriter, ctx context.Context, chainID, networkID string, accountIndex uint32, opName string) (*EngineSet, wallet.DerivedWallet, bool) {
	if s.vault == nil {
		http.Error(w, "no wallet configured", http.StatusServiceUnavailable)
		return nil, wallet.DerivedWallet{}, false
	}

	set, ok := s.resolveEngines(w, ctx, chainID, networkID)
	if !ok {
		return nil, wallet.DerivedWallet{}, false
	}

	profile, err := s.registry.Profile(chainID)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return nil, wallet.DerivedWallet{}, false
	}
	derived, err := s.vault.Derive(profile, accountIndex)
	if err != nil {
		s.writeClassified(w, opName, err)
		return nil, wallet.DerivedWallet{}, false
	}
	return set, derived, true
}

func (s *Server) resolveEngines(w http.ResponseWriter, ctx context.Context, chainID, networkID string) (*EngineSet, bool) {
	if !s.registry.IsCompatible(chainID) {
		s.writeBadRequest(w, fmt.Sprintf("unsupported chain %q", chainID))
		return nil, false
	}
	if _, err := s.registry.Resolve(chainID, networkID); err != nil {
		s.writeBadRequest(w, err.Error())
		return nil, false
	}

	set, err := s.engines(ctx, chainID, networkID)
	if err != nil {
		s.writeClassified(w, "connect", errclass.Classify(err))
		return nil, false
	}
	return set, true
}

func (s *Server) checkBalance(ctx context.Context, est *gas.Estimator, account common.Address, amount decimal.Decimal, gasLimit uint64) error {
	fees, err := est.FeeData(ctx)
	if err != nil {
		return err
	}
	balance, err := est.Balance(ctx, account)
	if err != nil {
		return err
	}
	wei, err := units.ToWei(amount)
	if err != nil {
		return errclass.Reject(err.Error())
	}
	return est.ValidateBalance(balance, wei, gasLimit, fees.GasPrice)
}

type errorResponse struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// writeClassified maps an engine error onto an HTTP status by its category:
// caller mistakes and predicted reverts are 400s, upstream chain trouble is
// a 502, anything unrecognized a 500.
func (s *Server) writeClassified(w http.ResponseWriter, op string, err error) {
	classified := errclass.Classify(err)
	s.metrics.incRPCError(string(classified.Category))
	s.metrics.incSubmission(op, "failed")

	status := http.StatusInternalServerError
	switch classified.Category {
	case errclass.InsufficientFunds, errclass.UserRejected, errclass.ContractRevert:
		status = http.StatusBadRequest
	case errclass.NetworkError, errclass.NonceError:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorResponse{
		Category: string(classified.Category),
		Message:  classified.Message,
	})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Category: string(errclass.UserRejected),
		Message:  msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Server.Error().Err(err).Msg("response encode failed")
	}
}
