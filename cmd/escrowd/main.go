// Command escrowd runs the multi-chain escrow transaction engine: an HTTP
// API over BIP-39/44 key derivation, the escrow contract gateway and the
// local transaction history cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"chainrails/internal/config"
	"chainrails/internal/escrow"
	"chainrails/internal/gas"
	"chainrails/internal/log"
	"chainrails/internal/registry"
	"chainrails/internal/server"
	"chainrails/internal/txcache"
	"chainrails/internal/wallet"
)

func main() {
	if err := run(); err != nil {
		log.Logger.Fatal().Err(err).Msg("escrowd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Init(cfg.Service.LogLevel, cfg.Service.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()
	cache := txcache.New(store)

	reg := registry.New(cfg.ChainOverrides...)

	vault, err := openVault(cfg.Service.KeystorePath, reg)
	if err != nil {
		return err
	}

	engines := newEngineFactory(cfg, reg, cache)

	srv := server.New(server.Config{
		HMACSecret:    cfg.Service.HMACSecret,
		HMACClockSkew: cfg.Service.HMACClockSkew,
		CreateGasCap:  cfg.Gas.CreateCap,
		ActionGasCap:  cfg.Gas.ActionCap,
	}, reg, vault, cache, engines)

	err = srv.Run(ctx, cfg.Service.HTTPPort)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.CacheConfig) (txcache.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "memory":
		return txcache.NewMemoryStore(), noop, nil
	case "file":
		store, err := txcache.NewFileStore(cfg.Path)
		return store, noop, err
	case "badger":
		store, err := txcache.NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Cache.Warn().Err(err).Msg("badger close failed")
			}
		}, nil
	case "postgres":
		store, err := txcache.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// openVault loads the keystore when KEYSTORE_PASSWORD is set, creating a
// fresh seed on first run. Without a password the daemon still serves reads;
// signing routes report that no wallet is configured.
func openVault(dir string, reg *registry.Registry) (*wallet.Vault, error) {
	password := os.Getenv("KEYSTORE_PASSWORD")
	if password == "" {
		log.Wallet.Warn().Msg("KEYSTORE_PASSWORD not set, running without a wallet")
		return nil, nil
	}

	ks, err := wallet.NewKeystore(dir)
	if err != nil {
		return nil, err
	}

	if ks.Exists() {
		vault, _, err := ks.Load([]byte(password))
		if err != nil {
			return nil, fmt.Errorf("unlock keystore: %w", err)
		}
		log.Wallet.Info().Msg("keystore unlocked")
		return vault, nil
	}

	vault, err := wallet.NewRandomVault()
	if err != nil {
		return nil, err
	}
	entries := make([]wallet.WalletEntry, 0)
	for _, profile := range reg.Chains() {
		derived, err := vault.Derive(profile, 0)
		if err != nil {
			return nil, err
		}
		entries = append(entries, wallet.WalletEntry{
			ChainID:        profile.ID,
			AccountIndex:   0,
			DerivationPath: derived.DerivationPath,
			Address:        derived.Address,
		})
		derived.Zero()
	}
	if err := ks.Save(vault, entries, []byte(password)); err != nil {
		return nil, err
	}
	log.Wallet.Info().Str("path", dir).Msg("new keystore created")
	return vault, nil
}

// newEngineFactory dials each (chain, network) on first use and reuses the
// connection afterwards.
func newEngineFactory(cfg *config.AppConfig, reg *registry.Registry, cache *txcache.Cache) server.EngineFactory {
	var mu sync.Mutex
	sets := make(map[string]*server.EngineSet)

	return func(ctx context.Context, chainID, networkID string) (*server.EngineSet, error) {
		key := chainID + "/" + networkID
		mu.Lock()
		defer mu.Unlock()
		if set, ok := sets[key]; ok {
			return set, nil
		}

		endpoints, err := reg.Resolve(chainID, networkID)
		if err != nil {
			return nil, err
		}
		profile, err := reg.Profile(chainID)
		if err != nil {
			return nil, err
		}
		contractAddr, ok := cfg.ContractFor(chainID, networkID)
		if !ok {
			return nil, fmt.Errorf("no escrow contract configured for %s/%s", chainID, networkID)
		}

		backend, err := escrow.NewEthBackend(ctx, endpoints.RPCURL, contractAddr)
		if err != nil {
			return nil, err
		}
		log.RPC.Info().Str("chain", chainID).Str("network", networkID).
			Str("contract", contractAddr).Msg("connected")

		gateway := escrow.NewGateway(backend,
			escrow.WithReceiptTimeout(cfg.Service.ReceiptTimeout),
			escrow.WithCandidateLister(cacheCandidates(cache, chainID, networkID)),
		)
		set := &server.EngineSet{
			Gateway:   gateway,
			Estimator: gas.NewEstimator(backend.Reader(), profile.NativeSymbol),
		}
		sets[key] = set
		return set, nil
	}
}

// cacheCandidates feeds the pending-actions fallback from the local history:
// outgoing records are escrows this address sent, incoming ones those it
// received.
func cacheCandidates(cache *txcache.Cache, chainID, networkID string) escrow.CandidateLister {
	return func(ctx context.Context, address string) (sent, received []uint64, err error) {
		scope := txcache.Scope{ChainID: chainID, NetworkID: networkID, Address: address}
		records, err := cache.History(ctx, scope, 0)
		if err != nil {
			return nil, nil, err
		}
		for _, rec := range records {
			switch rec.Direction {
			case txcache.DirectionOutgoing:
				sent = append(sent, rec.EscrowID)
			case txcache.DirectionIncoming:
				received = append(received, rec.EscrowID)
			}
		}
		return sent, received, nil
	}
}
