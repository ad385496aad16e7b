// Package config aggregates engine configuration from JSON files on disk
// and environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chainrails/internal/registry"
)

// engineFile models engine.json.
type engineFile struct {
	HTTPPort              int    `json:"httpPort"`
	HMACSecret            string `json:"hmacSecret"`
	KeystorePath          string `json:"keystorePath"`
	ReceiptTimeoutSeconds int    `json:"receiptTimeoutSeconds"`
	Log                   struct {
		Level string `json:"level"`
		JSON  bool   `json:"json"`
	} `json:"log"`
	Cache struct {
		Backend     string `json:"backend"`
		Path        string `json:"path"`
		PostgresDSN string `json:"postgresDsn"`
	} `json:"cache"`
	Gas struct {
		CreateCap uint64 `json:"createCap"`
		ActionCap uint64 `json:"actionCap"`
	} `json:"gas"`
	// Contracts maps "<chainId>/<networkId>" to the deployed escrow
	// contract address on that network.
	Contracts map[string]string `json:"contracts"`
}

// ServiceConfig holds daemon-level settings.
type ServiceConfig struct {
	HTTPPort       int
	HMACSecret     string
	HMACClockSkew  time.Duration
	KeystorePath   string
	ReceiptTimeout time.Duration
	LogLevel       string
	LogJSON        bool
}

// CacheConfig selects and parameterizes the history store backend.
type CacheConfig struct {
	Backend     string // memory | file | badger | postgres
	Path        string
	PostgresDSN string
}

// GasConfig holds the preferred gas caps handed to the estimator.
type GasConfig struct {
	CreateCap uint64
	ActionCap uint64
}

// AppConfig ties everything together.
type AppConfig struct {
	Service        ServiceConfig
	Cache          CacheConfig
	Gas            GasConfig
	Contracts      map[string]string
	ChainOverrides []registry.ChainProfile
}

const (
	defaultEnginePath = "engine.json"
	defaultChainsPath = "chains.json"
)

// Load reads engine.json and the optional chains.json overrides, then
// applies environment overrides. A missing engine.json yields defaults so
// the daemon can start in a development setup.
func Load() (*AppConfig, error) {
	enginePath := envOr("ENGINE_CONFIG_PATH", defaultEnginePath)
	chainsPath := envOr("CHAINS_CONFIG_PATH", defaultChainsPath)

	var file engineFile
	raw, err := os.ReadFile(enginePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read engine config: %w", err)
	default:
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse engine config: %w", err)
		}
	}

	overrides, err := loadChainOverrides(chainsPath)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:       firstNonZero(envInt("API_HTTP_PORT", 0), file.HTTPPort, 3000),
			HMACSecret:     envOr("HMAC_SECRET", file.HMACSecret),
			HMACClockSkew:  time.Duration(envInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			KeystorePath:   envOr("KEYSTORE_PATH", firstNonEmpty(file.KeystorePath, filepath.Join(os.TempDir(), "chainrails-keystore"))),
			ReceiptTimeout: time.Duration(firstNonZero(file.ReceiptTimeoutSeconds, 60)) * time.Second,
			LogLevel:       envOr("LOG_LEVEL", firstNonEmpty(file.Log.Level, "info")),
			LogJSON:        file.Log.JSON,
		},
		Cache: CacheConfig{
			Backend:     envOr("CACHE_BACKEND", firstNonEmpty(file.Cache.Backend, "file")),
			Path:        envOr("CACHE_PATH", firstNonEmpty(file.Cache.Path, filepath.Join(os.TempDir(), "chainrails-history.json"))),
			PostgresDSN: envOr("POSTGRES_DSN", file.Cache.PostgresDSN),
		},
		Gas: GasConfig{
			CreateCap: firstNonZeroU64(file.Gas.CreateCap, 300_000),
			ActionCap: firstNonZeroU64(file.Gas.ActionCap, 150_000),
		},
		Contracts:      file.Contracts,
		ChainOverrides: overrides,
	}
	if cfg.Contracts == nil {
		cfg.Contracts = map[string]string{}
	}
	return cfg, nil
}

// ContractFor returns the escrow contract address deployed on the given
// network, if configured.
func (c *AppConfig) ContractFor(chainID, networkID string) (string, bool) {
	addr, ok := c.Contracts[chainID+"/"+networkID]
	return addr, ok
}

func loadChainOverrides(path string) ([]registry.ChainProfile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chains config: %w", err)
	}
	var profiles []registry.ChainProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("parse chains config: %w", err)
	}
	return profiles, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroU64(values ...uint64) uint64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
