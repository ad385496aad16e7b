// Package registry holds the static table of supported chain profiles.
package registry

import (
	"fmt"
	"sort"
)

// NetworkEndpoints describes how to reach one network of a chain.
type NetworkEndpoints struct {
	ChainNumericID int64  `json:"chainNumericId"`
	RPCURL         string `json:"rpcUrl"`
	ExplorerURL    string `json:"explorerUrl"`
	FaucetURL      string `json:"faucetUrl,omitempty"`
}

// ChainProfile is an immutable description of one supported chain.
type ChainProfile struct {
	ID           string                      `json:"id"`
	DisplayName  string                      `json:"displayName"`
	NativeSymbol string                      `json:"nativeSymbol"`
	CoinType     uint32                      `json:"coinType"`
	Networks     map[string]NetworkEndpoints `json:"networks"`
}

// All supported profiles share coin type 60 so one seed produces parallel
// identities across every chain without per-chain secrets.
const EVMCoinType = 60

// Registry resolves chain and network ids to endpoints. Entries are fixed at
// construction; nothing mutates the table at runtime.
type Registry struct {
	profiles map[string]ChainProfile
}

// builtinProfiles is the default chain table. Adding a chain means adding an
// entry here or supplying it as an override at construction.
var builtinProfiles = []ChainProfile{
	{
		ID:           "ethereum",
		DisplayName:  "Ethereum",
		NativeSymbol: "ETH",
		CoinType:     EVMCoinType,
		Networks: map[string]NetworkEndpoints{
			"mainnet": {
				ChainNumericID: 1,
				RPCURL:         "https://eth.llamarpc.com",
				ExplorerURL:    "https://etherscan.io",
			},
			"sepolia": {
				ChainNumericID: 11155111,
				RPCURL:         "https://rpc.sepolia.org",
				ExplorerURL:    "https://sepolia.etherscan.io",
				FaucetURL:      "https://sepoliafaucet.com",
			},
		},
	},
	{
		ID:           "polygon",
		DisplayName:  "Polygon",
		NativeSymbol: "POL",
		CoinType:     EVMCoinType,
		Networks: map[string]NetworkEndpoints{
			"mainnet": {
				ChainNumericID: 137,
				RPCURL:         "https://polygon-rpc.com",
				ExplorerURL:    "https://polygonscan.com",
			},
			"amoy": {
				ChainNumericID: 80002,
				RPCURL:         "https://rpc-amoy.polygon.technology",
				ExplorerURL:    "https://amoy.polygonscan.com",
				FaucetURL:      "https://faucet.polygon.technology",
			},
		},
	},
	{
		ID:           "bsc",
		DisplayName:  "BNB Smart Chain",
		NativeSymbol: "BNB",
		CoinType:     EVMCoinType,
		Networks: map[string]NetworkEndpoints{
			"mainnet": {
				ChainNumericID: 56,
				RPCURL:         "https://bsc-dataseed.bnbchain.org",
				ExplorerURL:    "https://bscscan.com",
			},
			"testnet": {
				ChainNumericID: 97,
				RPCURL:         "https://data-seed-prebsc-1-s1.bnbchain.org:8545",
				ExplorerURL:    "https://testnet.bscscan.com",
				FaucetURL:      "https://testnet.bnbchain.org/faucet-smart",
			},
		},
	},
	{
		ID:           "base",
		DisplayName:  "Base",
		NativeSymbol: "ETH",
		CoinType:     EVMCoinType,
		Networks: map[string]NetworkEndpoints{
			"mainnet": {
				ChainNumericID: 8453,
				RPCURL:         "https://mainnet.base.org",
				ExplorerURL:    "https://basescan.org",
			},
			"sepolia": {
				ChainNumericID: 84532,
				RPCURL:         "https://sepolia.base.org",
				ExplorerURL:    "https://sepolia.basescan.org",
			},
		},
	},
}

// New builds a registry from the built-in table plus any overrides. An
// override with an id matching a built-in profile replaces it entirely.
func New(overrides ...ChainProfile) *Registry {
	profiles := make(map[string]ChainProfile, len(builtinProfiles)+len(overrides))
	for _, p := range builtinProfiles {
		profiles[p.ID] = p
	}
	for _, p := range overrides {
		profiles[p.ID] = p
	}
	return &Registry{profiles: profiles}
}

// IsCompatible reports whether the chain id is in the table. Every entry
// point checks this first so an unsupported chain fails fast instead of as a
// downstream RPC failure.
func (r *Registry) IsCompatible(chainID string) bool {
	_, ok := r.profiles[chainID]
	return ok
}

// Profile returns the profile for a chain id.
func (r *Registry) Profile(chainID string) (ChainProfile, error) {
	p, ok := r.profiles[chainID]
	if !ok {
		return ChainProfile{}, fmt.Errorf("unsupported chain %q", chainID)
	}
	return p, nil
}

// Resolve looks up the endpoints for a (chain, network) pair.
func (r *Registry) Resolve(chainID, networkID string) (NetworkEndpoints, error) {
	p, ok := r.profiles[chainID]
	if !ok {
		return NetworkEndpoints{}, fmt.Errorf("unsupported chain %q", chainID)
	}
	ep, ok := p.Networks[networkID]
	if !ok {
		return NetworkEndpoints{}, fmt.Errorf("chain %q has no network %q", chainID, networkID)
	}
	return ep, nil
}

// Chains returns all profiles sorted by id.
func (r *Registry) Chains() []ChainProfile {
	out := make([]ChainProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
