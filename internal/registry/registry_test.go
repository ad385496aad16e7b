package registry

import "testing"

func TestResolveKnownNetwork(t *testing.T) {
	r := New()

	ep, err := r.Resolve("ethereum", "sepolia")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.ChainNumericID != 11155111 {
		t.Fatalf("unexpected numeric id %d", ep.ChainNumericID)
	}
	if ep.RPCURL == "" || ep.ExplorerURL == "" {
		t.Fatalf("missing endpoints: %+v", ep)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New()

	if _, err := r.Resolve("solana", "mainnet"); err == nil {
		t.Fatal("expected error for unsupported chain")
	}
	if _, err := r.Resolve("ethereum", "goerli"); err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestIsCompatible(t *testing.T) {
	r := New()

	for _, id := range []string{"ethereum", "polygon", "bsc", "base"} {
		if !r.IsCompatible(id) {
			t.Fatalf("expected %s to be compatible", id)
		}
	}
	if r.IsCompatible("bitcoin") {
		t.Fatal("bitcoin should not be compatible")
	}
}

func TestOverrideReplacesBuiltin(t *testing.T) {
	custom := ChainProfile{
		ID:           "ethereum",
		DisplayName:  "Ethereum (custom)",
		NativeSymbol: "ETH",
		CoinType:     EVMCoinType,
		Networks: map[string]NetworkEndpoints{
			"local": {ChainNumericID: 31337, RPCURL: "http://127.0.0.1:8545"},
		},
	}
	r := New(custom)

	ep, err := r.Resolve("ethereum", "local")
	if err != nil {
		t.Fatalf("resolve override: %v", err)
	}
	if ep.ChainNumericID != 31337 {
		t.Fatalf("unexpected numeric id %d", ep.ChainNumericID)
	}
	if _, err := r.Resolve("ethereum", "mainnet"); err == nil {
		t.Fatal("override should replace built-in networks")
	}
}

func TestSharedCoinType(t *testing.T) {
	r := New()
	for _, p := range r.Chains() {
		if p.CoinType != EVMCoinType {
			t.Fatalf("chain %s has coin type %d, want %d", p.ID, p.CoinType, EVMCoinType)
		}
	}
}
