package gas

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type fakeReader struct {
	estimate    uint64
	estimateErr error
	gasPrice    *big.Int
	tipCap      *big.Int
	tipErr      error
	balance     *big.Int
}

func (f *fakeReader) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeReader) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeReader) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tipCap, f.tipErr
}

func (f *fakeReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func TestApplyCapPolicy(t *testing.T) {
	cases := []struct {
		name     string
		estimate uint64
		cap      uint64
		want     uint64
	}{
		{"under cap uses cap floor", 250_000, 300_000, 300_000},
		{"under cap but buffered above", 280_000, 300_000, 336_000},
		{"within 2x cap gets 10 percent", 500_000, 300_000, 550_000},
		{"beyond 2x cap gets 20 percent", 700_000, 300_000, 840_000},
		{"beyond 2x cap hits ceiling", 4_500_000, 300_000, 5_000_000},
		{"no cap", 100_000, 0, 120_000},
	}
	for _, tc := range cases {
		if got := ApplyCapPolicy(tc.estimate, tc.cap); got != tc.want {
			t.Errorf("%s: ApplyCapPolicy(%d, %d) = %d, want %d", tc.name, tc.estimate, tc.cap, got, tc.want)
		}
	}
}

func TestEstimateFallsBackToMethodDefault(t *testing.T) {
	e := NewEstimator(&fakeReader{estimateErr: errors.New("execution reverted")}, "ETH")

	if got := e.Estimate(context.Background(), ethereum.CallMsg{}, MethodCreate, 300_000); got != DefaultCreateGas {
		t.Fatalf("create fallback = %d, want %d", got, DefaultCreateGas)
	}
	if got := e.Estimate(context.Background(), ethereum.CallMsg{}, MethodClaim, 300_000); got != DefaultActionGas {
		t.Fatalf("claim fallback = %d, want %d", got, DefaultActionGas)
	}
}

func TestFeeData(t *testing.T) {
	e := NewEstimator(&fakeReader{
		gasPrice: big.NewInt(10_000_000_000),
		tipCap:   big.NewInt(1_500_000_000),
	}, "ETH")

	fees, err := e.FeeData(context.Background())
	if err != nil {
		t.Fatalf("fee data: %v", err)
	}
	if fees.GasPrice.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Fatalf("gas price = %s", fees.GasPrice)
	}
	if fees.TipCap == nil || fees.TipCap.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Fatalf("tip cap = %v", fees.TipCap)
	}
}

func TestFeeDataLegacyChain(t *testing.T) {
	// Chains without eth_maxPriorityFeePerGas still price transactions.
	e := NewEstimator(&fakeReader{
		gasPrice: big.NewInt(5_000_000_000),
		tipErr:   errors.New("the method eth_maxPriorityFeePerGas does not exist"),
	}, "BNB")

	fees, err := e.FeeData(context.Background())
	if err != nil {
		t.Fatalf("fee data: %v", err)
	}
	if fees.GasPrice.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("gas price = %s", fees.GasPrice)
	}
	if fees.TipCap != nil {
		t.Fatalf("tip cap should be nil in legacy mode, got %s", fees.TipCap)
	}
}

func TestValidateBalance(t *testing.T) {
	e := NewEstimator(&fakeReader{}, "ETH")

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	gasPrice := big.NewInt(10_000_000_000) // 10 gwei
	// fee = 300000 * 10 gwei * 1.2 = 0.0036 ETH

	if err := e.ValidateBalance(oneEth, big.NewInt(1), 300_000, gasPrice); err != nil {
		t.Fatalf("expected sufficient balance, got %v", err)
	}

	err := e.ValidateBalance(big.NewInt(1000), oneEth, 300_000, gasPrice)
	if err == nil {
		t.Fatal("expected insufficient funds")
	}
	msg := err.Error()
	if !strings.Contains(msg, "ETH") {
		t.Fatalf("message should use native units: %q", msg)
	}
	if strings.Contains(msg, "1000000000000000000") {
		t.Fatalf("message must not leak raw wei values: %q", msg)
	}
}
