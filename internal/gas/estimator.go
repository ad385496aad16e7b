// Package gas derives safe gas limits from live estimates and validates
// that a caller's balance covers amount plus fees with margin.
package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"chainrails/internal/errclass"
	"chainrails/internal/log"
	"chainrails/internal/units"
)

// Method names the contract call being priced. Creation touches more
// storage than claim/refund, so its fallback default is higher.
type Method string

const (
	MethodCreate Method = "create"
	MethodClaim  Method = "claim"
	MethodRefund Method = "refund"
)

const (
	// DefaultCreateGas is the fallback limit when live estimation of a
	// creation call fails.
	DefaultCreateGas uint64 = 500_000
	// DefaultActionGas is the fallback limit for claim and refund.
	DefaultActionGas uint64 = 200_000
	// HardGasCeiling caps any computed limit.
	HardGasCeiling uint64 = 5_000_000
)

// ChainReader is the slice of the RPC surface the estimator needs.
// *ethclient.Client satisfies it directly.
type ChainReader interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Estimator prices contract calls against one chain.
type Estimator struct {
	reader ChainReader
	symbol string
}

// NewEstimator builds an estimator. symbol is the chain's native symbol,
// used only in user-facing messages.
func NewEstimator(reader ChainReader, symbol string) *Estimator {
	return &Estimator{reader: reader, symbol: symbol}
}

// Estimate attempts a live estimate for the exact call and applies the cap
// policy. If the node cannot estimate (reverting call, flaky RPC) it falls
// back to the method default so the caller still gets a usable limit.
func (e *Estimator) Estimate(ctx context.Context, msg ethereum.CallMsg, method Method, preferredCap uint64) uint64 {
	estimate, err := e.reader.EstimateGas(ctx, msg)
	if err != nil {
		fallback := methodDefault(method)
		log.RPC.Warn().Err(err).Str("method", string(method)).Uint64("fallback", fallback).
			Msg("gas estimation failed, using method default")
		return fallback
	}
	return ApplyCapPolicy(estimate, preferredCap)
}

// ApplyCapPolicy reconciles a live estimate with the caller's preferred cap.
// Trusting either side alone causes real failures: an under-provisioned
// limit reverts the call, an over-provisioned one wastes fees. The margin
// reacts to how far the two disagree:
//
//	estimate <= cap:    max(estimate*1.2, cap)
//	estimate <= 2*cap:  estimate*1.1
//	estimate >  2*cap:  min(estimate*1.2, HardGasCeiling)
func ApplyCapPolicy(estimate, preferredCap uint64) uint64 {
	if preferredCap == 0 {
		return min(withMargin(estimate, 120), HardGasCeiling)
	}
	switch {
	case estimate <= preferredCap:
		return max(withMargin(estimate, 120), preferredCap)
	case estimate <= 2*preferredCap:
		return withMargin(estimate, 110)
	default:
		return min(withMargin(estimate, 120), HardGasCeiling)
	}
}

func withMargin(v uint64, percent uint64) uint64 {
	return v * percent / 100
}

func methodDefault(method Method) uint64 {
	if method == MethodCreate {
		return DefaultCreateGas
	}
	return DefaultActionGas
}

// Fees carries the chain's current fee suggestions. TipCap is nil on chains
// that do not support eth_maxPriorityFeePerGas.
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
}

// FeeData returns the suggested gas price plus the EIP-1559 priority tip
// when the chain offers one. A missing tip is not an error, just legacy
// fee mode.
func (e *Estimator) FeeData(ctx context.Context) (Fees, error) {
	price, err := e.reader.SuggestGasPrice(ctx)
	if err != nil {
		return Fees{}, errclass.Classify(fmt.Errorf("suggest gas price: %w", err))
	}
	tip, err := e.reader.SuggestGasTipCap(ctx)
	if err != nil {
		log.RPC.Debug().Err(err).Msg("tip cap unavailable, legacy fee mode")
		tip = nil
	}
	return Fees{GasPrice: price, TipCap: tip}, nil
}

// Balance reads the caller's current native balance.
func (e *Estimator) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := e.reader.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("balance: %w", err))
	}
	return balance, nil
}

// ValidateBalance checks that balance covers amount plus fees with a 20%
// gas-price volatility margin. The failure message states required versus
// available in native decimal units, never in wei.
func (e *Estimator) ValidateBalance(balance, amount *big.Int, gasLimit uint64, gasPrice *big.Int) error {
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	fee.Mul(fee, big.NewInt(120))
	fee.Div(fee, big.NewInt(100))

	required := new(big.Int).Add(amount, fee)
	if balance.Cmp(required) < 0 {
		return errclass.New(errclass.InsufficientFunds,
			fmt.Sprintf("insufficient funds: need %s, have %s",
				units.FormatNative(required, e.symbol),
				units.FormatNative(balance, e.symbol)),
			nil)
	}
	return nil
}
