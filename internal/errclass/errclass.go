// Package errclass maps raw RPC and contract failures into a closed
// taxonomy with fixed user-safe messages.
package errclass

import (
	"context"
	"errors"
	"strings"
)

// Category is the closed set of user-facing failure categories.
type Category string

const (
	InsufficientFunds Category = "insufficient_funds"
	UserRejected      Category = "user_rejected"
	GasFailure        Category = "gas_failure"
	ContractRevert    Category = "contract_revert"
	NetworkError      Category = "network_error"
	NonceError        Category = "nonce_error"
	Unknown           Category = "unknown"
)

// userMessages holds the fixed message rendered per category. Unknown falls
// back to the raw error text instead.
var userMessages = map[Category]string{
	InsufficientFunds: "Insufficient funds to cover the amount plus network fees.",
	UserRejected:      "The request was rejected before signing.",
	GasFailure:        "The transaction could not be priced: gas estimation or gas limits failed.",
	ContractRevert:    "The contract rejected the transaction.",
	NetworkError:      "The network request failed or timed out. The transaction outcome is unknown if it was already sent.",
	NonceError:        "Transaction ordering conflict; please retry.",
	Unknown:           "",
}

// Classified wraps a raw error with its category and user-safe message.
type Classified struct {
	Category Category
	Message  string
	Err      error
}

func (c *Classified) Error() string {
	if c.Err == nil {
		return c.Message
	}
	return c.Message + ": " + c.Err.Error()
}

func (c *Classified) Unwrap() error { return c.Err }

// Retryable reports whether the failure is transient. Only network and nonce
// failures are worth retrying; everything else fails the same way again.
func (c *Classified) Retryable() bool {
	return c.Category == NetworkError || c.Category == NonceError
}

// New builds a classified error for a locally detected condition. An empty
// message uses the category's fixed message.
func New(cat Category, msg string, err error) *Classified {
	if msg == "" {
		msg = userMessages[cat]
	}
	return &Classified{Category: cat, Message: msg, Err: err}
}

// Reject marks a precondition violation that would revert on-chain; the
// engine detects it locally so the user never pays gas for a doomed call.
func Reject(msg string) *Classified {
	return &Classified{Category: ContractRevert, Message: msg}
}

// Classify pattern-matches a raw failure into exactly one category. Already
// classified errors pass through unchanged.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	var c *Classified
	if errors.As(err, &c) {
		return c
	}

	cat := categorize(err)
	msg := userMessages[cat]
	if cat == Unknown {
		msg = err.Error()
	}
	return &Classified{Category: cat, Message: msg, Err: err}
}

func categorize(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case contains(msg, "insufficient funds", "insufficient balance"):
		return InsufficientFunds
	case contains(msg, "user denied", "user rejected", "request rejected"):
		return UserRejected
	case contains(msg, "nonce too low", "nonce too high", "replacement transaction underpriced", "already known"):
		return NonceError
	case contains(msg, "gas required exceeds", "intrinsic gas too low", "out of gas", "underpriced", "gas limit reached", "fee cap"):
		return GasFailure
	case contains(msg, "execution reverted", "revert", "always failing transaction"):
		return ContractRevert
	case contains(msg, "connection refused", "connection reset", "timeout", "deadline exceeded",
		"no such host", "eof", "tls", "502", "503", "too many requests"):
		return NetworkError
	default:
		return Unknown
	}
}

func contains(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
