// Package wallet implements BIP-39/BIP-44 key derivation over the shared
// seed: one mnemonic drives parallel identities on every supported chain.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for generated mnemonics (12 words).
const MnemonicEntropyBits = 128

var (
	// ErrInvalidSeed marks a phrase that fails BIP-39 checksum validation.
	ErrInvalidSeed = errors.New("invalid mnemonic phrase")
	// ErrDerivation marks a derivation failure, including hardened-index
	// overflow of the account index.
	ErrDerivation = errors.New("key derivation failed")
)

// GenerateMnemonic creates a new BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word count, word list membership and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// normalizeMnemonic trims surrounding whitespace and collapses internal runs
// so pasted phrases with stray spacing still validate.
func normalizeMnemonic(candidate string) string {
	return strings.Join(strings.Fields(candidate), " ")
}
