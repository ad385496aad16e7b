package wallet

import (
	"fmt"

	"chainrails/internal/registry"
)

// Vault is the caller-owned holder of the shared seed. It is an explicit
// value passed into derivation and storage calls; there is no package-level
// seed. The mnemonic never leaves the process and is never logged.
type Vault struct {
	mnemonic string
}

// NewVault wraps an already validated mnemonic. Use ValidateAndImport for
// phrases coming from user input.
func NewVault(mnemonic string) (*Vault, error) {
	m := normalizeMnemonic(mnemonic)
	if !ValidateMnemonic(m) {
		return nil, ErrInvalidSeed
	}
	return &Vault{mnemonic: m}, nil
}

// NewRandomVault generates a fresh mnemonic and wraps it.
func NewRandomVault() (*Vault, error) {
	m, err := GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	return &Vault{mnemonic: m}, nil
}

// ValidateAndImport accepts a candidate phrase: trims whitespace, validates
// the checksum, then performs one trial derivation so a phrase that passes
// validation but cannot produce keys is rejected now rather than failing
// later mid-transaction.
func ValidateAndImport(candidate string, trialProfile registry.ChainProfile) (*Vault, error) {
	m := normalizeMnemonic(candidate)
	if !ValidateMnemonic(m) {
		return nil, ErrInvalidSeed
	}
	if _, err := Derive(m, trialProfile, 0); err != nil {
		return nil, fmt.Errorf("trial derivation: %w", err)
	}
	return &Vault{mnemonic: m}, nil
}

// Derive computes the wallet for (chain profile, account index) from the
// vault's seed.
func (v *Vault) Derive(profile registry.ChainProfile, accountIndex uint32) (DerivedWallet, error) {
	return Derive(v.mnemonic, profile, accountIndex)
}

// Mnemonic exposes the raw phrase for keystore persistence only.
func (v *Vault) Mnemonic() string {
	return v.mnemonic
}
