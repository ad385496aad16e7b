package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"chainrails/internal/registry"
)

// purposeBIP44 is the BIP-44 purpose field (hardened).
const purposeBIP44 = bip32.FirstHardenedChild + 44

// DerivedWallet is one deterministic key pair for a (chain, account index).
type DerivedWallet struct {
	ChainID        string
	AccountIndex   uint32
	DerivationPath string
	Address        string
	PrivateKey     *ecdsa.PrivateKey
}

// PrivateKeyHex returns the hex-encoded private key. Callers that only need
// the address should never touch this.
func (w DerivedWallet) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.PrivateKey))
}

// Derive computes the wallet at m/44'/<coinType>'/<accountIndex>'/0/0 for
// the given chain profile. Pure and deterministic: identical inputs always
// yield an identical wallet.
func Derive(mnemonic string, profile registry.ChainProfile, accountIndex uint32) (DerivedWallet, error) {
	if accountIndex >= bip32.FirstHardenedChild {
		return DerivedWallet{}, fmt.Errorf("%w: account index %d exceeds hardened space", ErrDerivation, accountIndex)
	}

	seed, err := bip39.NewSeedWithErrorChecking(normalizeMnemonic(mnemonic), "")
	if err != nil {
		return DerivedWallet{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return DerivedWallet{}, fmt.Errorf("%w: master key: %v", ErrDerivation, err)
	}

	indices := []uint32{
		purposeBIP44,
		bip32.FirstHardenedChild + profile.CoinType,
		bip32.FirstHardenedChild + accountIndex,
		0,
		0,
	}
	key := master
	for _, idx := range indices {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return DerivedWallet{}, fmt.Errorf("%w: child %d: %v", ErrDerivation, idx, err)
		}
	}

	priv, err := crypto.ToECDSA(privateKeyBytes(key))
	if err != nil {
		return DerivedWallet{}, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	return DerivedWallet{
		ChainID:        profile.ID,
		AccountIndex:   accountIndex,
		DerivationPath: fmt.Sprintf("m/44'/%d'/%d'/0/0", profile.CoinType, accountIndex),
		Address:        crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		PrivateKey:     priv,
	}, nil
}

// privateKeyBytes strips the leading zero byte bip32 stores on private keys.
func privateKeyBytes(key *bip32.Key) []byte {
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Zero wipes the private key material of a derived wallet. Call it when the
// signing scope that needed the key ends.
func (w *DerivedWallet) Zero() {
	if w.PrivateKey == nil {
		return
	}
	b := w.PrivateKey.D.Bits()
	for i := range b {
		b[i] = 0
	}
	w.PrivateKey = nil
}
