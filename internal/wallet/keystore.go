package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// keystoreFile is the on-disk format. One encrypted seed and one wallet
// list, both global rather than per chain: the shared-seed design means a
// single phrase backs every chain's addresses.
type keystoreFile struct {
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"createdAt"`
	EncryptedSeed []byte        `json:"encryptedSeed"`
	Wallets       []WalletEntry `json:"wallets"`
}

// WalletEntry stores public metadata for a derived wallet. Private keys are
// never written to disk; they are re-derived on demand.
type WalletEntry struct {
	ChainID        string `json:"chainId"`
	AccountIndex   uint32 `json:"accountIndex"`
	DerivationPath string `json:"derivationPath"`
	Address        string `json:"address"`
}

const keystoreVersion = 1

// ErrNoKeystore is returned when no keystore file exists yet.
var ErrNoKeystore = errors.New("keystore not found")

// Keystore persists the encrypted seed and wallet list on disk.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore rooted at the given directory.
func NewKeystore(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: filepath.Join(dir, "vault.json")}, nil
}

// Save encrypts the vault's mnemonic under the password and writes it with
// the wallet list.
func (ks *Keystore) Save(v *Vault, wallets []WalletEntry, password []byte) error {
	encrypted, err := Encrypt([]byte(v.Mnemonic()), password, DefaultParams())
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	file := keystoreFile{
		Version:       keystoreVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		Wallets:       wallets,
	}
	blob, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	return os.WriteFile(ks.path, blob, 0o600)
}

// Load decrypts the stored seed and returns the vault plus the wallet list.
func (ks *Keystore) Load(password []byte) (*Vault, []WalletEntry, error) {
	blob, err := os.ReadFile(ks.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNoKeystore
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read keystore: %w", err)
	}

	var file keystoreFile
	if err := json.Unmarshal(blob, &file); err != nil {
		return nil, nil, fmt.Errorf("parse keystore: %w", err)
	}

	mnemonic, err := Decrypt(file.EncryptedSeed, password)
	if err != nil {
		return nil, nil, err
	}

	v, err := NewVault(string(mnemonic))
	if err != nil {
		return nil, nil, fmt.Errorf("stored seed invalid: %w", err)
	}
	return v, file.Wallets, nil
}

// Exists reports whether a keystore file is present.
func (ks *Keystore) Exists() bool {
	_, err := os.Stat(ks.path)
	return err == nil
}
