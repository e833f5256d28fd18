package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNilKey       = errors.New("crypto: nil private key")
	ErrEmptyKeyPath = errors.New("crypto: empty keystore path")
)

// SaveToKeystore writes key to an Ethereum v3 keystore file at path, creating
// the parent directory with 0700 permissions when needed.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return ErrNilKey
	}
	if path == "" {
		return ErrEmptyKeyPath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, ErrEmptyKeyPath
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreIdentity reads the account identity recorded in a keystore file
// without decrypting it.
func KeystoreIdentity(path string) ([20]byte, error) {
	var id [20]byte
	if path == "" {
		return id, ErrEmptyKeyPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return id, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return id, fmt.Errorf("crypto: parse keystore %s: %w", path, err)
	}
	if !common.IsHexAddress(header.Address) {
		return id, fmt.Errorf("%w: keystore address %q", ErrInvalidIdentity, header.Address)
	}
	copy(id[:], common.HexToAddress(header.Address).Bytes())
	return id, nil
}
