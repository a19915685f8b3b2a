package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var errEmptyKeyPath = errors.New("crypto: empty keystore path")

// KeyFile is an Ethereum v3 keystore file holding a single participant key.
type KeyFile struct {
	Path string
}

// Exists reports whether the keystore file is present on disk.
func (f KeyFile) Exists() bool {
	if strings.TrimSpace(f.Path) == "" {
		return false
	}
	_, err := os.Stat(f.Path)
	return err == nil
}

// Save encrypts key with passphrase and atomically replaces the file. Parent
// directories are created with 0700 permissions.
func (f KeyFile) Save(key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if strings.TrimSpace(f.Path) == "" {
		return errEmptyKeyPath
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// The keystore library names files itself, so import into a scratch
	// directory and move the result into place.
	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	account, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return fmt.Errorf("crypto: import key: %w", err)
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(account.URL.Path, f.Path); err != nil {
		return err
	}
	return os.Chmod(f.Path, 0o600)
}

// Load decrypts the keystore file with passphrase.
func (f KeyFile) Load(passphrase string) (*PrivateKey, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errEmptyKeyPath
	}
	keyJSON, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// Address reads the plaintext address recorded in the keystore without
// decrypting the key material.
func (f KeyFile) Address() (Address, error) {
	keyJSON, err := os.ReadFile(f.Path)
	if err != nil {
		return Address{}, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(header.Address, "0x"))
	if err != nil || len(raw) != AddressLength {
		return Address{}, fmt.Errorf("crypto: keystore address malformed")
	}
	return NewAddress(LendPrefix, raw), nil
}

// CreateKeyFile generates a fresh key and writes it to path.
func CreateKeyFile(path, passphrase string) (*PrivateKey, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := (KeyFile{Path: path}).Save(key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}
