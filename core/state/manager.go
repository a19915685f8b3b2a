package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/native/lending"
)

// Manager provides typed, RLP-encoded access to module state held in a
// transaction overlay.
type Manager struct {
	tx *Tx
}

// NewManager creates a state manager operating on the provided transaction.
func NewManager(tx *Tx) *Manager {
	return &Manager{tx: tx}
}

// Tx exposes the underlying transaction.
func (m *Manager) Tx() *Tx { return m.tx }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 so every module shares one flat keyspace.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return m.tx.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.tx.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.tx.Delete(kvKey(key))
}

// LendingGet implements the lending engine state.
func (m *Manager) LendingGet(key lending.DataKey, out interface{}) (bool, error) {
	return m.KVGet(key.Bytes(), out)
}

// LendingPut implements the lending engine state.
func (m *Manager) LendingPut(key lending.DataKey, value interface{}) error {
	return m.KVPut(key.Bytes(), value)
}

// LendingDelete implements the lending engine state.
func (m *Manager) LendingDelete(key lending.DataKey) error {
	return m.KVDelete(key.Bytes())
}
