package state

import (
	"errors"
	"fmt"
)

// SchemaVersion identifies the layout of the lending, token and oracle
// records. Bump it whenever a stored record changes shape.
const SchemaVersion uint32 = 1

const schemaName = "p2plend"

var schemaKey = []byte("p2plend/schema")

var (
	// ErrSchemaMismatch reports a store written with another record layout.
	ErrSchemaMismatch = errors.New("state: schema version mismatch")
	// ErrForeignStore reports a store stamped by a different application.
	ErrForeignStore = errors.New("state: store belongs to another application")
)

type schemaRecord struct {
	Name    string
	Version uint32
}

// Schema returns the stamp recorded in the store. ok is false on a fresh
// store.
func (m *Manager) Schema() (version uint32, ok bool, err error) {
	var rec schemaRecord
	ok, err = m.KVGet(schemaKey, &rec)
	if err != nil || !ok {
		return 0, ok, err
	}
	if rec.Name != schemaName {
		return 0, true, fmt.Errorf("%w: %q", ErrForeignStore, rec.Name)
	}
	return rec.Version, true, nil
}

func (m *Manager) stampSchema(version uint32) error {
	return m.KVPut(schemaKey, schemaRecord{Name: schemaName, Version: version})
}

// EnsureSchema stamps a fresh store and rejects one written by another
// application or layout.
func (m *Manager) EnsureSchema() error {
	version, ok, err := m.Schema()
	if err != nil {
		return err
	}
	if !ok {
		return m.stampSchema(SchemaVersion)
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: store has %d, binary expects %d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}
