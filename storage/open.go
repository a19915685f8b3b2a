package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendPebble  = "pebble"
)

// Open constructs the named backend rooted at dataDir.
func Open(backend, dataDir string) (Database, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = BackendLevelDB
	}
	if backend == BackendMemory {
		return NewMemDB(), nil
	}
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("storage: data directory required for %s backend", backend)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	switch backend {
	case BackendLevelDB:
		return NewLevelDB(filepath.Join(dataDir, "state.ldb"))
	case BackendBolt:
		return NewBoltDB(filepath.Join(dataDir, "state.bolt"))
	case BackendPebble:
		return NewPebbleDB(filepath.Join(dataDir, "state.pebble"))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
