package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is a persistent store backed by CockroachDB's pebble engine.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens or creates a pebble database in dir.
func NewPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Put(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return clone(value), nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Write(batch *Batch) error {
	native := p.db.NewBatch()
	defer native.Close()
	if err := batch.Replay(
		func(key, value []byte) error { return native.Set(key, value, nil) },
		func(key []byte) error { return native.Delete(key, nil) },
	); err != nil {
		return err
	}
	return native.Commit(pebble.Sync)
}

func (p *PebbleDB) Close() {
	_ = p.db.Close()
}
