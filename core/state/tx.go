package state

import (
	"errors"
	"fmt"
	"sort"

	"p2plend/storage"
)

// ErrTxClosed is returned when a committed or discarded transaction is used.
var ErrTxClosed = errors.New("state: transaction closed")

// Tx buffers writes on top of a database. Reads fall through to the database
// for keys the transaction has not touched. Commit applies every buffered
// write as one batch; Discard drops them.
type Tx struct {
	db      storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// NewTx opens an overlay transaction over db.
func NewTx(db storage.Database) *Tx {
	return &Tx{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Get returns the value stored under key, or nil when it is absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	k := string(key)
	if _, ok := tx.deletes[k]; ok {
		return nil, nil
	}
	if v, ok := tx.writes[k]; ok {
		return append([]byte(nil), v...), nil
	}
	v, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read: %w", err)
	}
	return v, nil
}

// Put buffers a write.
func (tx *Tx) Put(key, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.deletes, k)
	tx.writes[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a removal.
func (tx *Tx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}

// Pending reports the number of buffered operations.
func (tx *Tx) Pending() int { return len(tx.writes) + len(tx.deletes) }

// Commit writes the buffered operations atomically and closes the
// transaction. Operations are applied in key order.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if tx.Pending() == 0 {
		return nil
	}
	keys := make([]string, 0, tx.Pending())
	for k := range tx.writes {
		keys = append(keys, k)
	}
	for k := range tx.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, k := range keys {
		if v, ok := tx.writes[k]; ok {
			batch.Put([]byte(k), v)
			continue
		}
		batch.Delete([]byte(k))
	}
	if err := tx.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops the buffered operations and closes the transaction.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
}
