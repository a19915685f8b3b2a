package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"p2plend/crypto"
	"p2plend/native/lending"
	"p2plend/storage"
)

func testAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

func TestTxOverlay(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	tx := NewTx(db)
	got, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	require.NoError(t, tx.Put([]byte("a"), []byte("3")))
	require.NoError(t, tx.Delete([]byte("b")))
	require.NoError(t, tx.Put([]byte("c"), []byte("4")))
	require.Equal(t, 3, tx.Pending())

	got, err = tx.Get([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, got)
	raw, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), raw, "writes must stay buffered until commit")

	require.NoError(t, tx.Commit())
	raw, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), raw)
	has, err := db.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, has)

	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	_, err = tx.Get([]byte("a"))
	require.ErrorIs(t, err, ErrTxClosed)
}

func TestTxDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tx := NewTx(db)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	tx.Discard()
	has, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, has)
	require.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), ErrTxClosed)
}

func TestManagerKV(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(NewTx(db))

	type record struct {
		ID     uint64
		Amount *big.Int
		Flag   bool
	}
	require.NoError(t, mgr.KVPut([]byte("rec"), &record{ID: 7, Amount: big.NewInt(99), Flag: true}))
	var out record
	ok, err := mgr.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out.ID)
	require.Zero(t, out.Amount.Cmp(big.NewInt(99)))

	require.NoError(t, mgr.KVDelete([]byte("rec")))
	ok, err = mgr.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.KVGet(nil, &out)
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(NewTx(db))

	_, ok, err := mgr.Schema()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.EnsureSchema())
	v, ok, err := mgr.Schema()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, SchemaVersion, v)
	require.NoError(t, mgr.EnsureSchema())

	require.NoError(t, mgr.stampSchema(SchemaVersion+1))
	require.ErrorIs(t, mgr.EnsureSchema(), ErrSchemaMismatch)

	require.NoError(t, mgr.KVPut(schemaKey, schemaRecord{Name: "other", Version: SchemaVersion}))
	require.ErrorIs(t, mgr.EnsureSchema(), ErrForeignStore)
}

func TestLendingStatePersistsAcrossTransactions(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	ctx := context.Background()
	contract := testAddress(crypto.ContractPrefix, 1)
	admin := testAddress(crypto.LendPrefix, 2)
	usdc := testAddress(crypto.ContractPrefix, 3)
	xlm := testAddress(crypto.ContractPrefix, 4)

	tx := NewTx(db)
	engine := lending.NewEngine(contract, lending.DefaultParams())
	engine.SetState(NewManager(tx))
	require.NoError(t, engine.Initialize(ctx, lending.InitParams{Admin: admin, USDCToken: usdc, XLMToken: xlm}))
	require.NoError(t, tx.Commit())

	discarded := NewTx(db)
	engine.SetState(NewManager(discarded))
	require.NoError(t, engine.SetMaxInterestRate(ctx, admin, 700))
	discarded.Discard()

	engine.SetState(NewManager(NewTx(db)))
	cfg, err := engine.Config(ctx)
	require.NoError(t, err)
	require.True(t, cfg.Admin.Equal(admin))
	require.Equal(t, uint32(3_000), cfg.MaxInterestRate, "discarded write must not persist")
	require.False(t, cfg.Paused)
}
