package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"p2plend/core/events"
	"p2plend/core/state"
	"p2plend/crypto"
	"p2plend/native/lending"
	"p2plend/storage"
)

func testAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

type fixture struct {
	ledger *Ledger
	buf    *events.Buffer
	token  crypto.Address
	minter crypto.Address
	alice  crypto.Address
	bob    crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	f := &fixture{
		ledger: NewLedger(state.NewManager(state.NewTx(db))),
		buf:    &events.Buffer{},
		token:  testAddress(crypto.ContractPrefix, 1),
		minter: testAddress(crypto.LendPrefix, 2),
		alice:  testAddress(crypto.LendPrefix, 3),
		bob:    testAddress(crypto.LendPrefix, 4),
	}
	f.ledger.SetEmitter(f.buf)
	_, err := f.ledger.Register(f.token, " USD Coin ", "usdc", DefaultDecimals, f.minter)
	require.NoError(t, err)
	return f
}

func TestRegisterNormalizesMetadata(t *testing.T) {
	f := newFixture(t)
	meta, err := f.ledger.Metadata(f.token)
	require.NoError(t, err)
	require.Equal(t, "USD Coin", meta.Name)
	require.Equal(t, "USDC", meta.Symbol)
	require.Equal(t, uint8(7), meta.Decimals)
	require.True(t, meta.Minter.Equal(f.minter))

	// The fullwidth ticker folds to ASCII under NFKC.
	other := testAddress(crypto.ContractPrefix, 9)
	meta, err = f.ledger.Register(other, "Stellar Lumens", "ｘｌｍ", DefaultDecimals, f.minter)
	require.NoError(t, err)
	require.Equal(t, "XLM", meta.Symbol)

	_, err = f.ledger.Register(f.token, "dup", "dup", 7, f.minter)
	require.ErrorIs(t, err, ErrTokenExists)
	tokens, err := f.ledger.Tokens()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
}

func TestMintAndTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.ledger.Mint(f.alice, f.token, f.alice, big.NewInt(10)), ErrNotMinter)
	require.NoError(t, f.ledger.Mint(f.minter, f.token, f.alice, big.NewInt(1_000)))
	supply, err := f.ledger.TotalSupply(f.token)
	require.NoError(t, err)
	require.Zero(t, supply.Cmp(big.NewInt(1_000)))

	require.NoError(t, f.ledger.Transfer(ctx, f.token, f.alice, f.bob, big.NewInt(400)))
	bal, err := f.ledger.Balance(ctx, f.token, f.bob)
	require.NoError(t, err)
	require.Zero(t, bal.Cmp(big.NewInt(400)))

	err = f.ledger.Transfer(ctx, f.token, f.bob, f.alice, big.NewInt(401))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.True(t, errors.Is(err, lending.ErrInsufficientBalance))
	code, ok := lending.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, uint32(103), code)

	require.ErrorIs(t, f.ledger.Transfer(ctx, f.token, f.alice, f.bob, big.NewInt(-1)), ErrInvalidAmount)
	_, err = f.ledger.Balance(ctx, testAddress(crypto.ContractPrefix, 77), f.alice)
	require.ErrorIs(t, err, ErrUnknownToken)

	got := make([]string, 0)
	for _, evt := range f.buf.Drain() {
		got = append(got, evt.EventType())
	}
	require.Equal(t, []string{events.TypeTokenMint, events.TypeTokenTransfer}, got)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spender := testAddress(crypto.ContractPrefix, 5)
	require.NoError(t, f.ledger.Mint(f.minter, f.token, f.alice, big.NewInt(1_000)))

	err := f.ledger.TransferFrom(ctx, f.token, spender, f.alice, spender, big.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	code, _ := lending.CodeOf(err)
	require.Equal(t, uint32(102), code)

	require.NoError(t, f.ledger.Approve(f.alice, f.token, spender, big.NewInt(300)))
	require.NoError(t, f.ledger.TransferFrom(ctx, f.token, spender, f.alice, spender, big.NewInt(200)))
	left, err := f.ledger.Allowance(f.token, f.alice, spender)
	require.NoError(t, err)
	require.Zero(t, left.Cmp(big.NewInt(100)))

	require.NoError(t, f.ledger.Approve(f.alice, f.token, spender, big.NewInt(5_000)))
	err = f.ledger.TransferFrom(ctx, f.token, spender, f.alice, spender, big.NewInt(900))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	left, err = f.ledger.Allowance(f.token, f.alice, spender)
	require.NoError(t, err)
	require.Zero(t, left.Cmp(big.NewInt(5_000)), "failed pull must not consume allowance")
}
