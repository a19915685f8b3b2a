package oracle

import (
	"context"
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

func newTestFeed(t *testing.T) (*Feed, crypto.Address) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	admin := testAddress(crypto.LendPrefix, 1)
	feed := NewFeed(state.NewManager(state.NewTx(db)), testAddress(crypto.ContractPrefix, 2))
	require.NoError(t, feed.Initialize(admin, "usdc"))
	return feed, admin
}

func TestFeedImplementsPriceFeed(t *testing.T) {
	var _ lending.PriceFeed = (*Feed)(nil)
}

func TestSetPriceAndQueries(t *testing.T) {
	feed, admin := newTestFeed(t)
	ctx := context.Background()
	buf := &events.Buffer{}
	feed.SetEmitter(buf)

	_, ok, err := feed.LastPrice(ctx, "XLM")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, feed.SetPrice(testAddress(crypto.LendPrefix, 9), "XLM", big.NewInt(1), 100), ErrUnauthorized)
	require.ErrorIs(t, feed.SetPrice(admin, "XLM", big.NewInt(0), 100), ErrInvalidPrice)
	require.NoError(t, feed.SetPrice(admin, "xlm", big.NewInt(10), 100))
	require.NoError(t, feed.SetPrice(admin, "XLM", big.NewInt(20), 400))
	require.NoError(t, feed.SetPrice(admin, "XLM", big.NewInt(30), 700))
	require.ErrorIs(t, feed.SetPrice(admin, "XLM", big.NewInt(40), 600), ErrOutOfOrder)
	require.Equal(t, 3, buf.Len())

	last, ok, err := feed.LastPrice(ctx, "xlm")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(700), last.Timestamp)

	at, ok, err := feed.Price(ctx, "XLM", 699)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, at.Price.Cmp(big.NewInt(20)))
	_, ok, err = feed.Price(ctx, "XLM", 99)
	require.NoError(t, err)
	require.False(t, ok)

	recent, err := feed.Prices(ctx, "XLM", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(700), recent[0].Timestamp)

	twap, ok, err := feed.TWAP(ctx, "XLM", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, twap.Cmp(big.NewInt(20)))

	assets, err := feed.Assets()
	require.NoError(t, err)
	require.Equal(t, []string{"XLM"}, assets)
	ts, err := feed.LastTimestamp()
	require.NoError(t, err)
	require.Equal(t, uint64(700), ts)
	dec, _ := feed.Decimals(ctx)
	require.Equal(t, uint32(14), dec)
}

func TestRetentionAndReplace(t *testing.T) {
	feed, admin := newTestFeed(t)
	ctx := context.Background()
	feed.SetRetention(2)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, feed.SetPrice(admin, "XLM", big.NewInt(int64(i)), i*300))
	}
	require.NoError(t, feed.SetPrice(admin, "XLM", big.NewInt(99), 1_200))
	all, err := feed.Prices(ctx, "XLM", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Zero(t, all[0].Price.Cmp(big.NewInt(99)))
	require.Equal(t, uint64(900), all[1].Timestamp)
}

func TestUninitializedFeed(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	feed := NewFeed(state.NewManager(state.NewTx(db)), testAddress(crypto.ContractPrefix, 3))
	_, _, err := feed.LastPrice(context.Background(), "XLM")
	require.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, feed.Initialize(testAddress(crypto.LendPrefix, 1), "USDC"))
	require.ErrorIs(t, feed.Initialize(testAddress(crypto.LendPrefix, 1), "USDC"), ErrAlreadyInitialized)
}
