package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"p2plend/core/events"
	"p2plend/core/types"
)

type testEvent struct {
	typ   string
	attrs map[string]string
}

func (e testEvent) EventType() string { return e.typ }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.typ, Attributes: e.attrs}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvents() []events.Event {
	return []events.Event{
		testEvent{typ: "lending.offer.created", attrs: map[string]string{"offerId": "1", "lender": "lend1lender"}},
		testEvent{typ: "token.transfer", attrs: map[string]string{"from": "lend1borrower", "to": "lendc1pool", "amount": "10"}},
		testEvent{typ: "lending.loan.originated", attrs: map[string]string{"loanId": "1", "offerId": "1", "borrower": "lend1borrower", "lender": "lend1lender"}},
		testEvent{typ: "lending.loan.repaid", attrs: map[string]string{"loanId": "1", "offerId": "1", "borrower": "lend1borrower"}},
	}
}

func TestDialectorSelection(t *testing.T) {
	require.Equal(t, "postgres", dialector("postgres://u:p@localhost/db").Name())
	require.Equal(t, "postgres", dialector("PostgreSQL://u:p@localhost/db").Name())
	require.Equal(t, "sqlite", dialector("/var/lib/lend/archive.db").Name())
}

func TestStoreSaveAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bus := events.NewBus()
	records := bus.Publish(sampleEvents()...)
	require.Len(t, records, 4)
	require.NoError(t, store.Save(ctx, records...))

	loan, err := store.ByLoan(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loan, 2)
	require.Equal(t, "lending.loan.originated", loan[0].Type)
	require.Equal(t, "lend1borrower", loan[0].Actor)
	require.Equal(t, "1", loan[1].Attrs()["offerId"])

	offer, err := store.ByOffer(ctx, 1)
	require.NoError(t, err)
	require.Len(t, offer, 3)

	lending, err := store.Query(ctx, Filter{Type: "lending."})
	require.NoError(t, err)
	require.Len(t, lending, 3)

	transfers, err := store.Query(ctx, Filter{Type: "token.transfer", Actor: "lend1borrower"})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Nil(t, transfers[0].LoanID)

	limited, err := store.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	future, err := store.Query(ctx, Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, future)
}

func TestStoreFollowsBus(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sub := bus.Subscribe(16)
	go func() { done <- store.Follow(ctx, sub) }()

	bus.Publish(sampleEvents()...)
	require.Eventually(t, func() bool {
		rows, err := store.Query(context.Background(), Filter{})
		return err == nil && len(rows) == 4
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Zero(t, bus.Subscribers())
}

func TestExportParquet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, events.NewBus().Publish(sampleEvents()...)...))

	path := filepath.Join(t.TempDir(), "events.parquet")
	n, err := store.ExportParquet(ctx, path, Filter{Type: "lending."})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetEvent), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())

	rows := make([]parquetEvent, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "lending.offer.created", rows[0].Type)
	require.Equal(t, int64(1), rows[0].OfferID)
	require.Equal(t, int64(0), rows[0].LoanID)
	require.Equal(t, "lending.loan.originated", rows[1].Type)
	require.Equal(t, "lend1borrower", rows[1].Actor)
	require.Equal(t, "lending.loan.repaid", rows[2].Type)
	require.Contains(t, rows[2].Attributes, "offerId")
	require.NotEmpty(t, rows[2].EmittedAt)
}
