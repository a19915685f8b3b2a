package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestValidateQuote(t *testing.T) {
	const now = 10_000
	cases := []struct {
		name string
		data PriceData
		want error
	}{
		{"fresh", PriceData{Price: price(200), Timestamp: now - 300}, nil},
		{"stale", PriceData{Price: price(200), Timestamp: now - 301}, ErrStalePriceData},
		{"future", PriceData{Price: price(200), Timestamp: now + 1}, ErrInvalidPriceData},
		{"zero", PriceData{Price: big.NewInt(0), Timestamp: now}, ErrInvalidPriceData},
		{"negative", PriceData{Price: big.NewInt(-1), Timestamp: now}, ErrInvalidPriceData},
		{"below one cent", PriceData{Price: new(big.Int).Sub(price(1), big.NewInt(1)), Timestamp: now}, ErrInvalidPriceData},
		{"one cent", PriceData{Price: price(1), Timestamp: now}, nil},
		{"above $100", PriceData{Price: new(big.Int).Add(price(10_000), big.NewInt(1)), Timestamp: now}, ErrInvalidPriceData},
	}
	for _, tc := range cases {
		data := tc.data
		_, err := validateQuote(&data, 14, now, 300)
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestOracleAdapterMissingFeed(t *testing.T) {
	adapter := oracleAdapter{feed: &mockFeed{decimals: 14}, asset: "XLM", staleness: 300}
	_, err := adapter.quote(context.Background(), 1)
	expectCode(t, err, ErrPriceNotAvailable)

	adapter.feed = &mockFeed{decimals: 14, err: errors.New("feed unreachable")}
	_, err = adapter.quote(context.Background(), 1)
	expectCode(t, err, ErrPriceNotAvailable)
}

func TestQuoteConversions(t *testing.T) {
	q := &Quote{PriceData: PriceData{Price: price(120)}, Decimals: 14}
	value, err := q.CollateralValue(big.NewInt(100_0000000))
	if err != nil || value.Cmp(big.NewInt(120_0000000)) != 0 {
		t.Fatalf("collateral value %s (%v)", value, err)
	}
	xlm, err := q.CollateralFor(big.NewInt(105_0000000))
	if err != nil || xlm.Cmp(big.NewInt(87_5000000)) != 0 {
		t.Fatalf("collateral for %s (%v)", xlm, err)
	}
}

func TestLiquidationPrice(t *testing.T) {
	// 50 USDC of debt against 100 XLM at a 125% threshold liquidates at $0.625.
	got, err := LiquidationPrice(big.NewInt(50_0000000), big.NewInt(100_0000000), 12_500, 14)
	if err != nil {
		t.Fatalf("liquidation price: %v", err)
	}
	if want := big.NewInt(62_500_000_000_000); got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if zero, _ := LiquidationPrice(big.NewInt(1), big.NewInt(0), 12_500, 14); zero.Sign() != 0 {
		t.Fatalf("zero collateral should yield zero")
	}
}
