package lending

import (
	"context"
	"fmt"
	"math/big"

	"p2plend/crypto"
)

// PriceFeed is the read-only oracle surface consumed by the engine.
type PriceFeed interface {
	// LastPrice returns the most recent quote for asset; ok is false when the
	// feed holds no record.
	LastPrice(ctx context.Context, asset string) (*PriceData, bool, error)
	// Price returns the quote in effect at timestamp.
	Price(ctx context.Context, asset string, timestamp uint64) (*PriceData, bool, error)
	// Decimals is the fixed-point precision of every quote.
	Decimals(ctx context.Context) (uint32, error)
}

// OracleResolver maps a configured oracle address onto a feed.
type OracleResolver interface {
	ResolveOracle(addr crypto.Address) (PriceFeed, bool)
}

// StaticOracles is an OracleResolver backed by a fixed address table.
type StaticOracles map[string]PriceFeed

// ResolveOracle implements OracleResolver.
func (s StaticOracles) ResolveOracle(addr crypto.Address) (PriceFeed, bool) {
	if addr.IsZero() {
		return nil, false
	}
	feed, ok := s[addr.String()]
	return feed, ok && feed != nil
}

// Register adds feed under addr.
func (s StaticOracles) Register(addr crypto.Address, feed PriceFeed) {
	s[addr.String()] = feed
}

// Quote is a validated price together with the feed precision.
type Quote struct {
	PriceData
	Decimals uint32
}

// oracleAdapter validates quotes from a single feed. Every collateral
// valuation in the engine goes through it.
type oracleAdapter struct {
	feed      PriceFeed
	asset     string
	staleness uint64
}

func (a oracleAdapter) quote(ctx context.Context, now uint64) (*Quote, error) {
	data, ok, err := a.feed.LastPrice(ctx, a.asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceNotAvailable, err)
	}
	if !ok || data == nil {
		return nil, ErrPriceNotAvailable
	}
	decimals, err := a.feed.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceNotAvailable, err)
	}
	return validateQuote(data, decimals, now, a.staleness)
}

func validateQuote(data *PriceData, decimals uint32, now, staleness uint64) (*Quote, error) {
	if data.Price == nil || data.Price.Sign() <= 0 {
		return nil, ErrInvalidPriceData
	}
	if data.Timestamp > now {
		return nil, ErrInvalidPriceData
	}
	if now-data.Timestamp > staleness {
		return nil, ErrStalePriceData
	}
	minPrice, maxPrice := priceBand(decimals)
	if data.Price.Cmp(minPrice) < 0 || data.Price.Cmp(maxPrice) > 0 {
		return nil, ErrInvalidPriceData
	}
	return &Quote{
		PriceData: PriceData{Price: new(big.Int).Set(data.Price), Timestamp: data.Timestamp},
		Decimals:  decimals,
	}, nil
}

// priceBand returns the accepted quote range, $0.01 to $100 at the given
// precision.
func priceBand(decimals uint32) (*big.Int, *big.Int) {
	minPrice := big.NewInt(1)
	if decimals >= 2 {
		minPrice = pow10(decimals - 2)
	}
	maxPrice := new(big.Int).Mul(big.NewInt(100), pow10(decimals))
	return minPrice, maxPrice
}

// CollateralValue converts a collateral amount into borrowed-asset units:
// amount * price / 10^decimals.
func (q *Quote) CollateralValue(amount *big.Int) (*big.Int, error) {
	return MulDiv(amount, q.Price, pow10(q.Decimals))
}

// CollateralFor converts a borrowed-asset value into the collateral amount
// worth it at the quote: value * 10^decimals / price.
func (q *Quote) CollateralFor(value *big.Int) (*big.Int, error) {
	return MulDiv(value, pow10(q.Decimals), q.Price)
}

// LiquidationPrice returns the collateral price at which a position with the
// given debt and collateral reaches the liquidation threshold:
//
//	debt * threshold * 10^decimals / collateral / 10000
//
// Zero collateral yields zero.
func LiquidationPrice(debt, collateral *big.Int, threshold, decimals uint32) (*big.Int, error) {
	if operand(collateral).Sign() == 0 {
		return big.NewInt(0), nil
	}
	scaled, err := Mul(debt, new(big.Int).SetUint64(uint64(threshold)))
	if err != nil {
		return nil, err
	}
	scaled, err = Mul(scaled, pow10(decimals))
	if err != nil {
		return nil, err
	}
	perUnit, err := Div(scaled, collateral)
	if err != nil {
		return nil, err
	}
	return Div(perUnit, basisPoints)
}
