// Package oracle implements an operator-pushed price feed quoting assets in
// the borrowed asset with 14 decimals of precision.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"p2plend/core/events"
	"p2plend/crypto"
	"p2plend/native/lending"
)

const (
	// Decimals is the fixed precision of every quote.
	Decimals uint32 = 14
	// Resolution is the expected spacing of samples in seconds.
	Resolution uint32 = 300
	// DefaultRetention bounds the stored history per asset (24h at Resolution).
	DefaultRetention = 288
)

var (
	ErrNotInitialized     = errors.New("oracle: not initialized")
	ErrAlreadyInitialized = errors.New("oracle: already initialized")
	ErrUnauthorized       = errors.New("oracle: caller is not the feed admin")
	ErrInvalidPrice       = errors.New("oracle: price must be positive")
	ErrInvalidAsset       = errors.New("oracle: asset symbol required")
	ErrOutOfOrder         = errors.New("oracle: sample older than the latest record")
)

// Storage abstracts the subset of state manager functionality required by the
// feed.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type feedConfig struct {
	AdminPrefix string
	Admin       []byte
	Base        string
	Assets      []string
}

type sample struct {
	Price     *big.Int
	Timestamp uint64
}

type history struct {
	Samples []sample
}

// Feed is a price feed bound to one state view. It implements
// lending.PriceFeed.
type Feed struct {
	store     Storage
	address   crypto.Address
	emitter   events.Emitter
	retention int
}

// NewFeed constructs the feed living at address.
func NewFeed(store Storage, address crypto.Address) *Feed {
	return &Feed{store: store, address: address, emitter: events.NoopEmitter{}, retention: DefaultRetention}
}

// SetEmitter configures the emitter used for price events.
func (f *Feed) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
}

// SetRetention overrides the number of samples kept per asset.
func (f *Feed) SetRetention(n int) {
	if n > 0 {
		f.retention = n
	}
}

// Address returns the feed's contract address.
func (f *Feed) Address() crypto.Address { return f.address }

func (f *Feed) prefix() string { return "oracle/" + hex.EncodeToString(f.address.Bytes()) }

func (f *Feed) configKey() []byte { return []byte(f.prefix() + "/config") }

func (f *Feed) historyKey(asset string) []byte { return []byte(f.prefix() + "/history/" + asset) }

func normalizeAsset(asset string) string { return strings.ToUpper(strings.TrimSpace(asset)) }

func (f *Feed) config() (*feedConfig, error) {
	var cfg feedConfig
	ok, err := f.store.KVGet(f.configKey(), &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &cfg, nil
}

// Initialize records the feed admin and the base asset prices are quoted in.
func (f *Feed) Initialize(admin crypto.Address, base string) error {
	if _, err := f.config(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	base = normalizeAsset(base)
	if admin.IsZero() || base == "" {
		return fmt.Errorf("oracle: admin and base asset required")
	}
	return f.store.KVPut(f.configKey(), &feedConfig{
		AdminPrefix: string(admin.Prefix()),
		Admin:       append([]byte(nil), admin.Bytes()...),
		Base:        base,
	})
}

// Admin returns the address allowed to push prices.
func (f *Feed) Admin() (crypto.Address, error) {
	cfg, err := f.config()
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(crypto.AddressPrefix(cfg.AdminPrefix), cfg.Admin), nil
}

// Base returns the quote asset.
func (f *Feed) Base() (string, error) {
	cfg, err := f.config()
	if err != nil {
		return "", err
	}
	return cfg.Base, nil
}

// Assets lists the assets that have at least one sample.
func (f *Feed) Assets() ([]string, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), cfg.Assets...), nil
}

func (f *Feed) history(asset string) (*history, error) {
	var h history
	if _, err := f.store.KVGet(f.historyKey(asset), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// SetPrice records a sample. Timestamps must not go backwards; a sample at the
// latest timestamp replaces it.
func (f *Feed) SetPrice(caller crypto.Address, asset string, price *big.Int, timestamp uint64) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	if !caller.Equal(crypto.NewAddress(crypto.AddressPrefix(cfg.AdminPrefix), cfg.Admin)) {
		return ErrUnauthorized
	}
	asset = normalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	h, err := f.history(asset)
	if err != nil {
		return err
	}
	next := sample{Price: new(big.Int).Set(price), Timestamp: timestamp}
	if n := len(h.Samples); n > 0 {
		last := h.Samples[n-1].Timestamp
		switch {
		case timestamp < last:
			return ErrOutOfOrder
		case timestamp == last:
			h.Samples[n-1] = next
		default:
			h.Samples = append(h.Samples, next)
		}
	} else {
		h.Samples = append(h.Samples, next)
	}
	if extra := len(h.Samples) - f.retention; extra > 0 {
		h.Samples = append([]sample(nil), h.Samples[extra:]...)
	}
	if err := f.store.KVPut(f.historyKey(asset), h); err != nil {
		return err
	}
	if i := sort.SearchStrings(cfg.Assets, asset); i == len(cfg.Assets) || cfg.Assets[i] != asset {
		cfg.Assets = append(cfg.Assets, asset)
		sort.Strings(cfg.Assets)
		if err := f.store.KVPut(f.configKey(), cfg); err != nil {
			return err
		}
	}
	f.emitter.Emit(events.PricePushed{Oracle: f.address, Asset: asset, Price: price, Timestamp: timestamp})
	return nil
}

func toPriceData(s sample) *lending.PriceData {
	return &lending.PriceData{Price: new(big.Int).Set(s.Price), Timestamp: s.Timestamp}
}

// LastPrice returns the most recent sample.
func (f *Feed) LastPrice(_ context.Context, asset string) (*lending.PriceData, bool, error) {
	if _, err := f.config(); err != nil {
		return nil, false, err
	}
	h, err := f.history(normalizeAsset(asset))
	if err != nil {
		return nil, false, err
	}
	if len(h.Samples) == 0 {
		return nil, false, nil
	}
	return toPriceData(h.Samples[len(h.Samples)-1]), true, nil
}

// Price returns the latest sample recorded at or before timestamp.
func (f *Feed) Price(_ context.Context, asset string, timestamp uint64) (*lending.PriceData, bool, error) {
	if _, err := f.config(); err != nil {
		return nil, false, err
	}
	h, err := f.history(normalizeAsset(asset))
	if err != nil {
		return nil, false, err
	}
	i := sort.Search(len(h.Samples), func(i int) bool { return h.Samples[i].Timestamp > timestamp })
	if i == 0 {
		return nil, false, nil
	}
	return toPriceData(h.Samples[i-1]), true, nil
}

// Prices returns up to n samples, newest first.
func (f *Feed) Prices(_ context.Context, asset string, n int) ([]lending.PriceData, error) {
	if _, err := f.config(); err != nil {
		return nil, err
	}
	h, err := f.history(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(h.Samples) {
		n = len(h.Samples)
	}
	out := make([]lending.PriceData, 0, n)
	for i := len(h.Samples) - 1; i >= len(h.Samples)-n; i-- {
		out = append(out, *toPriceData(h.Samples[i]))
	}
	return out, nil
}

// TWAP averages the last n samples. It reports false when no samples exist.
func (f *Feed) TWAP(ctx context.Context, asset string, n int) (*big.Int, bool, error) {
	samples, err := f.Prices(ctx, asset, n)
	if err != nil || len(samples) == 0 {
		return nil, false, err
	}
	sum := new(big.Int)
	for _, s := range samples {
		sum.Add(sum, s.Price)
	}
	return sum.Quo(sum, big.NewInt(int64(len(samples)))), true, nil
}

// Decimals returns the quote precision.
func (f *Feed) Decimals(context.Context) (uint32, error) { return Decimals, nil }

// LastTimestamp returns the newest sample time across all assets.
func (f *Feed) LastTimestamp() (uint64, error) {
	cfg, err := f.config()
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, asset := range cfg.Assets {
		h, err := f.history(asset)
		if err != nil {
			return 0, err
		}
		if n := len(h.Samples); n > 0 && h.Samples[n-1].Timestamp > latest {
			latest = h.Samples[n-1].Timestamp
		}
	}
	return latest, nil
}
