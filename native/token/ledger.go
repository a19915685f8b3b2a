// Package token implements the fungible-asset ledger the lending engine moves
// funds through. Each token is identified by a contract address and keeps its
// balances, allowances and supply in module state.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	"p2plend/core/events"
	"p2plend/crypto"
	"p2plend/native/lending"
)

// DefaultDecimals is the precision of both lending assets.
const DefaultDecimals uint8 = 7

var (
	ErrInsufficientBalance   = fmt.Errorf("token: insufficient balance: %w", lending.ErrInsufficientBalance)
	ErrInsufficientAllowance = fmt.Errorf("token: insufficient allowance: %w", lending.ErrTokenTransferFailed)
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrTokenExists           = errors.New("token: already registered")
	ErrNotMinter             = errors.New("token: caller is not the minter")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInvalidMetadata       = errors.New("token: invalid metadata")
	ErrBalanceOverflow       = errors.New("token: balance overflow")
)

// Storage abstracts the subset of state manager functionality required by the
// ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Metadata describes a registered token.
type Metadata struct {
	Address  crypto.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Minter   crypto.Address `json:"minter"`
}

type storedMetadata struct {
	Name         string
	Symbol       string
	Decimals     uint8
	MinterPrefix string
	Minter       []byte
}

type tokenIndex struct {
	Tokens [][]byte
}

// Ledger applies token operations against a state view. A ledger is bound to
// one view and is not safe for concurrent use.
type Ledger struct {
	store   Storage
	emitter events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the emitter used for token events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// NormalizeName applies NFKC normalization and trims surrounding space.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFKC.String(name))
}

// NormalizeSymbol applies NFKC normalization and upper-cases the ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(NormalizeName(symbol))
}

// Register creates a token with zero supply. Only minter may mint it.
func (l *Ledger) Register(token crypto.Address, name, symbol string, decimals uint8, minter crypto.Address) (*Metadata, error) {
	name = NormalizeName(name)
	symbol = NormalizeSymbol(symbol)
	if token.IsZero() || minter.IsZero() || name == "" || symbol == "" || decimals > 38 {
		return nil, ErrInvalidMetadata
	}
	if ok, err := l.store.KVGet(metadataKey(token), nil); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, token)
	}
	rec := &storedMetadata{
		Name:         name,
		Symbol:       symbol,
		Decimals:     decimals,
		MinterPrefix: string(minter.Prefix()),
		Minter:       append([]byte(nil), minter.Bytes()...),
	}
	if err := l.store.KVPut(metadataKey(token), rec); err != nil {
		return nil, err
	}
	var index tokenIndex
	if _, err := l.store.KVGet(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	index.Tokens = append(index.Tokens, append([]byte(nil), token.Bytes()...))
	if err := l.store.KVPut(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	return l.Metadata(token)
}

// Metadata returns the registered metadata of token.
func (l *Ledger) Metadata(token crypto.Address) (*Metadata, error) {
	var rec storedMetadata
	ok, err := l.store.KVGet(metadataKey(token), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return &Metadata{
		Address:  token,
		Name:     rec.Name,
		Symbol:   rec.Symbol,
		Decimals: rec.Decimals,
		Minter:   crypto.NewAddress(crypto.AddressPrefix(rec.MinterPrefix), rec.Minter),
	}, nil
}

// Tokens lists the registered token addresses in registration order.
func (l *Ledger) Tokens() ([]crypto.Address, error) {
	var index tokenIndex
	if _, err := l.store.KVGet(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(index.Tokens))
	for _, raw := range index.Tokens {
		out = append(out, crypto.NewAddress(crypto.ContractPrefix, raw))
	}
	return out, nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	var stored big.Int
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig(&stored)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return v, nil
}

func (l *Ledger) store256(key []byte, v *uint256.Int) error {
	if v.IsZero() {
		return l.store.KVDelete(key)
	}
	return l.store.KVPut(key, v.ToBig())
}

// Balance returns the balance of holder.
func (l *Ledger) Balance(_ context.Context, token, holder crypto.Address) (*big.Int, error) {
	if _, err := l.Metadata(token); err != nil {
		return nil, err
	}
	bal, err := l.load(balanceKey(token, holder))
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token crypto.Address) (*big.Int, error) {
	if _, err := l.Metadata(token); err != nil {
		return nil, err
	}
	supply, err := l.load(supplyKey(token))
	if err != nil {
		return nil, err
	}
	return supply.ToBig(), nil
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender crypto.Address) (*big.Int, error) {
	if _, err := l.Metadata(token); err != nil {
		return nil, err
	}
	v, err := l.load(allowanceKey(token, owner, spender))
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// Mint credits amount of new supply to to. Only the registered minter may
// mint.
func (l *Ledger) Mint(caller, token, to crypto.Address, amount *big.Int) error {
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	if !caller.Equal(meta.Minter) {
		return ErrNotMinter
	}
	amt, err := toUint256(amount)
	if err != nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	supply, err := l.load(supplyKey(token))
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	bal, err := l.load(balanceKey(token, to))
	if err != nil {
		return err
	}
	newBal, overflow := new(uint256.Int).AddOverflow(bal, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.store256(supplyKey(token), newSupply); err != nil {
		return err
	}
	if err := l.store256(balanceKey(token, to), newBal); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenMint{Token: token, Symbol: meta.Symbol, To: to, Amount: amt.ToBig(), Supply: newSupply.ToBig()})
	return nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(owner, token, spender crypto.Address, amount *big.Int) error {
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if err := l.store256(allowanceKey(token, owner, spender), amt); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenApproval{Token: token, Symbol: meta.Symbol, Owner: owner, Spender: spender, Amount: amt.ToBig()})
	return nil
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(_ context.Context, token, from, to crypto.Address, amount *big.Int) error {
	return l.move(token, crypto.Address{}, from, to, amount)
}

// TransferFrom moves amount from from to to, consuming spender's allowance.
func (l *Ledger) TransferFrom(_ context.Context, token, spender, from, to crypto.Address, amount *big.Int) error {
	if _, err := l.Metadata(token); err != nil {
		return err
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	key := allowanceKey(token, from, spender)
	allowance, err := l.load(key)
	if err != nil {
		return err
	}
	if allowance.Lt(amt) {
		return ErrInsufficientAllowance
	}
	if err := l.move(token, spender, from, to, amount); err != nil {
		return err
	}
	return l.store256(key, new(uint256.Int).Sub(allowance, amt))
}

func (l *Ledger) move(token, spender, from, to crypto.Address, amount *big.Int) error {
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	fromKey := balanceKey(token, from)
	fromBal, err := l.load(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return ErrInsufficientBalance
	}
	if !from.Equal(to) {
		toKey := balanceKey(token, to)
		toBal, err := l.load(toKey)
		if err != nil {
			return err
		}
		newTo, overflow := new(uint256.Int).AddOverflow(toBal, amt)
		if overflow {
			return ErrBalanceOverflow
		}
		if err := l.store256(fromKey, new(uint256.Int).Sub(fromBal, amt)); err != nil {
			return err
		}
		if err := l.store256(toKey, newTo); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.TokenTransfer{Token: token, Symbol: meta.Symbol, From: from, To: to, Spender: spender, Amount: amt.ToBig()})
	return nil
}
