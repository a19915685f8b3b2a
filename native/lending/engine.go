package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
)

var errNilState = errors.New("lending engine: state not configured")

const moduleName = "lending"

// ModuleName is the identifier used for host-level pause switches.
const ModuleName = moduleName

// TokenLedger is the fungible-asset ledger holding both the borrowed asset and
// the collateral asset. Pulls are allowance gated: the engine's own address is
// the spender.
type TokenLedger interface {
	Transfer(ctx context.Context, token, from, to crypto.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to crypto.Address, amount *big.Int) error
	Balance(ctx context.Context, token, holder crypto.Address) (*big.Int, error)
}

// Engine is the lending contract state machine. It is not safe for concurrent
// use; the host serializes calls and supplies an atomically committed state
// view per call.
type Engine struct {
	state   engineState
	ledger  TokenLedger
	oracles OracleResolver
	emitter events.Emitter
	pauses  nativecommon.PauseView
	params  Params
	address crypto.Address
	nowFn   func() time.Time
}

// NewEngine constructs an engine acting as the contract account addr.
func NewEngine(addr crypto.Address, params Params) *Engine {
	return &Engine{
		address: addr,
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger used for every fund movement.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetOracles configures how oracle addresses resolve to price feeds.
func (e *Engine) SetOracles(resolver OracleResolver) { e.oracles = resolver }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the emitter used for contract events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for accrual and price freshness.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// Address returns the contract account holding pooled funds and collateral.
func (e *Engine) Address() crypto.Address { return e.address }

// Params returns the static protocol limits.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

// reader returns the typed store for read-only calls.
func (e *Engine) reader() (store, error) {
	if e == nil || e.state == nil {
		return store{}, errNilState
	}
	s := store{state: e.state}
	if _, ok, err := s.address(adminKey()); err != nil {
		return store{}, err
	} else if !ok {
		return store{}, ErrNotInitialized
	}
	return s, nil
}

// enter performs the entry checks of every mutating call and acquires the
// reentrancy lock. The returned release must be deferred; it clears the lock
// on every exit path and reports an unlock failure through errp when the call
// itself succeeded.
func (e *Engine) enter() (store, func(errp *error), error) {
	s, err := e.reader()
	if err != nil {
		return store{}, nil, err
	}
	locked, err := s.boolValue(lockedKey())
	if err != nil {
		return store{}, nil, err
	}
	if locked {
		return store{}, nil, ErrReentrant
	}
	if err := e.checkNotPaused(s); err != nil {
		return store{}, nil, err
	}
	if err := s.setFlag(lockedKey(), true); err != nil {
		return store{}, nil, err
	}
	release := func(errp *error) {
		if unlockErr := s.setFlag(lockedKey(), false); unlockErr != nil && errp != nil && *errp == nil {
			*errp = unlockErr
		}
	}
	return s, release, nil
}

func (e *Engine) checkNotPaused(s store) error {
	paused, err := s.boolValue(isPausedKey())
	if err != nil {
		return err
	}
	if paused {
		return ErrContractPaused
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %v", ErrContractPaused, err)
	}
	return nil
}

func (e *Engine) usdcToken(s store) (crypto.Address, error) {
	addr, ok, err := s.address(usdcTokenKey())
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, ErrUsdcTokenNotSet
	}
	return addr, nil
}

func (e *Engine) xlmToken(s store) (crypto.Address, error) {
	addr, ok, err := s.address(xlmTokenKey())
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, ErrXlmTokenNotSet
	}
	return addr, nil
}

// quote fetches and validates the current collateral price.
func (e *Engine) quote(ctx context.Context, s store) (*Quote, error) {
	addr, ok, err := s.address(oracleAddressKey())
	if err != nil {
		return nil, err
	}
	if !ok || e.oracles == nil {
		return nil, ErrOracleNotSet
	}
	feed, ok := e.oracles.ResolveOracle(addr)
	if !ok {
		return nil, ErrOracleNotSet
	}
	adapter := oracleAdapter{feed: feed, asset: e.params.XLMAsset, staleness: e.params.PriceStalenessSeconds}
	return adapter.quote(ctx, e.now())
}

func ledgerError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
}

// pull moves amount of token from holder into the contract using the
// contract's allowance.
func (e *Engine) pull(ctx context.Context, token, holder crypto.Address, amount *big.Int) error {
	if e.ledger == nil {
		return ErrTokenTransferFailed
	}
	return ledgerError(e.ledger.TransferFrom(ctx, token, e.address, holder, e.address, amount))
}

// pay moves amount of token out of the contract.
func (e *Engine) pay(ctx context.Context, token, to crypto.Address, amount *big.Int) error {
	if e.ledger == nil {
		return ErrTokenTransferFailed
	}
	return ledgerError(e.ledger.Transfer(ctx, token, e.address, to, amount))
}

// route moves amount of token between two third parties using the
// contract's allowance on from.
func (e *Engine) route(ctx context.Context, token, from, to crypto.Address, amount *big.Int) error {
	if e.ledger == nil {
		return ErrTokenTransferFailed
	}
	return ledgerError(e.ledger.TransferFrom(ctx, token, e.address, from, to, amount))
}
