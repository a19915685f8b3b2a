// Package core hosts the lending engine: it owns the database, serializes
// mutating calls, runs each call inside a state overlay that commits or
// discards as a unit and publishes events once they are durable.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"p2plend/core/events"
	"p2plend/core/state"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/native/oracle"
	"p2plend/native/token"
	"p2plend/observability"
	telemetry "p2plend/observability/otel"
	"p2plend/storage"
)

// ErrQuotaExceeded wraps per-caller throttling failures.
var ErrQuotaExceeded = errors.New("node: caller quota exceeded")

// LedgerWrapper decorates the token ledger handed to the engine. Tests use it
// to inject hooks into fund movements.
type LedgerWrapper func(lending.TokenLedger) lending.TokenLedger

// Options configure a Node.
type Options struct {
	Params   lending.Params
	Contract crypto.Address
	Pauses   *nativecommon.PauseSet
	Quota    nativecommon.Quota
	Bus      *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time
	// OracleRetention bounds the stored price history per asset.
	OracleRetention int
	WrapLedger      LedgerWrapper
}

// Node is the single-writer host of the lending engine.
type Node struct {
	db       storage.Database
	mu       sync.RWMutex
	params   lending.Params
	contract crypto.Address
	pauses   *nativecommon.PauseSet
	bus      *events.Bus
	logger   *slog.Logger
	nowFn    func() time.Time
	wrap     LedgerWrapper
	tracer   trace.Tracer
	metrics  *observability.LendingMetrics

	retention int

	quotas *nativecommon.QuotaTracker
	// operator is recorded by Bootstrap and skips caller quotas.
	operator crypto.Address
}

// NewNode builds a node over db. Zero options fall back to defaults.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if opts.Params == (lending.Params{}) {
		opts.Params = lending.DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Contract.IsZero() {
		opts.Contract = crypto.ModuleAddress(lending.ModuleName)
	}
	if opts.Pauses == nil {
		opts.Pauses = nativecommon.NewPauseSet()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Node{
		db:        db,
		params:    opts.Params,
		contract:  opts.Contract,
		pauses:    opts.Pauses,
		bus:       opts.Bus,
		logger:    opts.Logger.With(slog.String("component", "node")),
		nowFn:     opts.Now,
		wrap:      opts.WrapLedger,
		tracer:    telemetry.Tracer(),
		metrics:   observability.Lending(),
		retention: opts.OracleRetention,
		quotas:    nativecommon.NewQuotaTracker(opts.Quota),
	}, nil
}

// Contract returns the account holding offer funds and collateral.
func (n *Node) Contract() crypto.Address { return n.contract }

// Params returns the static engine limits.
func (n *Node) Params() lending.Params { return n.params }

// Bus exposes the committed-event stream.
func (n *Node) Bus() *events.Bus { return n.bus }

// Pauses exposes the operator module switches.
func (n *Node) Pauses() *nativecommon.PauseSet { return n.pauses }

// Now returns the node clock.
func (n *Node) Now() time.Time { return n.nowFn() }

// Close detaches event subscribers. The database is owned by the caller.
func (n *Node) Close() { n.bus.Close() }

// callEnv is the per-call wiring of every module over one overlay.
type callEnv struct {
	tx     *state.Tx
	mgr    *state.Manager
	buf    *events.Buffer
	ledger *token.Ledger
	engine *lending.Engine
}

type envKey struct{}

func envFrom(ctx context.Context) (*callEnv, bool) {
	env, ok := ctx.Value(envKey{}).(*callEnv)
	return env, ok && env != nil
}

// feedResolver resolves oracle addresses onto feeds stored in the same
// overlay as the call.
type feedResolver struct {
	mgr       *state.Manager
	buf       *events.Buffer
	retention int
}

func (r feedResolver) ResolveOracle(addr crypto.Address) (lending.PriceFeed, bool) {
	if addr.IsZero() {
		return nil, false
	}
	feed := r.feed(addr)
	if _, err := feed.Admin(); err != nil {
		return nil, false
	}
	return feed, true
}

func (r feedResolver) feed(addr crypto.Address) *oracle.Feed {
	feed := oracle.NewFeed(r.mgr, addr)
	feed.SetEmitter(r.buf)
	feed.SetRetention(r.retention)
	return feed
}

func (n *Node) newEnv(tx *state.Tx) *callEnv {
	mgr := state.NewManager(tx)
	buf := &events.Buffer{}
	ledger := token.NewLedger(mgr)
	ledger.SetEmitter(buf)
	var tl lending.TokenLedger = ledger
	if n.wrap != nil {
		tl = n.wrap(tl)
	}
	engine := lending.NewEngine(n.contract, n.params)
	engine.SetState(mgr)
	engine.SetLedger(tl)
	engine.SetOracles(feedResolver{mgr: mgr, buf: buf, retention: n.retention})
	engine.SetPauses(n.pauses)
	engine.SetEmitter(buf)
	engine.SetNowFunc(n.nowFn)
	return &callEnv{tx: tx, mgr: mgr, buf: buf, ledger: ledger, engine: engine}
}

func (env *callEnv) feed(addr crypto.Address, retention int) *oracle.Feed {
	return feedResolver{mgr: env.mgr, buf: env.buf, retention: retention}.feed(addr)
}

// errorCode classifies err for metrics: 0 success, the lending code, or -1.
func errorCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := lending.CodeOf(err); ok {
		return int(code)
	}
	return -1
}

func (n *Node) checkQuota(caller crypto.Address, volume *big.Int) error {
	if !n.quotas.Enabled() || caller.IsZero() {
		return nil
	}
	n.mu.RLock()
	operator := n.operator
	n.mu.RUnlock()
	if !operator.IsZero() && caller.Equal(operator) {
		return nil
	}
	var whole *big.Int
	if volume != nil {
		whole = new(big.Int).Quo(volume, big.NewInt(10_000_000))
	}
	if err := n.quotas.Charge(caller.String(), uint64(n.nowFn().Unix()), whole); err != nil {
		observability.ModuleMetrics().RecordThrottle(lending.ModuleName, "quota_exceeded")
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return nil
}

// mutate runs fn inside a fresh overlay and commits it when fn succeeds. A
// context already carrying a call reuses that call's overlay so nested calls
// observe the in-flight state, including the engine's reentrancy lock.
func (n *Node) mutate(ctx context.Context, method string, caller crypto.Address, volume *big.Int, fn func(context.Context, *callEnv) error) (err error) {
	if env, ok := envFrom(ctx); ok {
		return fn(ctx, env)
	}
	if err := n.checkQuota(caller, volume); err != nil {
		return err
	}

	ctx, span := n.tracer.Start(ctx, "lending."+method, trace.WithAttributes(
		attribute.String("lending.method", method),
		attribute.String("lending.caller", caller.String()),
	))
	defer span.End()
	start := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()

	env := n.newEnv(state.NewTx(n.db))
	defer func() {
		code := errorCode(err)
		n.metrics.ObserveCall(method, code, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			n.logger.Debug("lending call rejected",
				slog.String("method", method),
				slog.String("caller", caller.String()),
				slog.Int("code", code),
				slog.String("error", err.Error()))
		}
	}()

	if err = fn(context.WithValue(ctx, envKey{}, env), env); err != nil {
		env.tx.Discard()
		n.metrics.RecordRollback()
		return err
	}
	offers, loans := n.activeCounts(ctx, env)
	if err = env.tx.Commit(); err != nil {
		n.metrics.RecordRollback()
		return err
	}
	n.metrics.SetActive(offers, loans)
	n.publish(env.buf.Drain())
	n.logger.Info("lending call committed",
		slog.String("method", method),
		slog.String("caller", caller.String()))
	return nil
}

// view runs fn against a fresh overlay that is always discarded.
func (n *Node) view(ctx context.Context, method string, fn func(context.Context, *callEnv) error) error {
	if env, ok := envFrom(ctx); ok {
		return fn(ctx, env)
	}
	ctx, span := n.tracer.Start(ctx, "lending."+method, trace.WithAttributes(attribute.String("lending.method", method)))
	defer span.End()

	n.mu.RLock()
	defer n.mu.RUnlock()
	env := n.newEnv(state.NewTx(n.db))
	defer env.tx.Discard()
	err := fn(context.WithValue(ctx, envKey{}, env), env)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (n *Node) activeCounts(ctx context.Context, env *callEnv) (int, int) {
	offers, err := env.engine.GetActiveOffers(ctx)
	if err != nil {
		return 0, 0
	}
	loans, err := env.engine.GetActiveLoans(ctx)
	if err != nil {
		return len(offers), 0
	}
	return len(offers), len(loans)
}

func (n *Node) publish(evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	for _, rec := range n.bus.Publish(evts...) {
		observability.Events().RecordPublished(rec.Event.Type)
	}
}

// SetModulePaused toggles an operator pause switch. The lending module
// switch blocks every mutating engine call independently of the admin pause.
func (n *Node) SetModulePaused(module string, paused bool) {
	n.pauses.Set(module, paused)
	n.logger.Info("module pause updated", slog.String("module", module), slog.Bool("paused", paused))
}
