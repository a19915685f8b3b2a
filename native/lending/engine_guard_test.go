package lending

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"p2plend/crypto"
	nativecommon "p2plend/native/common"
)

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func TestConstructorRunsOnce(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Initialize(h.ctx, InitParams{Admin: h.lender, USDCToken: h.usdc, XLMToken: h.xlm})
	expectCode(t, err, ErrAlreadyInitialized)

	admin, err := h.engine.Admin(h.ctx)
	if err != nil || !admin.Equal(h.admin) {
		t.Fatalf("admin changed: %s (%v)", admin, err)
	}
	cfg, err := h.engine.Config(h.ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MaxInterestRate != 3_000 || cfg.Paused || cfg.NextOfferID != 1 || !cfg.Oracle.Equal(h.oracle) {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestCallsBeforeConstructorFail(t *testing.T) {
	engine := NewEngine(makeAddress(crypto.ContractPrefix, 1), DefaultParams())
	engine.SetState(newMockEngineState())
	lender := makeAddress(crypto.LendPrefix, 2)

	_, err := engine.CreateOffer(context.Background(), lender, CreateOfferParams{USDCAmount: big.NewInt(1)})
	expectCode(t, err, ErrNotInitialized)
	_, err = engine.GetActiveOffers(context.Background())
	expectCode(t, err, ErrNotInitialized)
	expectCode(t, engine.Pause(context.Background(), lender), ErrNotInitialized)
}

func TestAdminOnlyOperations(t *testing.T) {
	h := newHarness(t)

	expectCode(t, h.engine.SetMaxInterestRate(h.ctx, h.lender, 100), ErrOnlyAdmin)
	expectCode(t, h.engine.SetOracleAddress(h.ctx, h.lender, h.oracle), ErrOnlyAdmin)
	expectCode(t, h.engine.Pause(h.ctx, h.lender), ErrOnlyAdmin)
	expectCode(t, h.engine.Unpause(h.ctx, h.lender), ErrOnlyAdmin)
	expectCode(t, h.engine.SetMaxInterestRate(h.ctx, h.admin, 0), ErrInvalidInterestRate)
	expectCode(t, h.engine.SetMaxInterestRate(h.ctx, h.admin, 10_001), ErrInvalidInterestRate)

	if err := h.engine.SetMaxInterestRate(h.ctx, h.admin, 400); err != nil {
		t.Fatalf("set max rate: %v", err)
	}
	_, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
		USDCAmount: amount(10), WeeklyInterestRate: 500, MinCollateralRatio: 20_000,
		LiquidationThreshold: 12_500, MaxDurationWeeks: 4,
	})
	expectCode(t, err, ErrInvalidInterestRate)
}

func TestSetOracleAddressRoutesValuation(t *testing.T) {
	h := newHarness(t)
	_, loanID := h.defaultLoan()

	replacement := makeAddress(crypto.ContractPrefix, 0x13)
	if err := h.engine.SetOracleAddress(h.ctx, h.admin, replacement); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	_, err := h.engine.GetLoanHealth(h.ctx, loanID)
	expectCode(t, err, ErrOracleNotSet)

	h.engine.SetOracles(StaticOracles{
		h.oracle.String():    h.feed,
		replacement.String(): &mockFeed{decimals: 14, data: &PriceData{Price: price(120), Timestamp: uint64(h.now.Unix())}},
	})
	health, err := h.engine.GetLoanHealth(h.ctx, loanID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.HealthFactor != 9_600 {
		t.Fatalf("expected valuation from the new feed, got health %d", health.HealthFactor)
	}
}

func TestPauseBlocksMutationsButNotReads(t *testing.T) {
	h := newHarness(t)
	_, loanID := h.defaultLoan()

	if err := h.engine.Pause(h.ctx, h.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{USDCAmount: amount(1)})
	expectCode(t, err, ErrContractPaused)
	expectCode(t, h.engine.Repay(h.ctx, h.borrower, loanID, amount(1)), ErrContractPaused)
	_, err = h.engine.Liquidate(h.ctx, h.liquidator, loanID)
	expectCode(t, err, ErrContractPaused)

	if _, err := h.engine.GetLoanHealth(h.ctx, loanID); err != nil {
		t.Fatalf("reads must stay available while paused: %v", err)
	}
	if paused, _ := h.engine.IsPaused(h.ctx); !paused {
		t.Fatalf("expected paused")
	}
	if err := h.engine.Unpause(h.ctx, h.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := h.engine.Repay(h.ctx, h.borrower, loanID, amount(1)); err != nil {
		t.Fatalf("repay after unpause: %v", err)
	}
}

func TestModuleGuardBlocksMutation(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPauses(stubPauseView{modules: map[string]bool{ModuleName: true}})

	_, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{USDCAmount: amount(1)})
	expectCode(t, err, ErrContractPaused)
	if !strings.Contains(err.Error(), nativecommon.ErrModulePaused.Error()) {
		t.Fatalf("expected module pause detail, got %v", err)
	}
	if got := h.ledger.balance(h.usdc, h.lender); got.Cmp(amount(100_000)) != 0 {
		t.Fatalf("expected lender balance untouched, got %s", got)
	}
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	var nested error
	h.ledger.hook = func() {
		_, nested = h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
			USDCAmount: amount(1), WeeklyInterestRate: 100, MinCollateralRatio: 15_000,
			LiquidationThreshold: 11_000, MaxDurationWeeks: 1,
		})
	}
	h.defaultOffer()
	expectCode(t, nested, ErrReentrant)

	// The outer call released the guard on its way out.
	if _, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
		USDCAmount: amount(1), WeeklyInterestRate: 100, MinCollateralRatio: 15_000,
		LiquidationThreshold: 11_000, MaxDurationWeeks: 1,
	}); err != nil {
		t.Fatalf("create after reentrancy attempt: %v", err)
	}
	ids, _ := h.engine.GetUserOffers(h.ctx, h.lender)
	if len(ids) != 2 {
		t.Fatalf("expected two offers, got %v", ids)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	seen := make(map[uint32]string)
	for _, e := range Errors() {
		if prev, ok := seen[e.Code]; ok {
			t.Fatalf("code %d shared by %s and %s", e.Code, prev, e.Name)
		}
		seen[e.Code] = e.Name
		if got, ok := ErrorByCode(e.Code); !ok || got != e {
			t.Fatalf("lookup of %d failed", e.Code)
		}
	}
	wrapped := errors.Join(errors.New("context"), ErrStalePriceData)
	if code, ok := CodeOf(wrapped); !ok || code != 82 {
		t.Fatalf("expected code 82 through wrapping, got %d", code)
	}
	if _, ok := CodeOf(errors.New("disk full")); ok {
		t.Fatalf("infrastructure errors carry no code")
	}
}
