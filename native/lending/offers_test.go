package lending

import (
	"math/big"
	"testing"
	"time"
)

func TestCreateOfferRoundTrip(t *testing.T) {
	h := newHarness(t)
	id := h.defaultOffer()
	if id != 1 {
		t.Fatalf("expected first offer id 1, got %d", id)
	}

	offer, err := h.engine.GetOffer(h.ctx, id)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if !offer.Lender.Equal(h.lender) || offer.USDCAmount.Cmp(amount(10_000)) != 0 ||
		offer.RemainingAmount.Cmp(amount(10_000)) != 0 || offer.WeeklyInterestRate != 500 ||
		offer.MinCollateralRatio != 20_000 || offer.LiquidationThreshold != 12_500 ||
		offer.MaxDurationWeeks != 52 || !offer.IsActive || offer.CreatedAt != uint64(h.now.Unix()) {
		t.Fatalf("offer does not match inputs: %+v", offer)
	}
	if got := h.ledger.balance(h.usdc, h.contract); got.Cmp(amount(10_000)) != 0 {
		t.Fatalf("expected pool to hold 10000 USDC, got %s", got)
	}
	ids, _ := h.engine.GetUserOffers(h.ctx, h.lender)
	active, _ := h.engine.GetActiveOffers(h.ctx)
	if len(ids) != 1 || ids[0] != id || len(active) != 1 || active[0] != id {
		t.Fatalf("offer not indexed: user=%v active=%v", ids, active)
	}
	if len(h.emitter.types) == 0 || h.emitter.types[len(h.emitter.types)-1] != EventTypeOfferCreated {
		t.Fatalf("expected offer created event, got %v", h.emitter.types)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	h := newHarness(t)
	valid := CreateOfferParams{
		USDCAmount:           amount(100),
		WeeklyInterestRate:   500,
		MinCollateralRatio:   20_000,
		LiquidationThreshold: 12_500,
		MaxDurationWeeks:     52,
	}
	cases := []struct {
		name   string
		mutate func(*CreateOfferParams)
		want   *Error
	}{
		{"zero amount", func(p *CreateOfferParams) { p.USDCAmount = big.NewInt(0) }, ErrInvalidOfferAmount},
		{"negative amount", func(p *CreateOfferParams) { p.USDCAmount = big.NewInt(-5) }, ErrInvalidOfferAmount},
		{"zero rate", func(p *CreateOfferParams) { p.WeeklyInterestRate = 0 }, ErrInvalidInterestRate},
		{"rate above max", func(p *CreateOfferParams) { p.WeeklyInterestRate = 3_001 }, ErrInvalidInterestRate},
		{"ratio below 150%", func(p *CreateOfferParams) { p.MinCollateralRatio = 14_999 }, ErrInvalidCollateralRatio},
		{"ratio above 500%", func(p *CreateOfferParams) { p.MinCollateralRatio = 50_001 }, ErrInvalidCollateralRatio},
		{"threshold below band", func(p *CreateOfferParams) { p.LiquidationThreshold = 10_999 }, ErrInvalidLiquidationThreshold},
		{"threshold above band", func(p *CreateOfferParams) { p.LiquidationThreshold = 15_001 }, ErrInvalidLiquidationThreshold},
		{"threshold not below ratio", func(p *CreateOfferParams) {
			p.MinCollateralRatio = 15_000
			p.LiquidationThreshold = 15_000
		}, ErrInvalidLiquidationThreshold},
		{"zero duration", func(p *CreateOfferParams) { p.MaxDurationWeeks = 0 }, ErrInvalidInput},
		{"duration too long", func(p *CreateOfferParams) { p.MaxDurationWeeks = 521 }, ErrLoanDurationExceeded},
	}
	for _, tc := range cases {
		params := valid
		tc.mutate(&params)
		_, err := h.engine.CreateOffer(h.ctx, h.lender, params)
		if err == nil {
			t.Fatalf("%s: expected %v", tc.name, tc.want)
		}
		expectCode(t, err, tc.want)
	}
	if got := h.ledger.balance(h.usdc, h.lender); got.Cmp(amount(100_000)) != 0 {
		t.Fatalf("rejected offers moved funds: %s", got)
	}
	if locked, _ := (store{state: h.state}).boolValue(lockedKey()); locked {
		t.Fatalf("lock must be released after a rejected call")
	}
}

func TestCreateOfferCapCountsActiveOffers(t *testing.T) {
	h := newHarness(t)
	var first uint64
	for i := 0; i < h.engine.Params().MaxOffersPerUser; i++ {
		id := h.defaultOffer()
		if i == 0 {
			first = id
		}
	}
	_, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
		USDCAmount: amount(1), WeeklyInterestRate: 100, MinCollateralRatio: 15_000,
		LiquidationThreshold: 11_000, MaxDurationWeeks: 1,
	})
	expectCode(t, err, ErrTooManyOffers)

	if _, err := h.engine.CancelOffer(h.ctx, h.lender, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
		USDCAmount: amount(1), WeeklyInterestRate: 100, MinCollateralRatio: 15_000,
		LiquidationThreshold: 11_000, MaxDurationWeeks: 1,
	}); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestWithdrawFromOffer(t *testing.T) {
	h := newHarness(t)
	id := h.defaultOffer()

	expectCode(t, h.engine.WithdrawFromOffer(h.ctx, h.borrower, id, amount(1)), ErrOnlyLender)
	expectCode(t, h.engine.WithdrawFromOffer(h.ctx, h.lender, id, big.NewInt(0)), ErrInvalidInput)
	expectCode(t, h.engine.WithdrawFromOffer(h.ctx, h.lender, id, amount(10_001)), ErrInsufficientOfferFunds)
	expectCode(t, h.engine.WithdrawFromOffer(h.ctx, h.lender, 99, amount(1)), ErrOfferNotFound)

	if err := h.engine.WithdrawFromOffer(h.ctx, h.lender, id, amount(4_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	offer, _ := h.engine.GetOffer(h.ctx, id)
	if !offer.IsActive || offer.RemainingAmount.Cmp(amount(6_000)) != 0 || offer.USDCAmount.Cmp(amount(10_000)) != 0 {
		t.Fatalf("unexpected offer after withdrawal: %+v", offer)
	}
	if got := h.ledger.balance(h.usdc, h.lender); got.Cmp(amount(94_000)) != 0 {
		t.Fatalf("lender balance %s", got)
	}
}

func TestCancelOfferBlockedByActiveLoan(t *testing.T) {
	h := newHarness(t)
	offerID, loanID := h.defaultLoan()

	_, err := h.engine.CancelOffer(h.ctx, h.lender, offerID)
	expectCode(t, err, ErrOfferHasActiveLoans)
	_, err = h.engine.CancelOffer(h.ctx, h.borrower, offerID)
	expectCode(t, err, ErrOnlyLender)

	h.advance(SecondsPerWeek * time.Second)
	debt := amount(105)
	if err := h.engine.Repay(h.ctx, h.borrower, loanID, debt); err != nil {
		t.Fatalf("repay: %v", err)
	}
	refund, err := h.engine.CancelOffer(h.ctx, h.lender, offerID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Cmp(amount(9_900)) != 0 {
		t.Fatalf("expected refund of 9900, got %s", refund)
	}
	offer, _ := h.engine.GetOffer(h.ctx, offerID)
	if offer.IsActive || offer.RemainingAmount.Sign() != 0 {
		t.Fatalf("offer should be inactive and empty: %+v", offer)
	}
	active, _ := h.engine.GetActiveOffers(h.ctx)
	if len(active) != 0 {
		t.Fatalf("offer still listed as active: %v", active)
	}
	if got := h.ledger.balance(h.usdc, h.lender); got.Cmp(amount(100_000+5)) != 0 {
		t.Fatalf("lender should end with principal plus interest, got %s", got)
	}
	_, err = h.engine.CancelOffer(h.ctx, h.lender, offerID)
	expectCode(t, err, ErrOfferNotActive)
}

func TestListOffersSortingAndPagination(t *testing.T) {
	h := newHarness(t)
	terms := []struct {
		amount int64
		rate   uint32
	}{{500, 300}, {2_000, 100}, {1_000, 200}}
	for i, term := range terms {
		h.advance(time.Minute)
		if _, err := h.engine.CreateOffer(h.ctx, h.lender, CreateOfferParams{
			USDCAmount: amount(term.amount), WeeklyInterestRate: term.rate,
			MinCollateralRatio: 15_000, LiquidationThreshold: 11_000, MaxDurationWeeks: uint32(i + 1),
		}); err != nil {
			t.Fatalf("create offer: %v", err)
		}
	}

	ids := func(offers []*Offer) []uint64 {
		out := make([]uint64, len(offers))
		for i, o := range offers {
			out[i] = o.OfferID
		}
		return out
	}
	checks := []struct {
		order SortOption
		want  []uint64
	}{
		{SortBestRate, []uint64{2, 3, 1}},
		{SortHighestAmount, []uint64{2, 3, 1}},
		{SortNewest, []uint64{3, 2, 1}},
	}
	for _, c := range checks {
		got, err := h.engine.ListOffers(h.ctx, c.order, 0, 10)
		if err != nil {
			t.Fatalf("%s: %v", c.order, err)
		}
		if g := ids(got); len(g) != len(c.want) || g[0] != c.want[0] || g[1] != c.want[1] || g[2] != c.want[2] {
			t.Fatalf("%s: expected %v, got %v", c.order, c.want, g)
		}
	}
	page, err := h.engine.ListOffers(h.ctx, SortBestRate, 1, 1)
	if err != nil || len(page) != 1 || page[0].OfferID != 3 {
		t.Fatalf("unexpected page %v (%v)", ids(page), err)
	}
	empty, err := h.engine.ListOffers(h.ctx, SortBestRate, 5, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page past the end, got %d (%v)", len(empty), err)
	}

	_, err = h.engine.ListOffers(h.ctx, SortOption("cheapest"), 0, 10)
	expectCode(t, err, ErrInvalidSortOption)
	_, err = h.engine.ListOffers(h.ctx, SortBestRate, 0, 0)
	expectCode(t, err, ErrInvalidPagination)
	_, err = h.engine.ListOffers(h.ctx, SortBestRate, 0, 101)
	expectCode(t, err, ErrInvalidPagination)

	fresh := newHarness(t)
	_, err = fresh.engine.ListOffers(fresh.ctx, SortNewest, 0, 10)
	expectCode(t, err, ErrNoOffersAvailable)
}

func TestParseSortOption(t *testing.T) {
	for raw, want := range map[string]SortOption{
		"":               SortBestRate,
		"BestRate":       SortBestRate,
		"highest_amount": SortHighestAmount,
		"newest":         SortNewest,
	} {
		got, err := ParseSortOption(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q (%v)", raw, got, err)
		}
	}
	if _, err := ParseSortOption("oldest"); err == nil {
		t.Fatalf("expected error for unknown sort option")
	}
}
