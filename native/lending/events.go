package lending

import (
	"math/big"
	"strconv"

	"p2plend/core/types"
	"p2plend/crypto"
)

const (
	EventTypeInitialized         = "lending.initialized"
	EventTypeOfferCreated        = "lending.offer.created"
	EventTypeOfferCancelled      = "lending.offer.cancelled"
	EventTypeOfferWithdrawn      = "lending.offer.withdrawn"
	EventTypeLoanOriginated      = "lending.loan.originated"
	EventTypeLoanRepaid          = "lending.loan.repaid"
	EventTypeLoanClosed          = "lending.loan.closed"
	EventTypeCollateralAdded     = "lending.loan.collateral_added"
	EventTypeCollateralWithdrawn = "lending.loan.collateral_withdrawn"
	EventTypeLoanLiquidated      = "lending.loan.liquidated"
	EventTypeMaxRateUpdated      = "lending.admin.max_rate_updated"
	EventTypeOracleUpdated       = "lending.admin.oracle_updated"
	EventTypePaused              = "lending.admin.paused"
	EventTypeUnpaused            = "lending.admin.unpaused"
)

// lendingEvent adapts a payload to the events.Event interface.
type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func idString(id uint64) string { return strconv.FormatUint(id, 10) }

func bpsString(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func newOfferEvent(eventType string, o *Offer) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"offerId":              idString(o.OfferID),
			"lender":               o.Lender.String(),
			"usdcAmount":           amountString(o.USDCAmount),
			"remainingAmount":      amountString(o.RemainingAmount),
			"weeklyInterestRate":   bpsString(o.WeeklyInterestRate),
			"minCollateralRatio":   bpsString(o.MinCollateralRatio),
			"liquidationThreshold": bpsString(o.LiquidationThreshold),
			"maxDurationWeeks":     bpsString(o.MaxDurationWeeks),
		},
	}
}

// NewOfferCreatedEvent describes a newly funded offer.
func NewOfferCreatedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferCreated, o) }

// NewOfferCancelledEvent records a cancellation and the refunded balance.
func NewOfferCancelledEvent(o *Offer, refunded *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferCancelled, o)
	evt.Attributes["refunded"] = amountString(refunded)
	return evt
}

// NewOfferWithdrawnEvent records a partial withdrawal of idle offer funds.
func NewOfferWithdrawnEvent(o *Offer, amount *big.Int) *types.Event {
	evt := newOfferEvent(EventTypeOfferWithdrawn, o)
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

func newLoanEvent(eventType string, l *Loan) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"loanId":              idString(l.LoanID),
			"offerId":             idString(l.OfferID),
			"borrower":            l.Borrower.String(),
			"lender":              l.Lender.String(),
			"collateral":          amountString(l.Collateral),
			"borrowedAmount":      amountString(l.BorrowedAmount),
			"principalRepaid":     amountString(l.PrincipalRepaid),
			"accumulatedInterest": amountString(l.AccumulatedInterest),
		},
	}
}

// NewLoanOriginatedEvent describes a freshly originated loan.
func NewLoanOriginatedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanOriginated, l) }

// NewLoanRepaidEvent records a repayment split into interest and principal.
func NewLoanRepaidEvent(l *Loan, interestPaid, principalPaid *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanRepaid, l)
	evt.Attributes["interestPaid"] = amountString(interestPaid)
	evt.Attributes["principalPaid"] = amountString(principalPaid)
	return evt
}

// NewLoanClosedEvent records a full payoff and the collateral released.
func NewLoanClosedEvent(l *Loan, released *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanClosed, l)
	evt.Attributes["collateralReleased"] = amountString(released)
	return evt
}

// NewCollateralAddedEvent records a collateral top-up.
func NewCollateralAddedEvent(l *Loan, amount *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeCollateralAdded, l)
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

// NewCollateralWithdrawnEvent records a collateral withdrawal.
func NewCollateralWithdrawnEvent(l *Loan, amount *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeCollateralWithdrawn, l)
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

// NewLoanLiquidatedEvent records the settlement of a liquidation.
func NewLoanLiquidatedEvent(l *Loan, liquidator crypto.Address, res *LiquidationResult) *types.Event {
	evt := newLoanEvent(EventTypeLoanLiquidated, l)
	evt.Attributes["liquidator"] = liquidator.String()
	evt.Attributes["debtRepaid"] = amountString(res.DebtRepaid)
	evt.Attributes["collateralSeized"] = amountString(res.CollateralSeized)
	evt.Attributes["collateralReturned"] = amountString(res.CollateralReturned)
	return evt
}

func newAdminEvent(eventType string, admin crypto.Address, attrs map[string]string) *types.Event {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs["admin"] = admin.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
