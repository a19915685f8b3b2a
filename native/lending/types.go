package lending

import (
	"math/big"
	"strings"

	"p2plend/crypto"
)

// Offer is a lender's standing commitment of USDC available to borrowers under
// fixed terms. Offers are never deleted; cancelled offers stay on record with
// IsActive=false.
type Offer struct {
	OfferID uint64         `json:"offerId"`
	Lender  crypto.Address `json:"lender"`
	// USDCAmount is the original pool size and never changes.
	USDCAmount *big.Int `json:"usdcAmount"`
	// RemainingAmount is the idle balance still available to borrow or
	// withdraw. It only ever decreases.
	RemainingAmount      *big.Int `json:"remainingAmount"`
	WeeklyInterestRate   uint32   `json:"weeklyInterestRate"`
	MinCollateralRatio   uint32   `json:"minCollateralRatio"`
	LiquidationThreshold uint32   `json:"liquidationThreshold"`
	MaxDurationWeeks     uint32   `json:"maxDurationWeeks"`
	IsActive             bool     `json:"isActive"`
	CreatedAt            uint64   `json:"createdAt"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.USDCAmount = cloneAmount(o.USDCAmount)
	clone.RemainingAmount = cloneAmount(o.RemainingAmount)
	return &clone
}

// Loan is an active or historical borrowing position against an offer.
type Loan struct {
	LoanID     uint64         `json:"loanId"`
	OfferID    uint64         `json:"offerId"`
	Borrower   crypto.Address `json:"borrower"`
	Lender     crypto.Address `json:"lender"`
	Collateral *big.Int       `json:"collateralAmount"`
	// BorrowedAmount is the principal at origination and is immutable.
	BorrowedAmount *big.Int `json:"borrowedAmount"`
	// PrincipalRepaid accumulates principal paid back after interest was
	// cleared.
	PrincipalRepaid      *big.Int `json:"principalRepaid"`
	AccumulatedInterest  *big.Int `json:"accumulatedInterest"`
	InterestRate         uint32   `json:"interestRate"`
	LiquidationThreshold uint32   `json:"liquidationThreshold"`
	StartTime            uint64   `json:"startTime"`
	LastInterestUpdate   uint64   `json:"lastInterestUpdate"`
	IsActive             bool     `json:"isActive"`
	// LiquidatedAt is non-zero once the loan was closed by liquidation.
	LiquidatedAt uint64 `json:"liquidatedAt,omitempty"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Collateral = cloneAmount(l.Collateral)
	clone.BorrowedAmount = cloneAmount(l.BorrowedAmount)
	clone.PrincipalRepaid = cloneAmount(l.PrincipalRepaid)
	clone.AccumulatedInterest = cloneAmount(l.AccumulatedInterest)
	return &clone
}

// OutstandingPrincipal is the principal still owed.
func (l *Loan) OutstandingPrincipal() *big.Int {
	return new(big.Int).Sub(cloneAmount(l.BorrowedAmount), cloneAmount(l.PrincipalRepaid))
}

// LoanHealth is derived on demand from a loan and the current oracle price.
type LoanHealth struct {
	LoanID                 uint64   `json:"loanId"`
	CollateralValueUSD     *big.Int `json:"collateralValueUsd"`
	DebtValueUSD           *big.Int `json:"debtValueUsd"`
	CollateralizationRatio uint32   `json:"collateralizationRatio"`
	HealthFactor           uint32   `json:"healthFactor"`
	IsLiquidatable         bool     `json:"isLiquidatable"`
	LiquidationPrice       *big.Int `json:"liquidationPrice"`
}

// PriceData is a single oracle quote.
type PriceData struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

// LiquidationResult summarises the settlement of a liquidated loan.
type LiquidationResult struct {
	LoanID             uint64   `json:"loanId"`
	DebtRepaid         *big.Int `json:"debtRepaid"`
	CollateralSeized   *big.Int `json:"collateralSeized"`
	CollateralReturned *big.Int `json:"collateralReturned"`
}

// SortOption orders offer listings.
type SortOption string

const (
	SortBestRate      SortOption = "best_rate"
	SortHighestAmount SortOption = "highest_amount"
	SortNewest        SortOption = "newest"
)

// ParseSortOption accepts the canonical names plus their camel-case forms.
func ParseSortOption(raw string) (SortOption, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "best_rate", "bestrate":
		return SortBestRate, nil
	case "highest_amount", "highestamount":
		return SortHighestAmount, nil
	case "newest":
		return SortNewest, nil
	default:
		return "", ErrInvalidSortOption
	}
}
