package lending

import (
	"context"
	"math/big"

	"p2plend/crypto"
)

// Borrow originates a loan against offerID, pulling collateral from the
// borrower and paying borrowAmount out of the offer's pool.
func (e *Engine) Borrow(ctx context.Context, borrower crypto.Address, offerID uint64, collateral, borrowAmount *big.Int) (id uint64, err error) {
	s, release, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer release(&err)

	offer, err := s.offer(offerID)
	if err != nil {
		return 0, err
	}
	if !offer.IsActive {
		return 0, ErrOfferNotActive
	}
	if err := validateAmount(borrowAmount, ErrInvalidBorrowAmount); err != nil {
		return 0, err
	}
	if err := validateAmount(collateral, ErrInvalidCollateralAmount); err != nil {
		return 0, err
	}
	if borrowAmount.Cmp(offer.RemainingAmount) > 0 {
		return 0, ErrInsufficientOfferFunds
	}
	active, err := e.activeBorrowCount(s, borrower)
	if err != nil {
		return 0, err
	}
	if active >= e.params.MaxLoansPerUser {
		return 0, ErrTooManyLoans
	}
	if borrower.IsZero() {
		return 0, ErrUnauthorized
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return 0, err
	}
	value, err := quote.CollateralValue(collateral)
	if err != nil {
		return 0, err
	}
	maxBorrow, err := MulDiv(value, basisPoints, new(big.Int).SetUint64(uint64(offer.MinCollateralRatio)))
	if err != nil {
		return 0, err
	}
	if borrowAmount.Cmp(maxBorrow) > 0 {
		return 0, ErrInsufficientCollateral
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return 0, err
	}
	xlm, err := e.xlmToken(s)
	if err != nil {
		return 0, err
	}

	remaining, err := Sub(offer.RemainingAmount, borrowAmount)
	if err != nil {
		return 0, err
	}
	offer.RemainingAmount = remaining
	if err := s.putOffer(offer); err != nil {
		return 0, err
	}
	id, err = s.nextID(nextLoanIDKey())
	if err != nil {
		return 0, err
	}
	now := e.now()
	loan := &Loan{
		LoanID:               id,
		OfferID:              offer.OfferID,
		Borrower:             borrower,
		Lender:               offer.Lender,
		Collateral:           new(big.Int).Set(collateral),
		BorrowedAmount:       new(big.Int).Set(borrowAmount),
		PrincipalRepaid:      big.NewInt(0),
		AccumulatedInterest:  big.NewInt(0),
		InterestRate:         offer.WeeklyInterestRate,
		LiquidationThreshold: offer.LiquidationThreshold,
		StartTime:            now,
		LastInterestUpdate:   now,
		IsActive:             true,
	}
	if err := s.putLoan(loan); err != nil {
		return 0, err
	}
	if err := s.addID(userLoansAsBorrowerKey(borrower), id); err != nil {
		return 0, err
	}
	if err := s.addID(userLoansAsLenderKey(offer.Lender), id); err != nil {
		return 0, err
	}
	if err := s.addID(activeLoansKey(), id); err != nil {
		return 0, err
	}
	if err := e.pull(ctx, xlm, borrower, loan.Collateral); err != nil {
		return 0, err
	}
	if err := e.pay(ctx, usdc, borrower, loan.BorrowedAmount); err != nil {
		return 0, err
	}
	e.emit(NewLoanOriginatedEvent(loan))
	return id, nil
}

// loadActiveLoan loads an active loan owned by borrower.
func (e *Engine) loadActiveLoan(s store, borrower crypto.Address, loanID uint64) (*Loan, error) {
	loan, err := s.loan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Borrower.Equal(borrower) {
		return nil, ErrOnlyBorrower
	}
	if !loan.IsActive {
		return nil, ErrLoanNotActive
	}
	return loan, nil
}

// Repay pays down a loan, interest first. Paying the full debt closes the
// loan and releases the collateral.
func (e *Engine) Repay(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) (err error) {
	s, release, err := e.enter()
	if err != nil {
		return err
	}
	defer release(&err)

	loan, err := e.loadActiveLoan(s, borrower, loanID)
	if err != nil {
		return err
	}
	if err := validateAmount(amount, ErrInvalidRepayAmount); err != nil {
		return err
	}
	if err := applyAccrual(loan, e.now()); err != nil {
		return err
	}
	debt, err := TotalDebt(loan)
	if err != nil {
		return err
	}
	if amount.Cmp(debt) > 0 {
		return ErrRepayExceedsDebt
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return err
	}
	var xlm crypto.Address
	if amount.Cmp(debt) == 0 {
		if xlm, err = e.xlmToken(s); err != nil {
			return err
		}
	}

	interestPaid := minAmount(amount, loan.AccumulatedInterest)
	principalPaid, err := Sub(amount, interestPaid)
	if err != nil {
		return err
	}
	if loan.AccumulatedInterest, err = Sub(loan.AccumulatedInterest, interestPaid); err != nil {
		return err
	}
	if loan.PrincipalRepaid, err = Add(loan.PrincipalRepaid, principalPaid); err != nil {
		return err
	}
	remaining, err := TotalDebt(loan)
	if err != nil {
		return err
	}
	released := big.NewInt(0)
	closed := remaining.Sign() == 0
	if closed {
		released = cloneAmount(loan.Collateral)
		loan.Collateral = big.NewInt(0)
		loan.IsActive = false
	}
	if err := s.putLoan(loan); err != nil {
		return err
	}
	if closed {
		if err := s.removeID(activeLoansKey(), loan.LoanID); err != nil {
			return err
		}
	}
	if err := e.route(ctx, usdc, borrower, loan.Lender, amount); err != nil {
		return err
	}
	if closed && released.Sign() > 0 {
		if err := e.pay(ctx, xlm, borrower, released); err != nil {
			return err
		}
	}
	e.emit(NewLoanRepaidEvent(loan, interestPaid, principalPaid))
	if closed {
		e.emit(NewLoanClosedEvent(loan, released))
	}
	return nil
}

// AddCollateral tops up a loan's collateral.
func (e *Engine) AddCollateral(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) (err error) {
	s, release, err := e.enter()
	if err != nil {
		return err
	}
	defer release(&err)

	loan, err := e.loadActiveLoan(s, borrower, loanID)
	if err != nil {
		return err
	}
	if err := validateAmount(amount, ErrInvalidCollateralAmount); err != nil {
		return err
	}
	xlm, err := e.xlmToken(s)
	if err != nil {
		return err
	}
	if err := applyAccrual(loan, e.now()); err != nil {
		return err
	}
	if loan.Collateral, err = Add(loan.Collateral, amount); err != nil {
		return err
	}
	if err := s.putLoan(loan); err != nil {
		return err
	}
	if err := e.pull(ctx, xlm, borrower, amount); err != nil {
		return err
	}
	e.emit(NewCollateralAddedEvent(loan, amount))
	return nil
}

// WithdrawCollateral returns collateral to the borrower provided the loan
// stays at or above a health factor of 100%.
func (e *Engine) WithdrawCollateral(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) (err error) {
	s, release, err := e.enter()
	if err != nil {
		return err
	}
	defer release(&err)

	loan, err := e.loadActiveLoan(s, borrower, loanID)
	if err != nil {
		return err
	}
	if !positive(amount) || amount.Cmp(loan.Collateral) > 0 {
		return ErrInvalidInput
	}
	xlm, err := e.xlmToken(s)
	if err != nil {
		return err
	}
	if err := applyAccrual(loan, e.now()); err != nil {
		return err
	}
	debt, err := TotalDebt(loan)
	if err != nil {
		return err
	}
	left, err := Sub(loan.Collateral, amount)
	if err != nil {
		return err
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return err
	}
	health, err := computeHealth(loan, debt, left, quote)
	if err != nil {
		return err
	}
	if health.HealthFactor < BasisPoints {
		return ErrWithdrawalBreachesHealth
	}

	loan.Collateral = left
	if err := s.putLoan(loan); err != nil {
		return err
	}
	if err := e.pay(ctx, xlm, borrower, amount); err != nil {
		return err
	}
	e.emit(NewCollateralWithdrawnEvent(loan, amount))
	return nil
}

// GetLoan returns the stored loan record without folding pending interest.
func (e *Engine) GetLoan(ctx context.Context, loanID uint64) (*Loan, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.loan(loanID)
}

// CalculateInterest returns the loan's accumulated interest including the
// amount pending since the last update. It does not modify state.
func (e *Engine) CalculateInterest(ctx context.Context, loanID uint64) (*big.Int, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	loan, err := s.loan(loanID)
	if err != nil {
		return nil, err
	}
	accumulated, _, err := Accrue(loan, e.now())
	return accumulated, err
}

// GetUserLoansAsBorrower lists every loan id ever taken by borrower.
func (e *Engine) GetUserLoansAsBorrower(ctx context.Context, borrower crypto.Address) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.ids(userLoansAsBorrowerKey(borrower))
}

// GetUserLoansAsLender lists every loan id funded by lender's offers.
func (e *Engine) GetUserLoansAsLender(ctx context.Context, lender crypto.Address) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.ids(userLoansAsLenderKey(lender))
}

// GetActiveLoans lists the ids of loans that are still open.
func (e *Engine) GetActiveLoans(ctx context.Context) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.ids(activeLoansKey())
}

func (e *Engine) activeBorrowCount(s store, borrower crypto.Address) (int, error) {
	ids, err := s.ids(userLoansAsBorrowerKey(borrower))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		loan, err := s.loan(id)
		if err != nil {
			return 0, err
		}
		if loan.IsActive {
			count++
		}
	}
	return count, nil
}
