package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"p2plend/crypto"
)

func inactiveLoanError(loan *Loan) error {
	if loan.LiquidatedAt > 0 {
		return ErrAlreadyLiquidated
	}
	return ErrLoanNotActive
}

// IsLiquidatable reports whether an active loan's health factor is below
// 100%.
func (e *Engine) IsLiquidatable(ctx context.Context, loanID uint64) (bool, error) {
	s, err := e.reader()
	if err != nil {
		return false, err
	}
	loan, err := s.loan(loanID)
	if err != nil {
		return false, err
	}
	if !loan.IsActive {
		return false, inactiveLoanError(loan)
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return false, err
	}
	health, err := e.loanHealth(loan, quote)
	if err != nil {
		return false, err
	}
	return health.IsLiquidatable, nil
}

// Liquidate closes an unhealthy loan. The liquidator repays the full debt to
// the lender and receives collateral worth the debt plus the liquidation
// bonus; whatever collateral is left goes back to the borrower.
func (e *Engine) Liquidate(ctx context.Context, liquidator crypto.Address, loanID uint64) (res *LiquidationResult, err error) {
	s, release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release(&err)

	loan, err := s.loan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive {
		return nil, inactiveLoanError(loan)
	}
	if liquidator.IsZero() {
		return nil, ErrUnauthorized
	}
	now := e.now()
	if err := applyAccrual(loan, now); err != nil {
		return nil, err
	}
	debt, err := TotalDebt(loan)
	if err != nil {
		return nil, err
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return nil, err
	}
	health, err := computeHealth(loan, debt, loan.Collateral, quote)
	if err != nil {
		return nil, err
	}
	if !health.IsLiquidatable {
		return nil, ErrNotLiquidatable
	}
	if health.CollateralValueUSD.Cmp(debt) < 0 {
		return nil, ErrInsufficientCollateralValue
	}
	seizeValue, err := ApplyBps(debt, BasisPoints+e.params.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	seized, err := quote.CollateralFor(seizeValue)
	if err != nil {
		return nil, err
	}
	seized = minAmount(seized, loan.Collateral)
	returned, err := Sub(loan.Collateral, seized)
	if err != nil {
		return nil, err
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return nil, err
	}
	xlm, err := e.xlmToken(s)
	if err != nil {
		return nil, err
	}

	res = &LiquidationResult{
		LoanID:             loan.LoanID,
		DebtRepaid:         debt,
		CollateralSeized:   seized,
		CollateralReturned: returned,
	}
	loan.IsActive = false
	loan.LiquidatedAt = now
	loan.PrincipalRepaid = cloneAmount(loan.BorrowedAmount)
	loan.AccumulatedInterest = big.NewInt(0)
	loan.Collateral = big.NewInt(0)
	if err := s.putLoan(loan); err != nil {
		return nil, err
	}
	if err := s.removeID(activeLoansKey(), loan.LoanID); err != nil {
		return nil, err
	}
	if err := e.route(ctx, usdc, liquidator, loan.Lender, debt); err != nil {
		return nil, err
	}
	if seized.Sign() > 0 {
		if err := e.pay(ctx, xlm, liquidator, seized); err != nil {
			return nil, swapFailure(err)
		}
	}
	if returned.Sign() > 0 {
		if err := e.pay(ctx, xlm, loan.Borrower, returned); err != nil {
			return nil, swapFailure(err)
		}
	}
	e.emit(NewLoanLiquidatedEvent(loan, liquidator, res))
	return res, nil
}

func swapFailure(err error) error {
	if errors.Is(err, ErrLiquidationSwapFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLiquidationSwapFailed, err)
}

// BatchCheckLiquidations returns the subset of loanIDs that can be
// liquidated. Unknown, inactive or unpriceable loans are skipped.
func (e *Engine) BatchCheckLiquidations(ctx context.Context, loanIDs []uint64) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(loanIDs))
	if len(loanIDs) == 0 {
		return out, nil
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return out, nil
	}
	for _, id := range loanIDs {
		loan, err := s.loan(id)
		if err != nil || !loan.IsActive {
			continue
		}
		health, err := e.loanHealth(loan, quote)
		if err != nil {
			continue
		}
		if health.IsLiquidatable {
			out = append(out, id)
		}
	}
	return out, nil
}
