package lending

import (
	"context"
	"math"
	"math/big"
)

// computeHealth derives the health metrics of loan for the given debt and
// collateral at quote.
func computeHealth(loan *Loan, debt, collateral *big.Int, quote *Quote) (*LoanHealth, error) {
	value, err := quote.CollateralValue(collateral)
	if err != nil {
		return nil, err
	}
	health := &LoanHealth{
		LoanID:                 loan.LoanID,
		CollateralValueUSD:     value,
		DebtValueUSD:           new(big.Int).Set(debt),
		CollateralizationRatio: math.MaxUint32,
		HealthFactor:           math.MaxUint32,
	}
	if debt.Sign() > 0 {
		ratio, err := RatioBps(value, debt)
		if err != nil {
			return nil, err
		}
		health.CollateralizationRatio = clampUint32(ratio)
		if loan.LiquidationThreshold > 0 {
			factor, err := MulDiv(ratio, basisPoints, new(big.Int).SetUint64(uint64(loan.LiquidationThreshold)))
			if err != nil {
				return nil, err
			}
			health.HealthFactor = clampUint32(factor)
		}
	}
	health.IsLiquidatable = loan.IsActive && health.HealthFactor < BasisPoints
	price, err := LiquidationPrice(debt, collateral, loan.LiquidationThreshold, quote.Decimals)
	if err != nil {
		return nil, err
	}
	health.LiquidationPrice = price
	return health, nil
}

// loanHealth accrues a copy of loan to now and derives its health.
func (e *Engine) loanHealth(loan *Loan, quote *Quote) (*LoanHealth, error) {
	view := loan.Clone()
	if err := applyAccrual(view, e.now()); err != nil {
		return nil, err
	}
	debt, err := TotalDebt(view)
	if err != nil {
		return nil, err
	}
	return computeHealth(view, debt, view.Collateral, quote)
}

// GetLoanHealth returns live health metrics for a loan. It does not modify
// state.
func (e *Engine) GetLoanHealth(ctx context.Context, loanID uint64) (*LoanHealth, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	loan, err := s.loan(loanID)
	if err != nil {
		return nil, err
	}
	quote, err := e.quote(ctx, s)
	if err != nil {
		return nil, err
	}
	return e.loanHealth(loan, quote)
}

// GetXLMPrice returns the current validated collateral quote.
func (e *Engine) GetXLMPrice(ctx context.Context) (*Quote, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return e.quote(ctx, s)
}
