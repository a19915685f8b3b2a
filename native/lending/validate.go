package lending

import "math/big"

func validateInterestRate(rate, maxRate uint32) error {
	if rate == 0 || rate > maxRate {
		return ErrInvalidInterestRate
	}
	return nil
}

func (p Params) validateCollateralRatio(ratio uint32) error {
	if ratio < p.MinCollateralRatioFloor || ratio > p.MinCollateralRatioCeiling {
		return ErrInvalidCollateralRatio
	}
	return nil
}

// validateLiquidationThreshold keeps the threshold inside the configured band
// and strictly below the offer's collateral ratio so no loan is liquidatable
// at origination.
func (p Params) validateLiquidationThreshold(threshold, minCollateralRatio uint32) error {
	if threshold < p.LiquidationThresholdFloor || threshold > p.LiquidationThresholdCeiling {
		return ErrInvalidLiquidationThreshold
	}
	if threshold >= minCollateralRatio {
		return ErrInvalidLiquidationThreshold
	}
	return nil
}

func (p Params) validateDuration(weeks uint32) error {
	if weeks == 0 {
		return ErrInvalidInput
	}
	if weeks > p.MaxDurationWeeks {
		return ErrLoanDurationExceeded
	}
	return nil
}

func (p Params) validatePagination(offset, limit int) error {
	if limit <= 0 || limit > p.MaxPageSize || offset < 0 {
		return ErrInvalidPagination
	}
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// validateAmount rejects non-positive values and anything beyond the
// representable range.
func validateAmount(v *big.Int, onInvalid error) error {
	if !positive(v) {
		return onInvalid
	}
	if v.Cmp(maxI128) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}
