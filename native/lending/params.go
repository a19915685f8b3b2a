package lending

import "fmt"

const (
	// SecondsPerWeek is the accrual period of the weekly interest rate.
	SecondsPerWeek = 604_800
	// WeeksPerYear converts weekly rates into APY.
	WeeksPerYear = 52
)

// Params groups the protocol limits enforced by the engine. They are static
// for the life of a deployment; the admin-tunable values (max interest rate,
// oracle, pause) live in contract storage instead.
type Params struct {
	// MaxOffersPerUser caps the active offers a single lender may hold.
	MaxOffersPerUser int
	// MaxLoansPerUser caps the active loans a single borrower may hold.
	MaxLoansPerUser int
	// LiquidationBonusBps is the collateral premium paid to liquidators out
	// of the seized collateral.
	LiquidationBonusBps uint32
	// PriceStalenessSeconds bounds the accepted age of an oracle quote.
	PriceStalenessSeconds uint64
	// MinCollateralRatioFloor and MinCollateralRatioCeiling bound an offer's
	// min_collateral_ratio.
	MinCollateralRatioFloor   uint32
	MinCollateralRatioCeiling uint32
	// LiquidationThresholdFloor and LiquidationThresholdCeiling bound an
	// offer's liquidation_threshold.
	LiquidationThresholdFloor   uint32
	LiquidationThresholdCeiling uint32
	// MaxDurationWeeks is the longest term an offer may advertise.
	MaxDurationWeeks uint32
	// DefaultMaxInterestRate applies when the constructor receives zero.
	DefaultMaxInterestRate uint32
	// MaxPageSize bounds paginated queries.
	MaxPageSize int
	// XLMAsset is the oracle symbol of the collateral asset.
	XLMAsset string
}

// DefaultParams returns the production limits.
func DefaultParams() Params {
	return Params{
		MaxOffersPerUser:            10,
		MaxLoansPerUser:             20,
		LiquidationBonusBps:         500,
		PriceStalenessSeconds:       300,
		MinCollateralRatioFloor:     15_000,
		MinCollateralRatioCeiling:   50_000,
		LiquidationThresholdFloor:   11_000,
		LiquidationThresholdCeiling: 15_000,
		MaxDurationWeeks:            520,
		DefaultMaxInterestRate:      3_000,
		MaxPageSize:                 100,
		XLMAsset:                    "XLM",
	}
}

// Validate checks the parameters are internally consistent.
func (p Params) Validate() error {
	if p.MaxOffersPerUser <= 0 || p.MaxLoansPerUser <= 0 {
		return fmt.Errorf("lending params: per-user caps must be positive")
	}
	if p.LiquidationBonusBps >= BasisPoints {
		return fmt.Errorf("lending params: liquidation bonus must be below 100%%")
	}
	if p.PriceStalenessSeconds == 0 {
		return fmt.Errorf("lending params: price staleness bound required")
	}
	if p.MinCollateralRatioFloor <= BasisPoints || p.MinCollateralRatioFloor > p.MinCollateralRatioCeiling {
		return fmt.Errorf("lending params: invalid collateral ratio bounds")
	}
	if p.LiquidationThresholdFloor < BasisPoints || p.LiquidationThresholdFloor > p.LiquidationThresholdCeiling {
		return fmt.Errorf("lending params: invalid liquidation threshold bounds")
	}
	if p.MaxDurationWeeks == 0 {
		return fmt.Errorf("lending params: max duration required")
	}
	if p.DefaultMaxInterestRate == 0 || p.DefaultMaxInterestRate > BasisPoints {
		return fmt.Errorf("lending params: default max interest rate out of range")
	}
	if p.MaxPageSize <= 0 {
		return fmt.Errorf("lending params: page size must be positive")
	}
	if p.XLMAsset == "" {
		return fmt.Errorf("lending params: collateral asset symbol required")
	}
	return nil
}
