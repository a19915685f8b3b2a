package lending

import "strings"

// Config captures the operator-facing TOML configuration of the lending
// module. Zero values fall back to DefaultParams.
type Config struct {
	MaxOffersPerUser            int    `toml:"MaxOffersPerUser" yaml:"maxOffersPerUser"`
	MaxLoansPerUser             int    `toml:"MaxLoansPerUser" yaml:"maxLoansPerUser"`
	LiquidationBonusBps         uint32 `toml:"LiquidationBonusBps" yaml:"liquidationBonusBps"`
	PriceStalenessSeconds       uint64 `toml:"PriceStalenessSeconds" yaml:"priceStalenessSeconds"`
	MinCollateralRatioFloor     uint32 `toml:"MinCollateralRatioFloor" yaml:"minCollateralRatioFloor"`
	MinCollateralRatioCeiling   uint32 `toml:"MinCollateralRatioCeiling" yaml:"minCollateralRatioCeiling"`
	LiquidationThresholdFloor   uint32 `toml:"LiquidationThresholdFloor" yaml:"liquidationThresholdFloor"`
	LiquidationThresholdCeiling uint32 `toml:"LiquidationThresholdCeiling" yaml:"liquidationThresholdCeiling"`
	MaxDurationWeeks            uint32 `toml:"MaxDurationWeeks" yaml:"maxDurationWeeks"`
	DefaultMaxInterestRate      uint32 `toml:"DefaultMaxInterestRate" yaml:"defaultMaxInterestRate"`
	MaxPageSize                 int    `toml:"MaxPageSize" yaml:"maxPageSize"`
	CollateralAsset             string `toml:"CollateralAsset" yaml:"collateralAsset"`
}

// Params resolves the configuration into engine parameters, filling unset
// fields from the defaults and validating the result.
func (c Config) Params() (Params, error) {
	p := DefaultParams()
	if c.MaxOffersPerUser != 0 {
		p.MaxOffersPerUser = c.MaxOffersPerUser
	}
	if c.MaxLoansPerUser != 0 {
		p.MaxLoansPerUser = c.MaxLoansPerUser
	}
	if c.LiquidationBonusBps != 0 {
		p.LiquidationBonusBps = c.LiquidationBonusBps
	}
	if c.PriceStalenessSeconds != 0 {
		p.PriceStalenessSeconds = c.PriceStalenessSeconds
	}
	if c.MinCollateralRatioFloor != 0 {
		p.MinCollateralRatioFloor = c.MinCollateralRatioFloor
	}
	if c.MinCollateralRatioCeiling != 0 {
		p.MinCollateralRatioCeiling = c.MinCollateralRatioCeiling
	}
	if c.LiquidationThresholdFloor != 0 {
		p.LiquidationThresholdFloor = c.LiquidationThresholdFloor
	}
	if c.LiquidationThresholdCeiling != 0 {
		p.LiquidationThresholdCeiling = c.LiquidationThresholdCeiling
	}
	if c.MaxDurationWeeks != 0 {
		p.MaxDurationWeeks = c.MaxDurationWeeks
	}
	if c.DefaultMaxInterestRate != 0 {
		p.DefaultMaxInterestRate = c.DefaultMaxInterestRate
	}
	if c.MaxPageSize != 0 {
		p.MaxPageSize = c.MaxPageSize
	}
	if asset := strings.ToUpper(strings.TrimSpace(c.CollateralAsset)); asset != "" {
		p.XLMAsset = asset
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
