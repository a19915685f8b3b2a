package lending

import (
	"math/big"
	"testing"
)

func TestCheckedArithmetic(t *testing.T) {
	max := MaxAmount()
	min := new(big.Int).Neg(new(big.Int).Add(max, big.NewInt(1)))

	if _, err := Add(max, big.NewInt(1)); err != ErrArithmeticOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Sub(min, big.NewInt(1)); err != ErrArithmeticUnderflow {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := Mul(max, big.NewInt(2)); err != ErrArithmeticOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Div(big.NewInt(1), big.NewInt(0)); err != ErrDivisionByZero {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if got, _ := Div(big.NewInt(-7), big.NewInt(2)); got.Int64() != -3 {
		t.Fatalf("division must truncate toward zero, got %s", got)
	}
	if got, _ := Add(max, big.NewInt(0)); got.Cmp(max) != 0 {
		t.Fatalf("max amount must be representable")
	}
}

func TestBasisPointHelpers(t *testing.T) {
	if got, _ := ApplyBps(big.NewInt(1_000), 12_500); got.Int64() != 1_250 {
		t.Fatalf("apply bps: %s", got)
	}
	if got, _ := ApplyBps(big.NewInt(3), 3_333); got.Int64() != 0 {
		t.Fatalf("apply bps should truncate, got %s", got)
	}
	if got, _ := RatioBps(big.NewInt(120), big.NewInt(100)); got.Int64() != 12_000 {
		t.Fatalf("ratio bps: %s", got)
	}
	if _, err := RatioBps(big.NewInt(1), big.NewInt(0)); err != ErrDivisionByZero {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestConfigParamsDefaults(t *testing.T) {
	params, err := Config{}.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params != DefaultParams() {
		t.Fatalf("empty config should resolve to defaults: %+v", params)
	}

	params, err = Config{MaxOffersPerUser: 3, LiquidationBonusBps: 700, CollateralAsset: " xlm "}.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.MaxOffersPerUser != 3 || params.LiquidationBonusBps != 700 || params.XLMAsset != "XLM" || params.MaxLoansPerUser != 20 {
		t.Fatalf("unexpected params %+v", params)
	}

	if _, err := (Config{LiquidationBonusBps: 10_000}).Params(); err == nil {
		t.Fatalf("expected bonus of 100%% to be rejected")
	}
}
