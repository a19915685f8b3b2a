package main

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const (
	amountDecimals = 7
	priceDecimals  = 14
)

// decimalsByKey lists result fields holding fixed-point values.
var decimalsByKey = map[string]int32{
	"amount":              amountDecimals,
	"usdcAmount":          amountDecimals,
	"remainingAmount":     amountDecimals,
	"collateralAmount":    amountDecimals,
	"borrowedAmount":      amountDecimals,
	"principalRepaid":     amountDecimals,
	"accumulatedInterest": amountDecimals,
	"debtRepaid":          amountDecimals,
	"collateralSeized":    amountDecimals,
	"collateralReturned":  amountDecimals,
	"collateralValueUsd":  amountDecimals,
	"debtValueUsd":        amountDecimals,
	"price":               priceDecimals,
	"liquidationPrice":    priceDecimals,
}

// humanizeAmounts rewrites known fixed-point fields of a decoded JSON value
// into decimal strings.
func humanizeAmounts(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			if places, ok := decimalsByKey[k]; ok {
				if s, ok := fixedPoint(inner, places); ok {
					t[k] = s
					continue
				}
			}
			t[k] = humanizeAmounts(inner)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = humanizeAmounts(t[i])
		}
		return t
	default:
		return v
	}
}

func fixedPoint(v interface{}, places int32) (string, bool) {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = t
	default:
		return "", false
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", false
	}
	return decimal.NewFromBigInt(n, -places).String(), true
}

// toBaseUnits converts a decimal string into integer base units, rejecting
// values with more precision than the token carries.
func toBaseUnits(s string, places int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(places)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimal places", s, places)
	}
	return scaled.BigInt(), nil
}

func newUnitsCmd() *cobra.Command {
	var (
		fromBase bool
		price    bool
	)
	cmd := &cobra.Command{
		Use:   "units <value>",
		Short: "Convert between decimal amounts and base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			places := int32(amountDecimals)
			if price {
				places = priceDecimals
			}
			if fromBase {
				s, ok := fixedPoint(args[0], places)
				if !ok {
					return fmt.Errorf("%q is not an integer amount", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			units, err := toBaseUnits(args[0], places)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), units.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromBase, "from-base", false, "Convert base units into a decimal amount")
	cmd.Flags().BoolVar(&price, "price", false, "Use price precision (14 decimals)")
	return cmd
}
