package lending

import (
	"errors"
	"fmt"
)

// Error is a business-rule failure carrying a stable numeric code. Codes are
// grouped by range and never reused.
type Error struct {
	Code uint32
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lending engine: %s (code %d)", e.Name, e.Code)
}

// Is matches on the numeric code so wrapped copies compare equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func newError(code uint32, name string) *Error { return &Error{Code: code, Name: name} }

// Initialization.
var (
	ErrAlreadyInitialized = newError(1, "AlreadyInitialized")
	ErrNotInitialized     = newError(2, "NotInitialized")
)

// Authorization.
var (
	ErrUnauthorized = newError(10, "Unauthorized")
	ErrOnlyAdmin    = newError(11, "OnlyAdmin")
	ErrOnlyLender   = newError(12, "OnlyLender")
	ErrOnlyBorrower = newError(13, "OnlyBorrower")
)

// Offer lifecycle.
var (
	ErrOfferNotFound               = newError(20, "OfferNotFound")
	ErrOfferNotActive              = newError(21, "OfferNotActive")
	ErrInvalidInterestRate         = newError(22, "InvalidInterestRate")
	ErrInvalidCollateralRatio      = newError(23, "InvalidCollateralRatio")
	ErrInvalidLiquidationThreshold = newError(24, "InvalidLiquidationThreshold")
	ErrInvalidOfferAmount          = newError(25, "InvalidOfferAmount")
	ErrTooManyOffers               = newError(26, "TooManyOffers")
	ErrInsufficientOfferFunds      = newError(27, "InsufficientOfferFunds")
	ErrOfferHasActiveLoans         = newError(28, "OfferHasActiveLoans")
)

// Loan lifecycle.
var (
	ErrLoanNotFound             = newError(40, "LoanNotFound")
	ErrLoanNotActive            = newError(41, "LoanNotActive")
	ErrInvalidBorrowAmount      = newError(42, "InvalidBorrowAmount")
	ErrInvalidCollateralAmount  = newError(43, "InvalidCollateralAmount")
	ErrInsufficientCollateral   = newError(44, "InsufficientCollateral")
	ErrTooManyLoans             = newError(45, "TooManyLoans")
	ErrInvalidRepayAmount       = newError(46, "InvalidRepayAmount")
	ErrRepayExceedsDebt         = newError(47, "RepayExceedsDebt")
	ErrWithdrawalBreachesHealth = newError(48, "WithdrawalBreachesHealth")
	ErrLoanDurationExceeded     = newError(49, "LoanDurationExceeded")
)

// Liquidation.
var (
	ErrNotLiquidatable             = newError(60, "NotLiquidatable")
	ErrAlreadyLiquidated           = newError(61, "AlreadyLiquidated")
	ErrLiquidationSwapFailed       = newError(62, "LiquidationSwapFailed")
	ErrInsufficientCollateralValue = newError(63, "InsufficientCollateralValue")
)

// Oracle.
var (
	ErrOracleNotSet      = newError(80, "OracleNotSet")
	ErrPriceNotAvailable = newError(81, "PriceNotAvailable")
	ErrStalePriceData    = newError(82, "StalePriceData")
	ErrInvalidPriceData  = newError(83, "InvalidPriceData")
)

// Token ledgers.
var (
	ErrUsdcTokenNotSet     = newError(100, "UsdcTokenNotSet")
	ErrXlmTokenNotSet      = newError(101, "XlmTokenNotSet")
	ErrTokenTransferFailed = newError(102, "TokenTransferFailed")
	ErrInsufficientBalance = newError(103, "InsufficientBalance")
)

// Safety.
var (
	ErrContractPaused      = newError(120, "ContractPaused")
	ErrReentrant           = newError(121, "Reentrant")
	ErrInvalidInput        = newError(122, "InvalidInput")
	ErrArithmeticOverflow  = newError(123, "ArithmeticOverflow")
	ErrArithmeticUnderflow = newError(124, "ArithmeticUnderflow")
	ErrDivisionByZero      = newError(125, "DivisionByZero")
)

// Queries.
var (
	ErrInvalidSortOption = newError(140, "InvalidSortOption")
	ErrInvalidPagination = newError(141, "InvalidPagination")
	ErrNoOffersAvailable = newError(142, "NoOffersAvailable")
	ErrNoLoansFound      = newError(143, "NoLoansFound")
)

var allErrors = []*Error{
	ErrAlreadyInitialized, ErrNotInitialized,
	ErrUnauthorized, ErrOnlyAdmin, ErrOnlyLender, ErrOnlyBorrower,
	ErrOfferNotFound, ErrOfferNotActive, ErrInvalidInterestRate, ErrInvalidCollateralRatio,
	ErrInvalidLiquidationThreshold, ErrInvalidOfferAmount, ErrTooManyOffers,
	ErrInsufficientOfferFunds, ErrOfferHasActiveLoans,
	ErrLoanNotFound, ErrLoanNotActive, ErrInvalidBorrowAmount, ErrInvalidCollateralAmount,
	ErrInsufficientCollateral, ErrTooManyLoans, ErrInvalidRepayAmount, ErrRepayExceedsDebt,
	ErrWithdrawalBreachesHealth, ErrLoanDurationExceeded,
	ErrNotLiquidatable, ErrAlreadyLiquidated, ErrLiquidationSwapFailed, ErrInsufficientCollateralValue,
	ErrOracleNotSet, ErrPriceNotAvailable, ErrStalePriceData, ErrInvalidPriceData,
	ErrUsdcTokenNotSet, ErrXlmTokenNotSet, ErrTokenTransferFailed, ErrInsufficientBalance,
	ErrContractPaused, ErrReentrant, ErrInvalidInput, ErrArithmeticOverflow,
	ErrArithmeticUnderflow, ErrDivisionByZero,
	ErrInvalidSortOption, ErrInvalidPagination, ErrNoOffersAvailable, ErrNoLoansFound,
}

// CodeOf extracts the numeric code from err. The second result is false for
// errors outside the taxonomy (storage failures and the like).
func CodeOf(err error) (uint32, bool) {
	var lendErr *Error
	if errors.As(err, &lendErr) {
		return lendErr.Code, true
	}
	return 0, false
}

// ErrorByCode returns the canonical error for code.
func ErrorByCode(code uint32) (*Error, bool) {
	for _, e := range allErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}

// Errors lists the full taxonomy ordered by code.
func Errors() []*Error {
	out := make([]*Error, len(allErrors))
	copy(out, allErrors)
	return out
}
