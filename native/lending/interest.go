package lending

import "math/big"

var (
	secondsPerWeek = big.NewInt(SecondsPerWeek)
	weeklyDivisor  = new(big.Int).Mul(basisPoints, secondsPerWeek)
)

// CalculateInterest returns the simple interest owed on principal at a weekly
// basis-point rate between from and to:
//
//	principal * rate * elapsed / (10000 * 604800)
//
// The result truncates toward zero. A reversed interval accrues nothing.
func CalculateInterest(principal *big.Int, weeklyRate uint32, from, to uint64) (*big.Int, error) {
	if to <= from || weeklyRate == 0 || operand(principal).Sign() == 0 {
		return big.NewInt(0), nil
	}
	elapsed := new(big.Int).SetUint64(to - from)
	scaled, err := Mul(principal, new(big.Int).SetUint64(uint64(weeklyRate)))
	if err != nil {
		return nil, err
	}
	scaled, err = Mul(scaled, elapsed)
	if err != nil {
		return nil, err
	}
	return Div(scaled, weeklyDivisor)
}

// Accrue folds the interest pending on loan up to now into a new accumulated
// balance. It is pure: the loan is not modified. The returned timestamp is the
// new last_interest_update and never moves backwards.
func Accrue(loan *Loan, now uint64) (*big.Int, uint64, error) {
	pending, err := CalculateInterest(loan.OutstandingPrincipal(), loan.InterestRate, loan.LastInterestUpdate, now)
	if err != nil {
		return nil, 0, err
	}
	accumulated, err := Add(loan.AccumulatedInterest, pending)
	if err != nil {
		return nil, 0, err
	}
	last := loan.LastInterestUpdate
	if now > last {
		last = now
	}
	return accumulated, last, nil
}

// applyAccrual runs Accrue and writes the result into loan.
func applyAccrual(loan *Loan, now uint64) error {
	accumulated, last, err := Accrue(loan, now)
	if err != nil {
		return err
	}
	loan.AccumulatedInterest = accumulated
	loan.LastInterestUpdate = last
	return nil
}

// TotalDebt is the outstanding principal plus accumulated interest of a loan
// whose accrual is current.
func TotalDebt(loan *Loan) (*big.Int, error) {
	return Add(loan.OutstandingPrincipal(), loan.AccumulatedInterest)
}

// APY converts a weekly basis-point rate into an annual one (no compounding).
func APY(weeklyRate uint32) uint32 {
	apy := uint64(weeklyRate) * WeeksPerYear
	if apy > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(apy)
}

// InterestForPeriod quotes the interest a principal would owe over a whole
// number of weeks.
func InterestForPeriod(principal *big.Int, weeklyRate uint32, weeks uint32) (*big.Int, error) {
	return CalculateInterest(principal, weeklyRate, 0, uint64(weeks)*SecondsPerWeek)
}
