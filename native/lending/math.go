package lending

import "math/big"

// BasisPoints is the fixed denominator for every percentage in the module.
const BasisPoints = 10_000

var (
	basisPoints = big.NewInt(BasisPoints)
	maxI128     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128     = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// MaxAmount is the largest value representable in the signed 128-bit range
// used for every amount.
func MaxAmount() *big.Int { return new(big.Int).Set(maxI128) }

func inRange(v *big.Int) bool {
	return v.Cmp(maxI128) <= 0 && v.Cmp(minI128) >= 0
}

func operand(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Add returns a+b or ArithmeticOverflow/ArithmeticUnderflow when the result
// leaves the signed 128-bit range.
func Add(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Add(operand(a), operand(b))
	if out.Cmp(maxI128) > 0 {
		return nil, ErrArithmeticOverflow
	}
	if out.Cmp(minI128) < 0 {
		return nil, ErrArithmeticUnderflow
	}
	return out, nil
}

// Sub returns a-b with the same range checks as Add.
func Sub(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Sub(operand(a), operand(b))
	if out.Cmp(maxI128) > 0 {
		return nil, ErrArithmeticOverflow
	}
	if out.Cmp(minI128) < 0 {
		return nil, ErrArithmeticUnderflow
	}
	return out, nil
}

// Mul returns a*b, failing with ArithmeticOverflow outside the range.
func Mul(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(operand(a), operand(b))
	if !inRange(out) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Div returns a/b truncated toward zero.
func Div(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Quo(operand(a), b)
	if !inRange(out) {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// MulDiv computes a*b/c with the intermediate product range-checked.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return Div(product, c)
}

// ApplyBps returns v*bps/10000, truncated.
func ApplyBps(v *big.Int, bps uint32) (*big.Int, error) {
	return MulDiv(v, new(big.Int).SetUint64(uint64(bps)), basisPoints)
}

// RatioBps expresses num/den in basis points, truncated.
func RatioBps(num, den *big.Int) (*big.Int, error) {
	return MulDiv(num, basisPoints, den)
}

// pow10 returns 10^exp.
func pow10(exp uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

func clampUint32(v *big.Int) uint32 {
	if v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() || v.Uint64() > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v.Uint64())
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minAmount(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
