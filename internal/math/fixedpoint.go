package math

import (
	"fmt"
	"math/big"
	"sync"
)

// Fixed-point scales used by the protocol contracts.
// Precision scales percentages and prices, WethUnit scales token amounts.
const (
	PrecisionDecimals = 10
	WethDecimals      = 18
)

var (
	Precision = big.NewInt(10_000_000_000)
	WethUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(WethDecimals), nil)

	// PercentPrecision is 100 * Precision, the denominator of every
	// percent-of-collateral computation.
	PercentPrecision = new(big.Int).Mul(big.NewInt(100), Precision)

	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
	bigTwo  = big.NewInt(2)
)

type RoundingMode int

const (
	RoundFloor RoundingMode = iota
	RoundCeil
	RoundTowardZero
	RoundHalfEven // Banker's rounding, display only
)

func (m RoundingMode) String() string {
	switch m {
	case RoundFloor:
		return "floor"
	case RoundCeil:
		return "ceil"
	case RoundTowardZero:
		return "toward_zero"
	case RoundHalfEven:
		return "half_even"
	default:
		return "unknown"
	}
}

// Scratch big.Ints for intermediate products
var scratchPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getScratch() *big.Int {
	return scratchPool.Get().(*big.Int)
}

func putScratch(v *big.Int) {
	v.SetInt64(0)
	scratchPool.Put(v)
}

// DivRound returns num / den rounded with mode. It never mutates its inputs.
// Panics on a zero denominator.
func DivRound(num, den *big.Int, mode RoundingMode) *big.Int {
	if den.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}

	q := new(big.Int)
	r := getScratch()
	defer putScratch(r)

	// QuoRem truncates toward zero; r carries the sign of num.
	q.QuoRem(num, den, r)
	if r.Sign() == 0 {
		return q
	}

	negative := (num.Sign() < 0) != (den.Sign() < 0)

	switch mode {
	case RoundTowardZero:
	case RoundFloor:
		if negative {
			q.Sub(q, bigOne)
		}
	case RoundCeil:
		if !negative {
			q.Add(q, bigOne)
		}
	case RoundHalfEven:
		twiceRem := getScratch()
		defer putScratch(twiceRem)
		twiceRem.Abs(r)
		twiceRem.Mul(twiceRem, bigTwo)

		absDen := getScratch()
		defer putScratch(absDen)
		absDen.Abs(den)

		cmp := twiceRem.Cmp(absDen)
		if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
			if negative {
				q.Sub(q, bigOne)
			} else {
				q.Add(q, bigOne)
			}
		}
	default:
		panic(fmt.Sprintf("fixedpoint: unknown rounding mode %d", mode))
	}

	return q
}

// MulDiv computes a * b / den with a single rounding step at the end.
func MulDiv(a, b, den *big.Int, mode RoundingMode) *big.Int {
	product := getScratch()
	defer putScratch(product)
	product.Mul(a, b)
	return DivRound(product, den, mode)
}

// Mul returns the product of all factors.
func Mul(factors ...*big.Int) *big.Int {
	result := big.NewInt(1)
	for _, f := range factors {
		result.Mul(result, f)
	}
	return result
}

// Pow returns base^exp for a non-negative exponent.
func Pow(base *big.Int, exp uint64) *big.Int {
	return new(big.Int).Exp(base, new(big.Int).SetUint64(exp), nil)
}

// Abs returns |v| as a new value.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// Clamp bounds v to [lo, hi]; a nil bound is open.
func Clamp(v, lo, hi *big.Int) *big.Int {
	if hi != nil && v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	if lo != nil && v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	return new(big.Int).Set(v)
}

// Int returns a big.Int from an int64.
func Int(v int64) *big.Int {
	return big.NewInt(v)
}

// Uint returns a big.Int from a uint64.
func Uint(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// MustParse parses a base-10 integer and panics on malformed input.
// Intended for constants and tests.
func MustParse(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("fixedpoint: invalid integer %q", s))
	}
	return v
}

// Weth returns whole * 1e18.
func Weth(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), WethUnit)
}

// blocksBetween returns current - last, or zero if the window is empty.
func blocksBetween(currentBlock, lastUpdateBlock uint64) *big.Int {
	if currentBlock <= lastUpdateBlock {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(currentBlock - lastUpdateBlock)
}

func requirePositive(name string, v *big.Int) {
	if v == nil || v.Sign() <= 0 {
		panic(fmt.Sprintf("fixedpoint: %s must be positive, got %v", name, v))
	}
}

func requireNonNegative(name string, v *big.Int) {
	if v == nil || v.Sign() < 0 {
		panic(fmt.Sprintf("fixedpoint: %s must be non-negative, got %v", name, v))
	}
}
