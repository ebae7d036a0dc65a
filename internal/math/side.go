package math

import "math/big"

// Side is the direction of a position or of open interest.
type Side int8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SideFromBuy maps the contracts' `buy` flag to a Side.
func SideFromBuy(buy bool) Side {
	if buy {
		return SideLong
	}
	return SideShort
}

// Dominant returns the side carrying more open interest. A tie resolves to
// SideLong; the net open interest is zero in that case so no fee accrues.
func Dominant(oiLong, oiShort *big.Int) Side {
	if oiShort.Cmp(oiLong) > 0 {
		return SideShort
	}
	return SideLong
}

// NetOI returns the open interest of side minus that of the opposite side.
// Callers pass the dominant side; for the minority side the result is negative.
func NetOI(oiLong, oiShort *big.Int, side Side) *big.Int {
	if side == SideLong {
		return new(big.Int).Sub(oiLong, oiShort)
	}
	return new(big.Int).Sub(oiShort, oiLong)
}

// Skew returns the dominant side and its non-negative net open interest.
func Skew(oiLong, oiShort *big.Int) (Side, *big.Int) {
	side := Dominant(oiLong, oiShort)
	return side, NetOI(oiLong, oiShort, side)
}
