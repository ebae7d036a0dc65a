package state

import (
	"fmt"
	"math/big"

	fpmath "PerpParity/internal/math"
)

// OpenInterest is the WETH-scaled open interest of a pair.
type OpenInterest struct {
	Long  *big.Int
	Short *big.Int
}

func NewOpenInterest() OpenInterest {
	return OpenInterest{Long: new(big.Int), Short: new(big.Int)}
}

func (oi OpenInterest) Side(side fpmath.Side) *big.Int {
	if side == fpmath.SideLong {
		return oi.Long
	}
	return oi.Short
}

// Add increases side by amount.
func (oi *OpenInterest) Add(side fpmath.Side, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative open interest delta %s", amount)
	}
	target := oi.Side(side)
	target.Add(target, amount)
	return nil
}

// CanRemove reports whether Remove(side, amount) would succeed.
func (oi OpenInterest) CanRemove(side fpmath.Side, amount *big.Int) error {
	if target := oi.Side(side); target.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, removing %s", ErrNegativeOpenInterest, side, target, amount)
	}
	return nil
}

// Remove decreases side by amount; it never goes below zero.
func (oi *OpenInterest) Remove(side fpmath.Side, amount *big.Int) error {
	if err := oi.CanRemove(side, amount); err != nil {
		return err
	}
	target := oi.Side(side)
	target.Sub(target, amount)
	return nil
}

func (oi OpenInterest) Clone() OpenInterest {
	return OpenInterest{
		Long:  new(big.Int).Set(oi.Long),
		Short: new(big.Int).Set(oi.Short),
	}
}

// Equal reports whether both sides match.
func (oi OpenInterest) Equal(other OpenInterest) bool {
	return oi.Long.Cmp(other.Long) == 0 && oi.Short.Cmp(other.Short) == 0
}
