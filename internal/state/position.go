package state

import (
	"fmt"
	"math/big"
	"sort"

	fpmath "PerpParity/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// PositionKey identifies a trade the way the trading storage does.
type PositionKey struct {
	Trader    common.Address
	PairIndex uint64
	Index     uint64
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Trader.Hex(), k.PairIndex, k.Index)
}

// Position is an open trade with its accumulator snapshots taken at entry.
type Position struct {
	Trader            common.Address
	PairIndex         uint64
	Index             uint64
	Collateral        *big.Int // WETH, 1e18
	Leverage          uint64
	Buy               bool
	OpenPrice         *big.Int // 1e10
	InitialPairAccFee *big.Int // borrowing accumulator of its side at entry
	Funding           *big.Int // funding accumulator of its side at entry
	OpenBlock         uint64
	OpenTime          int64
}

func (p *Position) Key() PositionKey {
	return PositionKey{Trader: p.Trader, PairIndex: p.PairIndex, Index: p.Index}
}

func (p *Position) Side() fpmath.Side {
	return fpmath.SideFromBuy(p.Buy)
}

// Size is the position's open interest contribution: collateral * leverage.
func (p *Position) Size() *big.Int {
	return new(big.Int).Mul(p.Collateral, fpmath.Uint(p.Leverage))
}

// PositionBook holds the open positions.
type PositionBook struct {
	positions map[PositionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[PositionKey]*Position),
	}
}

func (b *PositionBook) Get(key PositionKey) (*Position, bool) {
	p, ok := b.positions[key]
	return p, ok
}

func (b *PositionBook) Insert(p *Position) error {
	key := p.Key()
	if _, exists := b.positions[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, key)
	}
	b.positions[key] = p
	return nil
}

func (b *PositionBook) Remove(key PositionKey) (*Position, error) {
	p, ok := b.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, key)
	}
	delete(b.positions, key)
	return p, nil
}

func (b *PositionBook) Len() int {
	return len(b.positions)
}

// ByPair returns the open positions of a pair ordered by trader then index.
func (b *PositionBook) ByPair(pairIndex uint64) []*Position {
	var out []*Position
	for _, p := range b.positions {
		if p.PairIndex == pairIndex {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trader != out[j].Trader {
			return out[i].Trader.Cmp(out[j].Trader) < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}
