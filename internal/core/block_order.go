package core

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned for a new event older than its partition's last
// applied block.
var ErrOutOfOrder = errors.New("out-of-order event")

// BlockOrderValidator enforces non-decreasing block numbers per partition.
// Several logs share a block, so equal blocks are accepted; gaps are normal.
// Not thread-safe; only the core's processing goroutine touches it.
type BlockOrderValidator struct {
	lastBlock  map[string]uint64
	outOfOrder map[string]int64
}

func NewBlockOrderValidator() *BlockOrderValidator {
	return &BlockOrderValidator{
		lastBlock:  make(map[string]uint64),
		outOfOrder: make(map[string]int64),
	}
}

// Check validates block against the partition without advancing it.
// Late duplicates are fine: they are dropped by the caller.
func (v *BlockOrderValidator) Check(partition string, block uint64, isDuplicate bool) error {
	last, seen := v.lastBlock[partition]
	if !seen || block >= last || isDuplicate {
		return nil
	}
	v.outOfOrder[partition]++
	return fmt.Errorf("%w: partition=%s, last=%d, got=%d", ErrOutOfOrder, partition, last, block)
}

// Advance records block as applied.
func (v *BlockOrderValidator) Advance(partition string, block uint64) {
	if block > v.lastBlock[partition] {
		v.lastBlock[partition] = block
		return
	}
	if _, seen := v.lastBlock[partition]; !seen {
		v.lastBlock[partition] = block
	}
}

func (v *BlockOrderValidator) LastBlock(partition string) (uint64, bool) {
	b, ok := v.lastBlock[partition]
	return b, ok
}

func (v *BlockOrderValidator) OutOfOrder(partition string) int64 {
	return v.outOfOrder[partition]
}
