package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// ContractCaller is the subset of ethclient.Client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Addresses are the contracts whose getters are read.
type Addresses struct {
	Borrowing   common.Address
	Vault       common.Address
	OpenPnlFeed common.Address
}

// EpochSnapshot is the vault and open-PnL feed state at one block.
type EpochSnapshot struct {
	CurrentEpoch                uint64
	CurrentEpochPositiveOpenPnl *big.Int
	NextEpochValuesRequestCount uint64
	NextEpochValues             []*big.Int
}

// Reader calls contract view functions pinned to a block.
type Reader struct {
	caller ContractCaller
	addrs  Addresses
	abi    abi.ABI
}

func NewReader(caller ContractCaller, addrs Addresses) *Reader {
	return &Reader{caller: caller, addrs: addrs, abi: ParityABI}
}

func (r *Reader) call(ctx context.Context, to common.Address, block uint64, method string, params ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := r.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (r *Reader) callBig(ctx context.Context, to common.Address, block uint64, method string, params ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, to, block, method, params...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output %T", method, out[0])
	}
	return v, nil
}

// OpenInterest returns the pair's long and short open interest in WETH.
func (r *Reader) OpenInterest(ctx context.Context, pairIndex uint64, block uint64) (long, short *big.Int, err error) {
	out, err := r.call(ctx, r.addrs.Borrowing, block, methodPairOpenInterest, new(big.Int).SetUint64(pairIndex))
	if err != nil {
		return nil, nil, err
	}
	long, ok1 := out[0].(*big.Int)
	short, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("%s: unexpected outputs %T, %T", methodPairOpenInterest, out[0], out[1])
	}
	return long, short, nil
}

// Epoch reads the epoch getters. nextEpochValues has no length getter, so
// indices are read until the first revert, bounded by the request count.
func (r *Reader) Epoch(ctx context.Context, block uint64) (*EpochSnapshot, error) {
	epoch, err := r.callBig(ctx, r.addrs.Vault, block, methodCurrentEpoch)
	if err != nil {
		return nil, err
	}
	positive, err := r.callBig(ctx, r.addrs.Vault, block, methodPositiveOpenPnl)
	if err != nil {
		return nil, err
	}
	count, err := r.callBig(ctx, r.addrs.OpenPnlFeed, block, methodRequestCount)
	if err != nil {
		return nil, err
	}

	snap := &EpochSnapshot{
		CurrentEpoch:                epoch.Uint64(),
		CurrentEpochPositiveOpenPnl: positive,
		NextEpochValuesRequestCount: count.Uint64(),
	}
	for i := uint64(0); i < snap.NextEpochValuesRequestCount; i++ {
		v, err := r.callBig(ctx, r.addrs.OpenPnlFeed, block, methodNextEpochValues, new(big.Int).SetUint64(i))
		if err != nil {
			if IsRevert(err) {
				break
			}
			return nil, err
		}
		snap.NextEpochValues = append(snap.NextEpochValues, v)
	}
	return snap, nil
}

// IsRevert reports whether err is an execution revert rather than a
// transport failure.
func IsRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}
