package state

import "errors"

var (
	ErrUnknownPair          = errors.New("unknown pair")
	ErrUnknownPosition      = errors.New("unknown position")
	ErrDuplicatePosition    = errors.New("position already open")
	ErrNegativeOpenInterest = errors.New("open interest would go negative")
	ErrBlockRegression      = errors.New("block number went backwards")
)
