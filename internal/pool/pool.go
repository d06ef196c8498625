package pool

import (
	"context"

	"github.com/holiman/uint256"
)

// Binding ties an asset key to its on-chain pool contract.
type Binding struct {
	Key      string
	Contract string
}

// State is one pool snapshot: aggregate amounts plus the moment they were
// observed, as a microsecond-resolution timestamp.
type State struct {
	TotalDeposits *uint256.Int
	TotalBorrows  *uint256.Int
	Timestamp     uint64
	BlockNumber   uint64
}

// StateFetcher retrieves the current pool state for an asset.
type StateFetcher interface {
	FetchState(ctx context.Context, binding Binding) (State, error)
}
