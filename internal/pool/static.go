package pool

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// Static serves fixed pool aggregates, timestamped at call time. Used by
// the simulate command and in tests.
type Static struct {
	TotalDeposits *uint256.Int
	TotalBorrows  *uint256.Int

	// Clock overrides the wall clock when set.
	Clock func() time.Time
}

// FetchState returns the configured aggregates with a fresh timestamp.
func (s *Static) FetchState(_ context.Context, _ Binding) (State, error) {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	return State{
		TotalDeposits: new(uint256.Int).Set(s.TotalDeposits),
		TotalBorrows:  new(uint256.Int).Set(s.TotalBorrows),
		Timestamp:     uint64(now().UnixMicro()),
	}, nil
}

var _ StateFetcher = (*Static)(nil)
