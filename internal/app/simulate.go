package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"lending-rate-engine/internal/interest"
)

const secondsPerYear = 31_556_926

// Simulate runs the kernel offline: a fixed pool snapshot accrued over a
// number of equal steps, printing the factor and the curve memory after
// each one. No storage or RPC is touched.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Steps <= 0 {
		return errors.New("--steps must be greater than zero")
	}
	if opts.Step <= 0 {
		return errors.New("--step must be greater than zero")
	}

	deposits, err := uint256.FromDecimal(opts.Deposits)
	if err != nil {
		return fmt.Errorf("invalid --deposits value: %w", err)
	}
	borrows, err := uint256.FromDecimal(opts.Borrows)
	if err != nil {
		return fmt.Errorf("invalid --borrows value: %w", err)
	}

	key := opts.AssetKey
	if key == "" {
		key = "sim"
	}

	registry, cap := interest.NewRegistry("simulate", interest.NopObserver{}, a.Logger)
	if err := registry.NewAsset(cap, key); err != nil {
		return err
	}

	util := interest.Utilization(deposits, borrows)
	fmt.Fprintf(os.Stdout, "asset=%s deposits=%s borrows=%s utilization=%s\n\n",
		key, deposits.Dec(), borrows.Dec(), formatRatio(util))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Step\tElapsed\tRcomp\tAPR%\tRi\tTcrit\tOverflow")

	stepSecs := int64(opts.Step / time.Second)
	now := uint64(0)
	for i := 1; i <= opts.Steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		last := now
		now += uint64(opts.Step / time.Microsecond)

		res, err := registry.Accrue(key, interest.AccrualSample{
			TotalDeposits: deposits,
			TotalBorrows:  borrows,
			LastUpdated:   last,
			Now:           now,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%v\n",
			i,
			(time.Duration(i) * opts.Step).String(),
			res.Rcomp.Dec(),
			annualizedPct(&res.Rcomp, stepSecs).StringFixed(4),
			res.Ri.Dec(),
			res.Tcrit.Dec(),
			res.Overflow,
		)
	}

	return writer.Flush()
}

// annualizedPct extrapolates a per-window compounding factor to a simple
// annual percentage rate.
func annualizedPct(rcomp *uint256.Int, windowSecs int64) decimal.Decimal {
	if windowSecs <= 0 {
		return decimal.Zero
	}
	factor := decimal.RequireFromString(rcomp.Dec())
	scale := decimal.NewFromInt(int64(interest.Precision))
	return factor.Div(scale).
		Mul(decimal.NewFromInt(secondsPerYear)).
		Div(decimal.NewFromInt(windowSecs)).
		Mul(decimal.NewFromInt(100))
}

func formatRatio(scaled uint64) string {
	return decimal.New(int64(scaled), -9).StringFixed(4)
}
