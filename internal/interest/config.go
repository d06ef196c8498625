package interest

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CurveParams are the governance-editable constants of one asset's kink
// curve. Utilization thresholds live in (0, Precision]; sensitivities are
// per-second rates in nine-decimal fixed point.
type CurveParams struct {
	// Uopt is the optimal utilization, where the instantaneous slope flips sign.
	Uopt uint64
	// Ucrit is the critical utilization; above it the penalty regime engages.
	Ucrit uint64
	// Ulow is the discount threshold; below it rates are pushed down.
	Ulow uint64
	// Ki scales the integrator drift toward the optimal point.
	Ki uint64
	// Kcrit scales the critical-utilization penalty.
	Kcrit uint64
	// Klow scales the low-utilization discount.
	Klow uint64
	// Klin scales the linear floor the rate can never drop below.
	Klin uint64
	// Beta is the accumulation/decay rate of the critical-time counter.
	Beta uint64
}

// CurveConfig is one asset's full curve state: parameters plus the
// persistent memory mutated by every accrual.
type CurveConfig struct {
	Params CurveParams
	// Ri is the carried-forward instantaneous rate at the last accrual.
	Ri uint256.Int
	// Tcrit accumulates how long utilization has stayed critical.
	Tcrit uint256.Int
}

// DefaultParams returns the curve every new asset starts with.
func DefaultParams() CurveParams {
	return CurveParams{
		Uopt:  700_000_000,
		Ucrit: 850_000_000,
		Ulow:  400_000_000,
		Ki:    367_011,
		Kcrit: 919_583_967_529,
		Klow:  95_129_375_951,
		Klin:  1_585_489_599,
		Beta:  277_778,
	}
}

// Validate enforces the threshold ordering and positivity invariants:
// 0 < Ulow < Uopt < Ucrit <= Precision, Ki > 0, Kcrit > 0.
func (p CurveParams) Validate() error {
	if p.Ulow == 0 || p.Ulow >= p.Uopt {
		return fmt.Errorf("%w: ulow must satisfy 0 < ulow < uopt", ErrInvalidCurveParameters)
	}
	if p.Uopt >= p.Ucrit {
		return fmt.Errorf("%w: uopt must be below ucrit", ErrInvalidCurveParameters)
	}
	if p.Ucrit > Precision {
		return fmt.Errorf("%w: ucrit must not exceed precision", ErrInvalidCurveParameters)
	}
	if p.Ki == 0 {
		return fmt.Errorf("%w: ki must be positive", ErrInvalidCurveParameters)
	}
	if p.Kcrit == 0 {
		return fmt.Errorf("%w: kcrit must be positive", ErrInvalidCurveParameters)
	}
	return nil
}
