package interest

import (
	"github.com/holiman/uint256"

	"lending-rate-engine/internal/fixedpoint"
)

const microsPerSecond = 1_000_000

// AccrualSample is the pool snapshot one accrual consumes: aggregate
// amounts plus the window boundaries in microsecond-resolution timestamps.
type AccrualSample struct {
	TotalDeposits *uint256.Int
	TotalBorrows  *uint256.Int
	LastUpdated   uint64
	Now           uint64
}

// CompoundResult is the outcome of one accrual: the compounding factor to
// apply to outstanding borrows, the updated curve memory, and whether the
// factor saturated or was rescaled to stay representable.
type CompoundResult struct {
	Rcomp    uint256.Int
	Ri       uint256.Int
	Tcrit    uint256.Int
	Overflow bool
}

// Accrue advances key's curve over the sample window and commits the
// updated memory. It is the sole state transition for Ri/Tcrit. Fatal
// errors leave the curve untouched; a saturated factor is data, not an
// error, and still commits.
func (r *Registry) Accrue(key string, sample AccrualSample) (CompoundResult, error) {
	if sample.Now < sample.LastUpdated {
		return CompoundResult{}, ErrInvalidTimestamp
	}
	if sample.TotalDeposits.BitLen() > 128 || sample.TotalBorrows.BitLen() > 128 {
		return CompoundResult{}, fixedpoint.ErrOverflow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.assets[key]
	if !ok {
		return CompoundResult{}, ErrUnknownAsset
	}

	res, err := compound(cfg.Params, &cfg.Ri, &cfg.Tcrit, sample)
	if err != nil {
		return CompoundResult{}, err
	}

	cfg.Ri.Set(&res.Ri)
	cfg.Tcrit.Set(&res.Tcrit)

	r.logger.Debug().
		Str("asset", key).
		Str("rcomp", res.Rcomp.Dec()).
		Bool("overflow", res.Overflow).
		Msg("interest accrued")
	return res, nil
}

// Utilization is borrows scaled against deposits, zero for an empty side
// and clamped to Precision so the curve domain holds even when the
// caller's bookkeeping momentarily has borrows above deposits.
func Utilization(deposits, borrows *uint256.Int) uint64 {
	if deposits.IsZero() || borrows.IsZero() {
		return 0
	}
	u := new(uint256.Int).Mul(borrows, precision256)
	u.Div(u, deposits)
	if !u.LtUint64(Precision) {
		return Precision
	}
	return u.Uint64()
}

// calc chains fixed-point operations, remembering the first failure so the
// formulas below read like the math they implement.
type calc struct{ err error }

func (c *calc) add(a, b fixedpoint.Signed) fixedpoint.Signed {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	v, err := a.Add(b)
	c.err = err
	return v
}

func (c *calc) sub(a, b fixedpoint.Signed) fixedpoint.Signed {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	v, err := a.Sub(b)
	c.err = err
	return v
}

func (c *calc) mul(a, b fixedpoint.Signed) fixedpoint.Signed {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	v, err := a.Mul(b)
	c.err = err
	return v
}

func (c *calc) div(a, b fixedpoint.Signed) fixedpoint.Signed {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	v, err := a.Div(b)
	c.err = err
	return v
}

func maxOf(a, b fixedpoint.Signed) fixedpoint.Signed {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// compound runs the accrual algorithm over one window.
//
// The instantaneous rate is modelled as a line r(t) = r0 + slope*t with a
// hard floor rlin; the exponent x is the closed-form integral of the
// clamped line, and the factor is e^x. Above Ucrit the penalty term grows
// with the accumulated critical time, and the critical counter itself
// rises by Beta per second; below Ucrit it decays the same way, never
// under zero. Once x reaches XMax the factor saturates at RcompMax and the
// memory is reset rather than carried into an unstable regime.
func compound(params CurveParams, ri, tcrit *uint256.Int, sample AccrualSample) (CompoundResult, error) {
	var res CompoundResult
	res.Ri.Set(ri)
	res.Tcrit.Set(tcrit)

	elapsed := (sample.Now - sample.LastUpdated) / microsPerSecond
	if elapsed == 0 {
		return res, nil
	}

	riPrev, err := fixedpoint.FromUint(ri)
	if err != nil {
		return CompoundResult{}, err
	}
	tcritPrev, err := fixedpoint.FromUint(tcrit)
	if err != nil {
		return CompoundResult{}, err
	}

	var (
		cl    calc
		u     = Utilization(sample.TotalDeposits, sample.TotalBorrows)
		uS    = fixedpoint.FromUint64(u)
		uopt  = fixedpoint.FromUint64(params.Uopt)
		ucrit = fixedpoint.FromUint64(params.Ucrit)
		ulow  = fixedpoint.FromUint64(params.Ulow)
		ki    = fixedpoint.FromUint64(params.Ki)
		kcrit = fixedpoint.FromUint64(params.Kcrit)
		klow  = fixedpoint.FromUint64(params.Klow)
		klin  = fixedpoint.FromUint64(params.Klin)
		beta  = fixedpoint.FromUint64(params.Beta)
		prec  = fixedpoint.FromUint64(Precision)
		two   = fixedpoint.FromUint64(2)
		tSecs = fixedpoint.FromUint64(elapsed)
	)

	slopeI := cl.div(cl.mul(ki, cl.sub(uS, uopt)), prec)

	rp := fixedpoint.Zero()
	slope := slopeI
	var tcritNext fixedpoint.Signed
	if u > params.Ucrit {
		excess := cl.sub(uS, ucrit)
		rp = cl.div(cl.mul(cl.div(cl.mul(kcrit, cl.add(prec, tcritPrev)), prec), excess), prec)
		slope = cl.add(slopeI, cl.div(cl.mul(cl.div(cl.mul(kcrit, beta), prec), excess), prec))
		tcritNext = cl.add(tcritPrev, cl.mul(beta, tSecs))
	} else {
		if u < params.Ulow {
			rp = cl.div(cl.mul(klow, cl.sub(uS, ulow)), prec)
		}
		tcritNext = cl.sub(tcritPrev, cl.mul(beta, tSecs))
		if tcritNext.Sign() < 0 {
			tcritNext = fixedpoint.Zero()
		}
	}

	rlin := cl.div(cl.mul(klin, uS), prec)
	riStart := maxOf(riPrev, rlin)
	r0 := cl.add(riStart, rp)
	r1 := cl.add(r0, cl.mul(slope, tSecs))

	var x fixedpoint.Signed
	switch {
	case r0.Cmp(rlin) >= 0 && r1.Cmp(rlin) >= 0:
		x = cl.div(cl.mul(cl.add(r0, r1), tSecs), two)
	case r0.Cmp(rlin) < 0 && r1.Cmp(rlin) < 0:
		x = cl.mul(rlin, tSecs)
	case r0.Cmp(rlin) >= 0:
		over := cl.sub(r0, rlin)
		x = cl.sub(cl.mul(rlin, tSecs), cl.div(cl.div(cl.mul(over, over), slope), two))
	default:
		over := cl.sub(r1, rlin)
		x = cl.add(cl.mul(rlin, tSecs), cl.div(cl.div(cl.mul(over, over), slope), two))
	}
	x = cl.div(x, prec)

	riNext := maxOf(cl.add(riStart, cl.mul(slopeI, tSecs)), rlin)
	if cl.err != nil {
		return CompoundResult{}, cl.err
	}

	res = CompoundResult{}
	if x.Cmp(fixedpoint.FromUint64(XMax)) >= 0 {
		// The model deliberately forgets its memory here: carrying Ri and
		// Tcrit past a saturated step would compound an unstable state.
		res.Rcomp.SetUint64(RcompMax)
		res.Overflow = true
	} else {
		factor, err := Exp(x.Magnitude(), x.Sign() >= 0)
		if err != nil {
			return CompoundResult{}, err
		}
		if factor.GtUint64(Precision) {
			res.Rcomp.Sub(factor, precision256)
			if res.Rcomp.GtUint64(RcompMax) {
				res.Rcomp.SetUint64(RcompMax)
			}
		}
		riOut, err := riNext.Unsigned()
		if err != nil {
			return CompoundResult{}, err
		}
		tcritOut, err := tcritNext.Unsigned()
		if err != nil {
			return CompoundResult{}, err
		}
		res.Ri.Set(riOut)
		res.Tcrit.Set(tcritOut)
	}

	clampRcomp(&res, sample.TotalBorrows)
	return res, nil
}

// clampRcomp rescales the factor down when applying it to the outstanding
// borrows would leave the pool's accounting outside 128 bits.
func clampRcomp(res *CompoundResult, borrows *uint256.Int) {
	if borrows.IsZero() || res.Rcomp.IsZero() {
		return
	}
	interest := new(uint256.Int).Mul(borrows, &res.Rcomp)
	interest.Div(interest, precision256)
	headroom := new(uint256.Int).Sub(fixedpoint.MaxMagnitude, borrows)
	if interest.Gt(headroom) {
		res.Rcomp.Mul(headroom, precision256)
		res.Rcomp.Div(&res.Rcomp, borrows)
		res.Overflow = true
	}
}
