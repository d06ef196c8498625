package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Precision is the fixed-point scale: values carry nine decimal places.
const Precision uint64 = 1_000_000_000

var (
	// ErrOverflow indicates a result magnitude that does not fit 128 bits.
	ErrOverflow = errors.New("fixedpoint: magnitude overflows 128 bits")
	// ErrDivisionByZero indicates division by a zero divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNegative indicates a negative value where an unsigned one is required.
	ErrNegative = errors.New("fixedpoint: negative value has no unsigned form")
)

// MaxMagnitude is 2^128-1, the largest representable magnitude.
var MaxMagnitude = uint256.MustFromHex("0xFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")

// Signed is a nine-decimal fixed-point rational held as a sign and an
// unsigned 128-bit magnitude. The zero value is 0. Operations never wrap:
// anything that would exceed 128 bits of magnitude returns ErrOverflow.
type Signed struct {
	neg bool
	mag uint256.Int
}

// FromUint64 builds a non-negative value from a raw scaled magnitude.
func FromUint64(v uint64) Signed {
	var s Signed
	s.mag.SetUint64(v)
	return s
}

// FromInt64 builds a value from a raw scaled signed magnitude.
func FromInt64(v int64) Signed {
	var s Signed
	if v < 0 {
		s.neg = true
		s.mag.SetUint64(uint64(-v))
		return s
	}
	s.mag.SetUint64(uint64(v))
	return s
}

// FromUint builds a non-negative value from an unsigned magnitude,
// rejecting anything wider than 128 bits.
func FromUint(v *uint256.Int) (Signed, error) {
	if v.BitLen() > 128 {
		return Signed{}, ErrOverflow
	}
	var s Signed
	s.mag.Set(v)
	return s, nil
}

// Zero returns the zero value.
func Zero() Signed { return Signed{} }

// Sign reports -1, 0, or 1.
func (s Signed) Sign() int {
	if s.mag.IsZero() {
		return 0
	}
	if s.neg {
		return -1
	}
	return 1
}

// IsZero reports whether the value is exactly zero.
func (s Signed) IsZero() bool { return s.mag.IsZero() }

// Neg returns the additive inverse.
func (s Signed) Neg() Signed {
	if s.mag.IsZero() {
		return Signed{}
	}
	s.neg = !s.neg
	return s
}

// Abs returns the absolute value.
func (s Signed) Abs() Signed {
	s.neg = false
	return s
}

// Magnitude returns a copy of the unsigned magnitude.
func (s Signed) Magnitude() *uint256.Int {
	return new(uint256.Int).Set(&s.mag)
}

// Unsigned converts to an unsigned magnitude, failing for negative values.
func (s Signed) Unsigned() (*uint256.Int, error) {
	if s.Sign() < 0 {
		return nil, ErrNegative
	}
	return new(uint256.Int).Set(&s.mag), nil
}

// Uint64 returns the magnitude as a uint64; callers must know it fits.
func (s Signed) Uint64() uint64 { return s.mag.Uint64() }

// Cmp three-way compares s against o.
func (s Signed) Cmp(o Signed) int {
	ss, os := s.Sign(), o.Sign()
	switch {
	case ss < os:
		return -1
	case ss > os:
		return 1
	case ss == 0:
		return 0
	case ss > 0:
		return s.mag.Cmp(&o.mag)
	default:
		return o.mag.Cmp(&s.mag)
	}
}

// Add returns s+o. The result sign follows the operand with the larger
// magnitude.
func (s Signed) Add(o Signed) (Signed, error) {
	var out Signed
	if s.neg == o.neg {
		out.neg = s.neg
		out.mag.Add(&s.mag, &o.mag)
		if out.mag.BitLen() > 128 {
			return Signed{}, ErrOverflow
		}
		return out.normalize(), nil
	}
	switch s.mag.Cmp(&o.mag) {
	case 0:
		return Signed{}, nil
	case 1:
		out.neg = s.neg
		out.mag.Sub(&s.mag, &o.mag)
	default:
		out.neg = o.neg
		out.mag.Sub(&o.mag, &s.mag)
	}
	return out, nil
}

// Sub returns s-o.
func (s Signed) Sub(o Signed) (Signed, error) {
	return s.Add(o.Neg())
}

// Mul returns s*o, negative iff operand signs differ.
func (s Signed) Mul(o Signed) (Signed, error) {
	var out Signed
	// 128-bit by 128-bit products fit 256 bits, so Mul cannot wrap here.
	out.mag.Mul(&s.mag, &o.mag)
	if out.mag.BitLen() > 128 {
		return Signed{}, ErrOverflow
	}
	out.neg = s.neg != o.neg
	return out.normalize(), nil
}

// Div returns s/o truncated toward zero, negative iff operand signs differ.
func (s Signed) Div(o Signed) (Signed, error) {
	if o.mag.IsZero() {
		return Signed{}, ErrDivisionByZero
	}
	var out Signed
	out.mag.Div(&s.mag, &o.mag)
	out.neg = s.neg != o.neg
	return out.normalize(), nil
}

// String renders the raw scaled value with an optional leading minus.
func (s Signed) String() string {
	if s.Sign() < 0 {
		return "-" + s.mag.Dec()
	}
	return s.mag.Dec()
}

func (s Signed) normalize() Signed {
	if s.mag.IsZero() {
		s.neg = false
	}
	return s
}
