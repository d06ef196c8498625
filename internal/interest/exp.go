package interest

import (
	"github.com/holiman/uint256"

	"lending-rate-engine/internal/fixedpoint"
)

const (
	// Precision mirrors the fixed-point scale used across the engine.
	Precision = fixedpoint.Precision

	// log2E is log2(e) in nine-decimal fixed point, used to convert natural
	// exponents into binary ones.
	log2E uint64 = 1_442_695_040

	// XMax is the largest exponent one compounding step may reach before the
	// factor saturates; e^XMax just exceeds RcompMax/Precision + 1.
	XMax uint64 = 11_090_370_148

	// RcompMax caps a single compounding step's growth at 2^16 in
	// nine-decimal fixed point.
	RcompMax uint64 = 65_536_000_000_000
)

var (
	precision256 = uint256.NewInt(Precision)
	log2E256     = uint256.NewInt(log2E)
	// precisionSq is Precision^2, the numerator for reciprocal exponents.
	precisionSq = new(uint256.Int).Mul(precision256, precision256)
)

// exp2Coefficients[i] is 2^(2^-(i+1)) in 64.64 fixed point, rounded to
// nearest. Iterating them against the fractional bits of the exponent,
// most significant first, accumulates 2^frac one factor at a time.
var exp2Coefficients = func() [62]*uint256.Int {
	hexes := [62]string{
		"0x16A09E667F3BCC909", "0x1306FE0A31B7152DF",
		"0x1172B83C7D517ADCE", "0x10B5586CF9890F62A",
		"0x1059B0D31585743AE", "0x102C9A3E778060EE7",
		"0x10163DA9FB33356D8", "0x100B1AFA5ABCBED61",
		"0x10058C86DA1C09EA2", "0x1002C605E2E8CEC50",
		"0x100162F3904051FA1", "0x1000B175EFFDC76BA",
		"0x100058BA01FB9F96D", "0x10002C5CC37DA9492",
		"0x1000162E525EE0547", "0x10000B17255775C04",
		"0x1000058B91B5BC9AE", "0x100002C5C89D5EC6D",
		"0x10000162E43F4F831", "0x100000B1721BCFC9A",
		"0x10000058B90CF1E6E", "0x1000002C5C863B73F",
		"0x100000162E430E5A2", "0x1000000B172183551",
		"0x100000058B90C0B49", "0x10000002C5C8601CC",
		"0x1000000162E42FFF0", "0x10000000B17217FBB",
		"0x1000000058B90BFCE", "0x100000002C5C85FE3",
		"0x10000000162E42FF1", "0x100000000B17217F8",
		"0x10000000058B90BFC", "0x1000000002C5C85FE",
		"0x100000000162E42FF", "0x1000000000B17217F",
		"0x100000000058B90C0", "0x10000000002C5C860",
		"0x1000000000162E430", "0x10000000000B17218",
		"0x1000000000058B90C", "0x100000000002C5C86",
		"0x10000000000162E43", "0x100000000000B1721",
		"0x10000000000058B91", "0x1000000000002C5C8",
		"0x100000000000162E4", "0x1000000000000B172",
		"0x100000000000058B9", "0x10000000000002C5D",
		"0x1000000000000162E", "0x10000000000000B17",
		"0x1000000000000058C", "0x100000000000002C6",
		"0x10000000000000163", "0x100000000000000B1",
		"0x10000000000000059", "0x1000000000000002C",
		"0x10000000000000016", "0x1000000000000000B",
		"0x10000000000000006", "0x10000000000000003",
	}
	var out [62]*uint256.Int
	for i, h := range hexes {
		out[i] = uint256.MustFromHex(h)
	}
	return out
}()

// Exp2 raises 2 to x, where x is an unsigned nine-decimal fixed-point
// exponent. The exponent is widened to 64.64, the fractional bits are
// consumed against the coefficient table, the integer bits become a left
// shift, and the 64.64 result is rescaled back to nine decimals. Exponents
// with an integer part of 192 or more are out of the supported domain, and
// results that do not fit a 128-bit magnitude fail with ErrOverflow.
func Exp2(x *uint256.Int) (*uint256.Int, error) {
	if x.BitLen() > 128 {
		return nil, ErrExpOutOfRange
	}
	xq := new(uint256.Int).Lsh(x, 64)
	xq.Div(xq, precision256)

	intPart := new(uint256.Int).Rsh(xq, 64)
	if !intPart.LtUint64(192) {
		return nil, ErrExpOutOfRange
	}
	frac := xq.Uint64()

	result := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	for i, c := range exp2Coefficients {
		if frac&(uint64(1)<<uint(63-i)) != 0 {
			result.Mul(result, c)
			result.Rsh(result, 64)
		}
	}
	result.Lsh(result, uint(intPart.Uint64()))

	// Beyond 192 bits the rescaled value cannot fit 128 bits anyway, and
	// multiplying by the scale first would wrap the 256-bit intermediate.
	if result.BitLen() > 192 {
		return nil, fixedpoint.ErrOverflow
	}
	result.Mul(result, precision256)
	result.Rsh(result, 64)
	if result.BitLen() > 128 {
		return nil, fixedpoint.ErrOverflow
	}
	return result, nil
}

// Exp computes e^x (positive true) or e^-x (positive false) for an unsigned
// nine-decimal magnitude x, by change of base through Exp2. The negative
// direction underflows to zero, never errors: once e^x exceeds Precision,
// its reciprocal is indistinguishable from zero at this scale.
func Exp(x *uint256.Int, positive bool) (*uint256.Int, error) {
	xb := new(uint256.Int).Mul(x, log2E256)
	xb.AddUint64(xb, Precision/2)
	xb.Div(xb, precision256)

	if positive {
		return Exp2(xb)
	}

	// 2^64 is already far past the underflow threshold; skip Exp2 so very
	// large reciprocal exponents return zero instead of a range error.
	if !xb.LtUint64(64 * Precision) {
		return uint256.NewInt(0), nil
	}
	e, err := Exp2(xb)
	if err != nil {
		return nil, err
	}
	if e.Gt(precisionSq) {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Div(precisionSq, e), nil
}
