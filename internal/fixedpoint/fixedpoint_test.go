package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestAdd(t *testing.T) {
	cases := []struct {
		name string
		a, b int64
		want int64
	}{
		{"both positive", 5, 3, 8},
		{"mixed positive result", 5, -3, 2},
		{"mixed negative result", -5, 3, -2},
		{"both negative", -5, -3, -8},
		{"cancel to zero", -7, 7, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromInt64(tc.a).Add(FromInt64(tc.b))
			if err != nil {
				t.Fatalf("Add(%d, %d): %v", tc.a, tc.b, err)
			}
			if got.Cmp(FromInt64(tc.want)) != 0 {
				t.Fatalf("Add(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	got, err := FromInt64(3).Sub(FromInt64(5))
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(FromInt64(-2)) != 0 {
		t.Fatalf("3 - 5 = %s, want -2", got)
	}
}

func TestMulSign(t *testing.T) {
	cases := []struct {
		a, b, want int64
	}{
		{3, 4, 12},
		{-3, 4, -12},
		{3, -4, -12},
		{-3, -4, 12},
		{-3, 0, 0},
	}
	for _, tc := range cases {
		got, err := FromInt64(tc.a).Mul(FromInt64(tc.b))
		if err != nil {
			t.Fatalf("Mul(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(FromInt64(tc.want)) != 0 {
			t.Fatalf("Mul(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDivTruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, want int64
	}{
		{7, 2, 3},
		{-7, 2, -3},
		{7, -2, -3},
		{-7, -2, 3},
		{1, 2, 0},
		{-1, 2, 0},
	}
	for _, tc := range cases {
		got, err := FromInt64(tc.a).Div(FromInt64(tc.b))
		if err != nil {
			t.Fatalf("Div(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(FromInt64(tc.want)) != 0 {
			t.Fatalf("Div(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := FromInt64(1).Div(Zero()); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("err = %v, want ErrDivisionByZero", err)
	}
}

func TestOverflow(t *testing.T) {
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if _, err := FromUint(wide); !errors.Is(err, ErrOverflow) {
		t.Fatalf("FromUint(2^128) err = %v, want ErrOverflow", err)
	}

	max, err := FromUint(MaxMagnitude)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := max.Add(FromInt64(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("max+1 err = %v, want ErrOverflow", err)
	}

	big, err := FromUint(new(uint256.Int).Lsh(uint256.NewInt(1), 64))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := big.Mul(big); !errors.Is(err, ErrOverflow) {
		t.Fatalf("2^64 * 2^64 err = %v, want ErrOverflow", err)
	}
}

func TestCmp(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{-1, 0, -1},
		{0, -1, 1},
		{0, 0, 0},
		{-2, -3, 1},
		{-3, -2, -1},
		{2, 3, -1},
		{3, 3, 0},
	}
	for _, tc := range cases {
		if got := FromInt64(tc.a).Cmp(FromInt64(tc.b)); got != tc.want {
			t.Fatalf("Cmp(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestZeroHasNoSign(t *testing.T) {
	sum, err := FromInt64(-5).Add(FromInt64(5))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Sign() != 0 {
		t.Fatalf("sign = %d, want 0", sum.Sign())
	}
	if got := Zero().Neg(); got.Sign() != 0 {
		t.Fatalf("Neg(0) sign = %d, want 0", got.Sign())
	}
	if got := sum.String(); got != "0" {
		t.Fatalf("String() = %q, want \"0\"", got)
	}
}

func TestUnsigned(t *testing.T) {
	if _, err := FromInt64(-1).Unsigned(); !errors.Is(err, ErrNegative) {
		t.Fatalf("err = %v, want ErrNegative", err)
	}
	v, err := FromInt64(42).Unsigned()
	if err != nil {
		t.Fatal(err)
	}
	if v.Uint64() != 42 {
		t.Fatalf("Unsigned() = %s, want 42", v.Dec())
	}
}

func TestString(t *testing.T) {
	if got := FromInt64(-42).String(); got != "-42" {
		t.Fatalf("String() = %q, want \"-42\"", got)
	}
	if got := FromUint64(42).String(); got != "42" {
		t.Fatalf("String() = %q, want \"42\"", got)
	}
}
