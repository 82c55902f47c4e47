package fixed

import (
	"errors"
	"math"
	"testing"
)

func TestAddSubOverflow(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		a, b    Fixed6
		want    Fixed6
		wantErr bool
	}{
		{name: "simple add", op: "add", a: 100, b: 200, want: 300},
		{name: "add overflow", op: "add", a: math.MaxInt64, b: 1, wantErr: true},
		{name: "add negative ok", op: "add", a: -100, b: 50, want: -50},
		{name: "simple sub", op: "sub", a: 300, b: 200, want: 100},
		{name: "sub underflow", op: "sub", a: math.MinInt64, b: 1, wantErr: true},
		{name: "sub negative result", op: "sub", a: 100, b: 300, want: -200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Fixed6
			var err error
			if tt.op == "add" {
				got, err = Add(tt.a, tt.b)
			} else {
				got, err = Sub(tt.a, tt.b)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrOverflow) {
					t.Fatalf("want ErrOverflow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDivRounding(t *testing.T) {
	// 100.000000 units at $0.200000
	notional, err := Notional(100*One, 200_000)
	if err != nil {
		t.Fatalf("notional: %v", err)
	}
	if notional != 20_000_000 {
		t.Errorf("notional = %d, want 20000000", notional)
	}

	// 7/3 floors vs ceils
	floor, _ := MulDivFloor(7, 1, 3)
	ceil, _ := MulDivCeil(7, 1, 3)
	if floor != 2 || ceil != 3 {
		t.Errorf("floor=%d ceil=%d, want 2 and 3", floor, ceil)
	}

	// exact division: floor == ceil
	f, _ := MulDivFloor(6, 2, 3)
	c, _ := MulDivCeil(6, 2, 3)
	if f != c || f != 4 {
		t.Errorf("exact division: floor=%d ceil=%d, want 4", f, c)
	}
}

func TestMulDivWideIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient fits
	a := Fixed6(5_000_000_000 * One) // 5e9 units
	got, err := MulDivFloor(a, One, One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != a {
		t.Errorf("got %d, want %d", got, a)
	}
}

func TestMulDivOverflow(t *testing.T) {
	if _, err := MulDivFloor(math.MaxInt64, math.MaxInt64, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("want ErrOverflow, got %v", err)
	}
	if _, err := MulDivFloor(-1, 1, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("negative input: want ErrOverflow, got %v", err)
	}
	if _, err := MulDivFloor(1, 1, 0); !errors.Is(err, ErrOverflow) {
		t.Errorf("zero denom: want ErrOverflow, got %v", err)
	}
}

func TestMulDivCeilOverflow(t *testing.T) {
	// 253921 * 145295143558111 == 2^65 - 1, so the floor quotient over 2 is
	// exactly MaxUint64 with a remainder. The ceil increment must report
	// overflow instead of wrapping the quotient to zero.
	got, err := MulDivCeil(253_921, 145_295_143_558_111, 2)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("want ErrOverflow, got %d, %v", got, err)
	}

	// a quotient that lands exactly on MaxInt64 with no remainder is fine
	exact, err := MulDivCeil(math.MaxInt64, 2, 2)
	if err != nil || exact != math.MaxInt64 {
		t.Errorf("exact MaxInt64: got %d, %v", exact, err)
	}
}

func TestFee(t *testing.T) {
	fee, err := Fee(20_000_000, 200)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 400_000 {
		t.Errorf("fee = %d, want 400000", fee)
	}
}

func TestString(t *testing.T) {
	if s := Fixed6(200_000).String(); s != "0.200000" {
		t.Errorf("got %q", s)
	}
	if s := Fixed6(-1_500_000).String(); s != "-1.500000" {
		t.Errorf("got %q", s)
	}
}
