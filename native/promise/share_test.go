package promise

import (
	"math/big"
	"testing"
)

func TestComputeRatio(t *testing.T) {
	ratio, err := ComputeRatio(big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatalf("compute ratio: %v", err)
	}
	expected := new(big.Int).Quo(RatioScale, big.NewInt(2))
	if ratio.Cmp(expected) != 0 {
		t.Fatalf("expected %s, got %s", expected, ratio)
	}

	if _, err := ComputeRatio(big.NewInt(1), big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero denominator")
	}
	if _, err := ComputeRatio(big.NewInt(-1), big.NewInt(2)); err == nil {
		t.Fatalf("expected error for negative numerator")
	}
	if _, err := ComputeRatio(nil, big.NewInt(2)); err == nil {
		t.Fatalf("expected error for nil numerator")
	}
}

func TestWithinBounds(t *testing.T) {
	min := big.NewInt(10)
	max := big.NewInt(20)
	cases := []struct {
		ratio int64
		want  bool
	}{
		{9, false},
		{10, true},
		{15, true},
		{20, true},
		{21, false},
	}
	for _, tc := range cases {
		if got := WithinBounds(big.NewInt(tc.ratio), min, max); got != tc.want {
			t.Fatalf("WithinBounds(%d) = %v, want %v", tc.ratio, got, tc.want)
		}
	}
	if WithinBounds(nil, min, max) {
		t.Fatalf("nil ratio must be out of bounds")
	}
}

func TestComputeFeeRoundsDown(t *testing.T) {
	cases := []struct {
		amount int64
		bps    uint32
		want   int64
	}{
		{10_000, 50, 50},
		{9_999, 50, 49},
		{199, 50, 0},
		{10_000, 0, 0},
		{1, 10_000, 1},
	}
	for _, tc := range cases {
		got := ComputeFee(big.NewInt(tc.amount), tc.bps)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("ComputeFee(%d, %d) = %s, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
	if got := ComputeFee(nil, 50); got.Sign() != 0 {
		t.Fatalf("nil amount must yield zero fee, got %s", got)
	}
}
