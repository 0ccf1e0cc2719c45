package domain_test

import (
	"math"
	"testing"

	"github.com/steeplehq/giving/internal/gateway/domain"
)

func TestCalculateFeeCoversProcessorCut(t *testing.T) {
	pricing := domain.FeePricing{Fixed: 30, Percent: 0.029}

	// The tenant must net the original amount after the processor takes
	// percent of the grossed-up total plus the fixed fee.
	for _, amount := range []int64{1, 50, 100, 2500, 9999, 100000, 25_000_00} {
		fee := domain.CalculateFee(amount, pricing)
		total := amount + fee

		net := float64(total)*(1-pricing.Percent) - float64(pricing.Fixed)
		if diff := math.Abs(net - float64(amount)); diff > 1 {
			t.Fatalf("amount %d: fee %d nets %.2f, off by %.2f cents", amount, fee, net, diff)
		}
	}
}

func TestCalculateFeeKnownValues(t *testing.T) {
	cases := []struct {
		amount  int64
		pricing domain.FeePricing
		want    int64
	}{
		{2500, domain.FeePricing{Fixed: 30, Percent: 0.029}, 106},
		{10000, domain.FeePricing{Fixed: 30, Percent: 0.029}, 330},
		{2500, domain.FeePricing{Fixed: 49, Percent: 0.0349}, 141},
	}
	for _, tc := range cases {
		if got := domain.CalculateFee(tc.amount, tc.pricing); got != tc.want {
			t.Fatalf("amount %d pricing %+v: got %d, want %d", tc.amount, tc.pricing, got, tc.want)
		}
	}
}

func TestCalculateFeeMaxCap(t *testing.T) {
	pricing := domain.FeePricing{Fixed: 0, Percent: 0.008, MaxFee: 500}

	if got := domain.CalculateFee(10000, pricing); got != 81 {
		t.Fatalf("below cap: got %d, want 81", got)
	}
	if got := domain.CalculateFee(10_000_00, pricing); got != 500 {
		t.Fatalf("capped: got %d, want 500", got)
	}
}

func TestCalculateFeeGuards(t *testing.T) {
	if got := domain.CalculateFee(0, domain.FeePricing{Fixed: 30, Percent: 0.029}); got != 0 {
		t.Fatalf("zero amount: got %d", got)
	}
	if got := domain.CalculateFee(-100, domain.FeePricing{Fixed: 30, Percent: 0.029}); got != 0 {
		t.Fatalf("negative amount: got %d", got)
	}
	if got := domain.CalculateFee(100, domain.FeePricing{Percent: 1.5}); got != 0 {
		t.Fatalf("invalid percent: got %d", got)
	}
}
