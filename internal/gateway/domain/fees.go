package domain

import "math"

// FeePricing is a processor's pricing model: a fixed fee in cents plus a
// percentage of the gross charge. MaxFee, when non-zero, caps the computed
// fee (transfer-style methods).
type FeePricing struct {
	Fixed   int64   `json:"fixed"`
	Percent float64 `json:"percent"`
	MaxFee  int64   `json:"max_fee,omitempty"`
}

// CalculateFee returns the extra fee in cents a donor must cover so that the
// tenant nets amount after the processor takes its cut:
//
//	fee = round((amount + fixed) / (1 - percent)) - amount
func CalculateFee(amount int64, pricing FeePricing) int64 {
	if amount <= 0 || pricing.Percent < 0 || pricing.Percent >= 1 {
		return 0
	}

	gross := (float64(amount) + float64(pricing.Fixed)) / (1 - pricing.Percent)
	fee := int64(math.Round(gross)) - amount
	if fee < 0 {
		fee = 0
	}
	if pricing.MaxFee > 0 && fee > pricing.MaxFee {
		fee = pricing.MaxFee
	}
	return fee
}
