package provider

// FeeSchedule is a processor's documented rate: a percentage expressed in
// basis points plus a fixed component in minor units (the familiar
// "2.9% + $0.30" structure).
type FeeSchedule struct {
	PercentBasisPoints int64
	FixedMinor         int64
}

// FeeCalculation is the derived fee breakdown for one charge. Pure value,
// never persisted independently.
type FeeCalculation struct {
	PercentBasisPoints int64 `json:"percent_basis_points"`
	FixedMinor         int64 `json:"fixed_minor"`
	PercentageMinor    int64 `json:"percentage_minor"`
	TotalFeeMinor      int64 `json:"total_fee_minor"`
	TotalChargeMinor   int64 `json:"total_charge_minor"`
}

// Calculate computes the fee for amountMinor under the schedule. The
// percentage component rounds half up to the smallest currency unit.
// When the donor covers the fee, the total charge is the donation plus
// the fee; otherwise the fee comes out of the donation.
func (s FeeSchedule) Calculate(amountMinor int64, donorCoversFee bool) FeeCalculation {
	// Round half up: add half the divisor before integer division.
	percentage := (amountMinor*s.PercentBasisPoints + 5000) / 10000
	fee := percentage + s.FixedMinor

	total := amountMinor
	if donorCoversFee {
		total = amountMinor + fee
	}

	return FeeCalculation{
		PercentBasisPoints: s.PercentBasisPoints,
		FixedMinor:         s.FixedMinor,
		PercentageMinor:    percentage,
		TotalFeeMinor:      fee,
		TotalChargeMinor:   total,
	}
}

// Default schedules per processor, overridable through configuration.
var (
	DefaultStripeFees = FeeSchedule{PercentBasisPoints: 290, FixedMinor: 30}
	DefaultAdyenFees  = FeeSchedule{PercentBasisPoints: 220, FixedMinor: 13}
	DefaultPayPalFees = FeeSchedule{PercentBasisPoints: 289, FixedMinor: 49}
)
