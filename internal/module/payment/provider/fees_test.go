package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeScheduleCalculate(t *testing.T) {
	tests := []struct {
		name           string
		schedule       FeeSchedule
		amount         int64
		donorCoversFee bool
		wantFee        int64
		wantTotal      int64
	}{
		{
			name:           "stripe style 50 dollar donation donor covers",
			schedule:       FeeSchedule{PercentBasisPoints: 290, FixedMinor: 30},
			amount:         5000,
			donorCoversFee: true,
			wantFee:        175,
			wantTotal:      5175,
		},
		{
			name:           "stripe style donor does not cover",
			schedule:       FeeSchedule{PercentBasisPoints: 290, FixedMinor: 30},
			amount:         5000,
			donorCoversFee: false,
			wantFee:        175,
			wantTotal:      5000,
		},
		{
			name:           "rounds half up",
			schedule:       FeeSchedule{PercentBasisPoints: 250, FixedMinor: 0},
			amount:         101, // 2.525 cents
			donorCoversFee: false,
			wantFee:        3,
			wantTotal:      101,
		},
		{
			name:           "rounds down below half",
			schedule:       FeeSchedule{PercentBasisPoints: 250, FixedMinor: 0},
			amount:         99, // 2.475 cents
			donorCoversFee: false,
			wantFee:        2,
			wantTotal:      99,
		},
		{
			name:           "one cent donation",
			schedule:       FeeSchedule{PercentBasisPoints: 290, FixedMinor: 30},
			amount:         1,
			donorCoversFee: true,
			wantFee:        30,
			wantTotal:      31,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.schedule.Calculate(tt.amount, tt.donorCoversFee)
			assert.Equal(t, tt.wantFee, got.TotalFeeMinor)
			assert.Equal(t, tt.wantTotal, got.TotalChargeMinor)
			assert.Equal(t, got.PercentageMinor+got.FixedMinor, got.TotalFeeMinor)
		})
	}
}

func TestFeeScheduleDeterministic(t *testing.T) {
	schedule := DefaultPayPalFees
	first := schedule.Calculate(123456, true)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, schedule.Calculate(123456, true))
	}
}

func TestFeeScheduleMonotonicInAmount(t *testing.T) {
	for _, schedule := range []FeeSchedule{DefaultStripeFees, DefaultAdyenFees, DefaultPayPalFees} {
		prev := int64(-1)
		for amount := int64(1); amount <= 10000; amount += 7 {
			fee := schedule.Calculate(amount, false).TotalFeeMinor
			assert.GreaterOrEqual(t, fee, prev, "fee must not decrease as amount grows (amount=%d)", amount)
			prev = fee
		}
	}
}
