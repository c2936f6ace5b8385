package funding_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/funding"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

func px(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedmath.Q96)
}

func TestSamplePremiumRate_DeadZone(t *testing.T) {
	sample := funding.NewGlobalFundingRateSample(0)
	_, adjusted := funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(100), 0, 4)
	if adjusted || sample.SampleCount != 0 {
		t.Errorf("call inside dead zone mutated the sample: count=%d", sample.SampleCount)
	}
}

func TestSamplePremiumRate_ArithmeticSeriesAccumulation(t *testing.T) {
	sample := funding.NewGlobalFundingRateSample(0)

	// t=25: buckets 1..5 elapse, each weighted by its index: 15 * rate.
	_, adjusted := funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(100), 0, 25)
	if adjusted {
		t.Fatal("window must not close at 5 samples")
	}
	if sample.SampleCount != 5 {
		t.Errorf("sample count = %d, want 5", sample.SampleCount)
	}
	if sample.CumulativePremiumRateX96.Int64() != 1500 {
		t.Errorf("cumulative = %s, want 1500", sample.CumulativePremiumRateX96)
	}

	// t=40: buckets 6..8 elapse: (5+1+8)*3/2 = 21 more units of rate.
	funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(100), 0, 40)
	if sample.SampleCount != 8 {
		t.Errorf("sample count = %d, want 8", sample.SampleCount)
	}
	if sample.CumulativePremiumRateX96.Int64() != 1500+2100 {
		t.Errorf("cumulative = %s, want 3600", sample.CumulativePremiumRateX96)
	}
}

func TestSamplePremiumRate_LongSideFlipsSign(t *testing.T) {
	sample := funding.NewGlobalFundingRateSample(0)
	funding.SamplePremiumRate(sample, model.SideLong, uint256.NewInt(100), 0, 25)
	if sample.CumulativePremiumRateX96.Int64() != -1500 {
		t.Errorf("cumulative = %s, want -1500", sample.CumulativePremiumRateX96)
	}
}

func TestSamplePremiumRate_WindowCloseAdjustsAndResets(t *testing.T) {
	sample := funding.NewGlobalFundingRateSample(0)

	// Zero premium across the whole window: the funding rate is the
	// interest rate clamped to the boundary.
	delta, adjusted := funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(0), 100_000, 3600)
	if !adjusted {
		t.Fatal("window of 720 samples must adjust the funding rate")
	}
	boundary := fixedmath.RateX96(funding.PremiumRateClampBoundary).ToBig()
	if delta.Cmp(boundary) != 0 {
		t.Errorf("funding rate delta = %s, want clamp boundary %s", delta, boundary)
	}
	if sample.SampleCount != 0 || sample.CumulativePremiumRateX96.Sign() != 0 {
		t.Errorf("sample not reset: count=%d cumulative=%s", sample.SampleCount, sample.CumulativePremiumRateX96)
	}
	if sample.LastAdjustFundingRateTime != 3600 {
		t.Errorf("last adjust time = %d, want hour boundary 3600", sample.LastAdjustFundingRateTime)
	}
}

func TestSamplePremiumRate_LargeTimeJump(t *testing.T) {
	sample := funding.NewGlobalFundingRateSample(0)

	// A jump of several hours still closes exactly one window and resets
	// to the current hour boundary.
	_, adjusted := funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(1), 0, 3*3600+17)
	if !adjusted {
		t.Fatal("large jump must close the window")
	}
	if sample.LastAdjustFundingRateTime != 3*3600 {
		t.Errorf("last adjust time = %d, want %d", sample.LastAdjustFundingRateTime, 3*3600)
	}
	if sample.SampleCount != 0 {
		t.Errorf("sample count = %d, want 0", sample.SampleCount)
	}
}

func TestSamplePremiumRate_AverageRoundsAwayFromZero(t *testing.T) {
	// rate 1 across the full window: cumulative = 259560, divisor 5760,
	// quotient 45.06..., away from zero -> 46. The interest rate is far
	// above the average, so the clamp binds at +boundary and the average
	// itself stays visible in the result.
	sample := funding.NewGlobalFundingRateSample(0)
	delta, adjusted := funding.SamplePremiumRate(sample, model.SideShort, uint256.NewInt(1), 100_000, 3600)
	if !adjusted {
		t.Fatal("expected adjustment")
	}
	boundary := fixedmath.RateX96(funding.PremiumRateClampBoundary).ToBig()
	want := new(big.Int).Add(big.NewInt(46), boundary)
	if delta.Cmp(want) != 0 {
		t.Errorf("funding rate delta = %s, want %s", delta, want)
	}
}

func TestCalculateFundingRateGrowthX96_Conservation(t *testing.T) {
	cases := []struct {
		name      string
		longSize  uint64
		shortSize uint64
		delta     int64
	}{
		{"longs pay shorts", 1_000_003, 777_777, 1},
		{"shorts pay longs", 123_456, 999_999, -1},
		{"asymmetric sizes", 7, 1_000_000_007, 1},
		{"receiving side empty", 500_000, 0, 1},
		{"paying side empty", 0, 500_000, 1},
	}
	for _, c := range cases {
		gp := funding.NewGlobalPosition()
		gp.LongSize = uint256.NewInt(c.longSize)
		gp.ShortSize = uint256.NewInt(c.shortSize)

		deltaX96 := new(big.Int).Mul(big.NewInt(c.delta), fixedmath.Q96Big)
		deltaX96.Div(deltaX96, big.NewInt(10_000)) // 0.01%

		r := funding.CalculateFundingRateGrowthX96(gp, deltaX96, 100_000, px(1999))

		sum := new(uint256.Int).Add(r.ReceivedAmount, r.RiskBufferFundDelta)
		if r.PaidAmount.Cmp(sum) != 0 {
			t.Errorf("%s: paid %s != received %s + riskBuffer %s", c.name, r.PaidAmount, r.ReceivedAmount, r.RiskBufferFundDelta)
		}
	}
}

func TestCalculateFundingRateGrowthX96_ZeroSumGrowthTransfer(t *testing.T) {
	gp := funding.NewGlobalPosition()
	gp.LongSize = uint256.NewInt(100)
	gp.ShortSize = uint256.NewInt(100)

	// +0.01% with equal sizes: longs pay, shorts receive the same per-unit
	// growth.
	deltaX96 := new(big.Int).Div(fixedmath.Q96Big, big.NewInt(10_000))
	r := funding.CalculateFundingRateGrowthX96(gp, deltaX96, 100_000, px(2000))

	if gp.LongFundingRateGrowthX96.Sign() >= 0 {
		t.Errorf("long growth = %s, want negative (longs pay)", gp.LongFundingRateGrowthX96)
	}
	if gp.ShortFundingRateGrowthX96.Sign() <= 0 {
		t.Errorf("short growth = %s, want positive (shorts receive)", gp.ShortFundingRateGrowthX96)
	}
	neg := new(big.Int).Neg(gp.LongFundingRateGrowthX96)
	if neg.Cmp(gp.ShortFundingRateGrowthX96) != 0 {
		t.Errorf("equal sizes must transfer growth one-to-one: long=%s short=%s", gp.LongFundingRateGrowthX96, gp.ShortFundingRateGrowthX96)
	}
	if r.RiskBufferFundDelta.Sign() != 0 {
		t.Errorf("risk buffer delta = %s, want 0 for equal sizes", r.RiskBufferFundDelta)
	}
}

func TestCalculateFundingRateGrowthX96_EmptyReceivingSideRoutesToRiskBuffer(t *testing.T) {
	gp := funding.NewGlobalPosition()
	gp.LongSize = uint256.NewInt(100)

	deltaX96 := new(big.Int).Div(fixedmath.Q96Big, big.NewInt(10_000))
	r := funding.CalculateFundingRateGrowthX96(gp, deltaX96, 100_000, px(2000))

	if r.PaidAmount.IsZero() {
		t.Fatal("longs must pay")
	}
	if r.RiskBufferFundDelta.Cmp(r.PaidAmount) != 0 {
		t.Errorf("risk buffer delta = %s, want full paid amount %s", r.RiskBufferFundDelta, r.PaidAmount)
	}
	if gp.ShortFundingRateGrowthX96.Sign() != 0 {
		t.Errorf("short growth = %s, want untouched", gp.ShortFundingRateGrowthX96)
	}
}

func TestCalculateFundingRateGrowthX96_ClampToMax(t *testing.T) {
	gp := funding.NewGlobalPosition()
	gp.LongSize = uint256.NewInt(100)
	gp.ShortSize = uint256.NewInt(100)

	// Delta of 10% against a 0.1% cap clamps to the cap.
	huge := new(big.Int).Div(fixedmath.Q96Big, big.NewInt(10))
	r := funding.CalculateFundingRateGrowthX96(gp, huge, 100_000, px(2000))

	want := fixedmath.RateX96(100_000).ToBig()
	if r.ClampedFundingRateDeltaX96.Cmp(want) != 0 {
		t.Errorf("clamped delta = %s, want %s", r.ClampedFundingRateDeltaX96, want)
	}
}
