// Package funding implements the hourly premium-rate sampling state machine
// and the funding-rate growth split between the long side, the short side,
// and the risk buffer fund.
package funding

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

const (
	// PremiumRateSampleInterval is the width of one sample bucket in seconds.
	PremiumRateSampleInterval = 5
	// RequiredSampleCount closes the sampling window: 720 buckets of 5s is
	// one hour.
	RequiredSampleCount = 720
	// AdjustFundingRateInterval is the funding epoch length in seconds.
	AdjustFundingRateInterval = 3600

	// premiumRateAvgDivisorPerSample scales the cumulative premium rate
	// down to the funding-rate epoch when the window closes.
	premiumRateAvgDivisorPerSample = 8

	// PremiumRateClampBoundary bounds |interestRate - premiumRateAvg| in
	// basis points: 0.05%.
	PremiumRateClampBoundary uint64 = 50_000
)

// GlobalPosition is the aggregate trader-position state of one market. The
// growth accumulators only move through CalculateFundingRateGrowthX96.
type GlobalPosition struct {
	LongSize                  *uint256.Int
	ShortSize                 *uint256.Int
	LongFundingRateGrowthX96  *big.Int
	ShortFundingRateGrowthX96 *big.Int
}

// NewGlobalPosition returns a zeroed global position.
func NewGlobalPosition() *GlobalPosition {
	return &GlobalPosition{
		LongSize:                  new(uint256.Int),
		ShortSize:                 new(uint256.Int),
		LongFundingRateGrowthX96:  new(big.Int),
		ShortFundingRateGrowthX96: new(big.Int),
	}
}

// GlobalFundingRateSample is the per-market sampling window state.
type GlobalFundingRateSample struct {
	LastAdjustFundingRateTime int64
	SampleCount               uint32
	CumulativePremiumRateX96  *big.Int
}

// NewGlobalFundingRateSample starts a window at the hour boundary of t.
func NewGlobalFundingRateSample(t int64) *GlobalFundingRateSample {
	return &GlobalFundingRateSample{
		LastAdjustFundingRateTime: t - t%AdjustFundingRateInterval,
		CumulativePremiumRateX96:  new(big.Int),
	}
}

// SamplePremiumRate advances the sampling window to currentTimestamp,
// accumulating premiumRateX96 across the newly elapsed 5-second buckets as
// an arithmetic series (each bucket i contributes i times the rate). The
// Long side accumulates with flipped sign: a premium paid by longs is a
// negative premium. When the window reaches 720 buckets the funding rate
// adjusts: the window average, rounded away from zero, is combined with the
// configured interest rate under the clamp boundary, and the sample resets
// to the hour boundary of currentTimestamp.
func SamplePremiumRate(
	sample *GlobalFundingRateSample,
	side model.Side,
	premiumRateX96 *uint256.Int,
	interestRate uint64,
	currentTimestamp int64,
) (fundingRateDeltaX96 *big.Int, adjusted bool) {
	timeDelta := currentTimestamp - sample.LastAdjustFundingRateTime
	if timeDelta < PremiumRateSampleInterval {
		return nil, false
	}
	sampleCountDelta := (timeDelta - int64(sample.SampleCount)*PremiumRateSampleInterval) / PremiumRateSampleInterval
	if sampleCountDelta <= 0 {
		return nil, false
	}
	if int64(sample.SampleCount)+sampleCountDelta > RequiredSampleCount {
		sampleCountDelta = RequiredSampleCount - int64(sample.SampleCount)
	}
	sampleCountAfter := int64(sample.SampleCount) + sampleCountDelta

	// sum over buckets (sampleCount, sampleCountAfter]: rate * (a+1+b)*(b-a)/2.
	// (a+1+b)*(b-a) is always even, so the halving is exact.
	series := new(big.Int).SetInt64(int64(sample.SampleCount) + 1 + sampleCountAfter)
	series.Mul(series, big.NewInt(sampleCountDelta))
	series.Rsh(series, 1)
	term := new(big.Int).Mul(premiumRateX96.ToBig(), series)
	if side.IsLong() {
		term.Neg(term)
	}
	sample.CumulativePremiumRateX96.Add(sample.CumulativePremiumRateX96, term)
	sample.SampleCount = uint32(sampleCountAfter)

	if sampleCountAfter < RequiredSampleCount {
		return nil, false
	}

	divisor := new(big.Int).SetInt64(sampleCountAfter * premiumRateAvgDivisorPerSample)
	premiumRateAvgX96 := fixedmath.MulDivBig(sample.CumulativePremiumRateX96, big.NewInt(1), divisor, fixedmath.RoundUp)

	interestRateX96 := fixedmath.RateX96(interestRate).ToBig()
	boundary := fixedmath.RateX96(PremiumRateClampBoundary).ToBig()
	clamped := fixedmath.Clamp(
		new(big.Int).Sub(interestRateX96, premiumRateAvgX96),
		new(big.Int).Neg(boundary),
		boundary,
	)
	fundingRateDeltaX96 = new(big.Int).Add(premiumRateAvgX96, clamped)

	sample.LastAdjustFundingRateTime = currentTimestamp - currentTimestamp%AdjustFundingRateInterval
	sample.SampleCount = 0
	sample.CumulativePremiumRateX96 = new(big.Int)
	return fundingRateDeltaX96, true
}

// FundingRateGrowth is the outcome of applying a funding-rate delta to the
// global position. Conservation holds exactly in every branch:
//
//	PaidAmount == ReceivedAmount + RiskBufferFundDelta.
type FundingRateGrowth struct {
	ClampedFundingRateDeltaX96 *big.Int
	PaidAmount                 *uint256.Int
	ReceivedAmount             *uint256.Int
	RiskBufferFundDelta        *uint256.Int
}

func zeroGrowth(clamped *big.Int) *FundingRateGrowth {
	return &FundingRateGrowth{
		ClampedFundingRateDeltaX96: clamped,
		PaidAmount:                 new(uint256.Int),
		ReceivedAmount:             new(uint256.Int),
		RiskBufferFundDelta:        new(uint256.Int),
	}
}

// CalculateFundingRateGrowthX96 clamps fundingRateDeltaX96 to the configured
// maximum and transfers funding between the two sides of gp. A positive
// delta means longs pay shorts. If the receiving side has zero size, the
// whole paid amount routes to the risk buffer fund; the residual of the
// per-unit rounding goes there as well, so nothing leaks.
func CalculateFundingRateGrowthX96(
	gp *GlobalPosition,
	fundingRateDeltaX96 *big.Int,
	maxFundingRate uint64,
	indexPriceX96 *uint256.Int,
) *FundingRateGrowth {
	maxX96 := fixedmath.RateX96(maxFundingRate).ToBig()
	clamped := fixedmath.Clamp(fundingRateDeltaX96, new(big.Int).Neg(maxX96), maxX96)
	if clamped.Sign() == 0 {
		return zeroGrowth(clamped)
	}

	var paidSize, receivedSize *uint256.Int
	var paidGrowth, receivedGrowth *big.Int
	if clamped.Sign() > 0 {
		paidSize, receivedSize = gp.LongSize, gp.ShortSize
		paidGrowth, receivedGrowth = gp.LongFundingRateGrowthX96, gp.ShortFundingRateGrowthX96
	} else {
		paidSize, receivedSize = gp.ShortSize, gp.LongSize
		paidGrowth, receivedGrowth = gp.ShortFundingRateGrowthX96, gp.LongFundingRateGrowthX96
	}
	if paidSize.IsZero() {
		return zeroGrowth(clamped)
	}

	magnitude := fixedmath.MustUint256(new(big.Int).Abs(clamped))
	// Per-unit payment in X96, rounded down so the payer is never
	// over-charged relative to the clamped rate.
	paidGrowthDeltaX96 := fixedmath.MulDiv(indexPriceX96, magnitude, fixedmath.Q96, fixedmath.RoundDown)
	paidAmount := fixedmath.MulDiv(paidSize, paidGrowthDeltaX96, fixedmath.Q96, fixedmath.RoundDown)

	result := &FundingRateGrowth{
		ClampedFundingRateDeltaX96: clamped,
		PaidAmount:                 paidAmount,
		ReceivedAmount:             new(uint256.Int),
		RiskBufferFundDelta:        new(uint256.Int),
	}

	paidGrowth.Sub(paidGrowth, paidGrowthDeltaX96.ToBig())

	if receivedSize.IsZero() {
		result.RiskBufferFundDelta.Set(paidAmount)
		return result
	}

	receivedGrowthDeltaX96 := fixedmath.MulDiv(paidSize, paidGrowthDeltaX96, receivedSize, fixedmath.RoundDown)
	receivedAmount := fixedmath.MulDiv(receivedSize, receivedGrowthDeltaX96, fixedmath.Q96, fixedmath.RoundDown)
	receivedGrowth.Add(receivedGrowth, receivedGrowthDeltaX96.ToBig())

	result.ReceivedAmount.Set(receivedAmount)
	result.RiskBufferFundDelta.Sub(paidAmount, receivedAmount)
	return result
}
