// Package liquidity implements the liquidity-provider accounting: the global
// LP position, weighted-average-minimum unrealized-loss allocation, realized
// profit growth, and the time-locked risk buffer fund.
package liquidity

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/position"
)

// GlobalLiquidityPosition is the LP side's aggregate exposure against trader
// positions. EntryPriceX96 is only redefined when the combined net size
// flips side or the blending rule applies.
type GlobalLiquidityPosition struct {
	NetSize                  *uint256.Int
	LiquidationBufferNetSize *uint256.Int
	EntryPriceX96            *uint256.Int
	Side                     model.Side
	Liquidity                *uint256.Int
	RealizedProfitGrowthX64  *uint256.Int
}

// NewGlobalLiquidityPosition returns a zeroed global LP position.
func NewGlobalLiquidityPosition() *GlobalLiquidityPosition {
	return &GlobalLiquidityPosition{
		NetSize:                  new(uint256.Int),
		LiquidationBufferNetSize: new(uint256.Int),
		EntryPriceX96:            new(uint256.Int),
		Side:                     model.SideShort,
		Liquidity:                new(uint256.Int),
		RealizedProfitGrowthX64:  new(uint256.Int),
	}
}

// LiquidityPosition is a single LP's stake.
type LiquidityPosition struct {
	Account                      uuid.UUID
	Margin                       *uint256.Int
	Liquidity                    *uint256.Int
	EntryUnrealizedLoss          *uint256.Int
	EntryRealizedProfitGrowthX64 *uint256.Int
	EntryTime                    int64
}

// GlobalUnrealizedLossMetrics tracks the liquidity entered since the last
// zero-loss epoch together with its loss-weighted accumulator.
type GlobalUnrealizedLossMetrics struct {
	LastZeroLossTime             int64
	Liquidity                    *uint256.Int
	LiquidityTimesUnrealizedLoss *uint256.Int
}

// NewGlobalUnrealizedLossMetrics returns zeroed metrics.
func NewGlobalUnrealizedLossMetrics() *GlobalUnrealizedLossMetrics {
	return &GlobalUnrealizedLossMetrics{
		Liquidity:                    new(uint256.Int),
		LiquidityTimesUnrealizedLoss: new(uint256.Int),
	}
}

// CalculateUnrealizedLoss computes the LP side's current unrealized loss:
// the one-sided price-difference loss (clamped at zero) netted against the
// risk buffer fund. A negative fund owes the pool and increases the loss.
func CalculateUnrealizedLoss(side model.Side, netSize, entryPriceX96, indexPriceX96 *uint256.Int, riskBufferFund *big.Int) *uint256.Int {
	loss := new(uint256.Int)
	pnl := position.CalculateUnrealizedPnL(side, netSize, entryPriceX96, indexPriceX96)
	if pnl.Sign() < 0 {
		loss = fixedmath.MustUint256(new(big.Int).Neg(pnl))
	}

	if riskBufferFund.Sign() >= 0 {
		fund := fixedmath.MustUint256(riskBufferFund)
		if loss.Cmp(fund) <= 0 {
			return new(uint256.Int)
		}
		return loss.Sub(loss, fund)
	}
	deficit := fixedmath.MustUint256(new(big.Int).Neg(riskBufferFund))
	return loss.Add(loss, deficit)
}

// UpdateUnrealizedLossMetrics advances the metrics for a liquidity change.
// A zero current loss starts a new zero-loss epoch; only liquidity entered
// at or after the epoch boundary participates in the accumulators.
func UpdateUnrealizedLossMetrics(
	metrics *GlobalUnrealizedLossMetrics,
	currentUnrealizedLoss *uint256.Int,
	currentTimestamp int64,
	liquidityDelta *big.Int,
	liquidityDeltaEntryTime int64,
	entryUnrealizedLoss *uint256.Int,
) {
	if currentUnrealizedLoss.IsZero() {
		metrics.LastZeroLossTime = currentTimestamp
		metrics.Liquidity = new(uint256.Int)
		metrics.LiquidityTimesUnrealizedLoss = new(uint256.Int)
		return
	}
	if liquidityDeltaEntryTime < metrics.LastZeroLossTime {
		return
	}
	magnitude, negative := fixedmath.FromBigSigned(liquidityDelta)
	weighted := new(uint256.Int).Mul(magnitude, entryUnrealizedLoss)
	if negative {
		// A position entered in the same second as the zero-loss reset was
		// never accumulated, so the unwind saturates instead of underflowing.
		subSaturate(metrics.Liquidity, magnitude)
		subSaturate(metrics.LiquidityTimesUnrealizedLoss, weighted)
	} else {
		metrics.Liquidity.Add(metrics.Liquidity, magnitude)
		metrics.LiquidityTimesUnrealizedLoss.Add(metrics.LiquidityTimesUnrealizedLoss, weighted)
	}
}

func subSaturate(v, delta *uint256.Int) {
	if v.Cmp(delta) < 0 {
		v.Clear()
		return
	}
	v.Sub(v, delta)
}

// CalculateWAMUnrealizedLoss is the weighted-average-minimum loss level of
// the liquidity entered during the current epoch, rounded up.
func CalculateWAMUnrealizedLoss(metrics *GlobalUnrealizedLossMetrics) *uint256.Int {
	if metrics.Liquidity.IsZero() {
		return new(uint256.Int)
	}
	return fixedmath.CeilDiv(metrics.LiquidityTimesUnrealizedLoss, metrics.Liquidity)
}

// CalculatePositionUnrealizedLoss allocates the global unrealized loss to a
// single LP position. Positions entered after the epoch boundary take their
// plain proportional share. Older positions split the loss in two tiers:
// the WAM level applies to their share as the legacy amount, and loss above
// the WAM level applies at the full current rate. Rounding is always up, so
// allocation over-collects and never under-collects.
func CalculatePositionUnrealizedLoss(
	pos *LiquidityPosition,
	metrics *GlobalUnrealizedLossMetrics,
	globalLiquidity *uint256.Int,
	globalUnrealizedLoss *uint256.Int,
) *uint256.Int {
	if globalLiquidity.IsZero() || globalUnrealizedLoss.IsZero() {
		return new(uint256.Int)
	}
	if pos.EntryTime > metrics.LastZeroLossTime {
		return fixedmath.MulDiv(globalUnrealizedLoss, pos.Liquidity, globalLiquidity, fixedmath.RoundUp)
	}

	wam := CalculateWAMUnrealizedLoss(metrics)
	if globalUnrealizedLoss.Cmp(wam) <= 0 {
		return fixedmath.MulDiv(globalUnrealizedLoss, pos.Liquidity, globalLiquidity, fixedmath.RoundUp)
	}
	legacy := fixedmath.MulDiv(wam, pos.Liquidity, globalLiquidity, fixedmath.RoundUp)
	marginal := new(uint256.Int).Sub(globalUnrealizedLoss, wam)
	return legacy.Add(legacy, fixedmath.MulDiv(marginal, pos.Liquidity, globalLiquidity, fixedmath.RoundUp))
}

// CalculateRealizedPnLAndNextEntryPriceX96 nets a size adjustment against
// the global LP position. A same-side delta is a pure increase with blended
// entry. An opposing delta realizes PnL on the overlap; a delta larger than
// the combined net size closes the exposure fully and reopens on the other
// side at the trade price.
func CalculateRealizedPnLAndNextEntryPriceX96(
	glp *GlobalLiquidityPosition,
	side model.Side,
	tradePriceX96 *uint256.Int,
	sizeDelta *uint256.Int,
) (realizedPnL *big.Int, entryPriceAfterX96 *uint256.Int, sideAfter model.Side) {
	total := new(uint256.Int).Add(glp.NetSize, glp.LiquidationBufferNetSize)

	if side == glp.Side || total.IsZero() {
		entry := position.CalculateNextEntryPriceX96(side, total, glp.EntryPriceX96, sizeDelta, tradePriceX96)
		return new(big.Int), entry, side
	}

	if sizeDelta.Cmp(total) <= 0 {
		pnl := position.CalculateUnrealizedPnL(glp.Side, sizeDelta, glp.EntryPriceX96, tradePriceX96)
		return pnl, new(uint256.Int).Set(glp.EntryPriceX96), glp.Side
	}

	// Close the existing exposure fully, then open the remainder opposite.
	pnl := position.CalculateUnrealizedPnL(glp.Side, total, glp.EntryPriceX96, tradePriceX96)
	return pnl, new(uint256.Int).Set(tradePriceX96), glp.Side.Flip()
}

// CalculateRealizedProfitGrowthX64 returns the growth accumulator after
// distributing profit across globalLiquidity.
func CalculateRealizedProfitGrowthX64(growthBeforeX64, profit, globalLiquidity *uint256.Int) *uint256.Int {
	if globalLiquidity.IsZero() {
		return new(uint256.Int).Set(growthBeforeX64)
	}
	delta := fixedmath.MulDiv(profit, fixedmath.Q64, globalLiquidity, fixedmath.RoundDown)
	return new(uint256.Int).Add(growthBeforeX64, delta)
}

// CalculateRealizedProfit settles the profit accrued to a position since its
// entry growth snapshot, rounded down.
func CalculateRealizedProfit(pos *LiquidityPosition, globalGrowthX64 *uint256.Int) *uint256.Int {
	delta := new(uint256.Int).Sub(globalGrowthX64, pos.EntryRealizedProfitGrowthX64)
	return fixedmath.MulDiv(pos.Liquidity, delta, fixedmath.Q64, fixedmath.RoundDown)
}
