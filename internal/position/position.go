// Package position implements the pure math over trader positions: entry
// price blending, unrealized PnL, fees, funding settlement, and the
// liquidation break-even price. All rounding directions favor the protocol.
package position

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// Position is a trader's per-market position.
type Position struct {
	Margin                    *uint256.Int
	Size                      *uint256.Int
	EntryPriceX96             *uint256.Int
	EntryFundingRateGrowthX96 *big.Int
}

// NewPosition returns a zeroed position.
func NewPosition() *Position {
	return &Position{
		Margin:                    new(uint256.Int),
		Size:                      new(uint256.Int),
		EntryPriceX96:             new(uint256.Int),
		EntryFundingRateGrowthX96: new(big.Int),
	}
}

// CalculateNextEntryPriceX96 blends the entry price after a size increase.
// A fresh position takes the trade price; a zero delta keeps the old entry.
// Otherwise the size-weighted average rounds up for Long and down for Short,
// so the blended entry never understates the trader's cost basis on either
// side.
func CalculateNextEntryPriceX96(side model.Side, sizeBefore, entryPriceBeforeX96, sizeDelta, tradePriceX96 *uint256.Int) *uint256.Int {
	switch {
	case sizeBefore.IsZero() && sizeDelta.IsZero():
		return new(uint256.Int)
	case sizeBefore.IsZero():
		return new(uint256.Int).Set(tradePriceX96)
	case sizeDelta.IsZero():
		return new(uint256.Int).Set(entryPriceBeforeX96)
	}

	numerator := new(big.Int).Mul(sizeBefore.ToBig(), entryPriceBeforeX96.ToBig())
	numerator.Add(numerator, new(big.Int).Mul(sizeDelta.ToBig(), tradePriceX96.ToBig()))
	denominator := new(big.Int).Add(sizeBefore.ToBig(), sizeDelta.ToBig())

	rounding := fixedmath.RoundDown
	if side.IsLong() {
		rounding = fixedmath.RoundUp
	}
	return fixedmath.MustUint256(fixedmath.MulDivBig(numerator, big.NewInt(1), denominator, rounding))
}

// CalculateUnrealizedPnL returns the signed PnL of holding size at
// entryPriceX96 with the market at priceX96. Profit magnitudes round down
// and loss magnitudes round up.
func CalculateUnrealizedPnL(side model.Side, size, entryPriceX96, priceX96 *uint256.Int) *big.Int {
	if size.IsZero() {
		return new(big.Int)
	}
	var profit bool
	diff := new(uint256.Int)
	if priceX96.Cmp(entryPriceX96) >= 0 {
		diff.Sub(priceX96, entryPriceX96)
		profit = side.IsLong()
	} else {
		diff.Sub(entryPriceX96, priceX96)
		profit = !side.IsLong()
	}
	rounding := fixedmath.RoundUp
	if profit {
		rounding = fixedmath.RoundDown
	}
	magnitude := fixedmath.MulDiv(size, diff, fixedmath.Q96, rounding)
	return fixedmath.ToBigSigned(magnitude, !profit)
}

// CalculateTradingFee charges tradingFeeRate basis points on the trade
// notional, rounded up.
func CalculateTradingFee(size, tradePriceX96 *uint256.Int, tradingFeeRate uint64) *uint256.Int {
	notional := fixedmath.MulDiv(size, tradePriceX96, fixedmath.Q96, fixedmath.RoundUp)
	return fixedmath.MulDiv(notional, uint256.NewInt(tradingFeeRate), uint256.NewInt(fixedmath.BasisPointsDivisor), fixedmath.RoundUp)
}

// CalculateLiquidationFee charges liquidationFeeRate basis points on the
// position notional at priceX96, rounded up.
func CalculateLiquidationFee(size, priceX96 *uint256.Int, liquidationFeeRate uint64) *uint256.Int {
	notional := fixedmath.MulDiv(size, priceX96, fixedmath.Q96, fixedmath.RoundUp)
	return fixedmath.MulDiv(notional, uint256.NewInt(liquidationFeeRate), uint256.NewInt(fixedmath.BasisPointsDivisor), fixedmath.RoundUp)
}

// CalculateMaintenanceMargin is the margin floor below which the position is
// liquidatable: fee-rate basis points on notional plus the liquidation
// execution fee, all rounded up.
func CalculateMaintenanceMargin(size, entryPriceX96 *uint256.Int, liquidationFeeRate, tradingFeeRate uint64, liquidationExecutionFee *uint256.Int) *uint256.Int {
	notional := fixedmath.MulDiv(size, entryPriceX96, fixedmath.Q96, fixedmath.RoundUp)
	rate := uint256.NewInt(liquidationFeeRate + tradingFeeRate)
	mm := fixedmath.MulDiv(notional, rate, uint256.NewInt(fixedmath.BasisPointsDivisor), fixedmath.RoundUp)
	return mm.Add(mm, liquidationExecutionFee)
}

// CalculateFundingFee settles the funding accrued between the position's
// entry growth and the current global growth. A positive result is paid to
// the trader and rounds down; a negative result is owed by the trader and
// its magnitude rounds up.
func CalculateFundingFee(globalFundingRateGrowthX96, entryFundingRateGrowthX96 *big.Int, size *uint256.Int) *big.Int {
	delta := new(big.Int).Sub(globalFundingRateGrowthX96, entryFundingRateGrowthX96)
	if delta.Sign() == 0 || size.IsZero() {
		return new(big.Int)
	}
	rounding := fixedmath.RoundUp
	if delta.Sign() > 0 {
		rounding = fixedmath.RoundDown
	}
	return fixedmath.MulDivBig(delta, size.ToBig(), fixedmath.Q96Big, rounding)
}

// CalculateLiquidationPriceX96 solves the break-even price at which
//
//	margin + fundingFee + pnl - tradingFee - liquidationFee - liquidationExecutionFee == 0.
//
// The funding fee goes through a two-stage fallback before the solve: if the
// raw fundingFee would push margin negative, it is recomputed from the
// previously recorded global growth snapshot; if margin is still negative it
// is clamped to zero. A negative numerator in the final solve is a protocol
// invariant breach and panics.
func CalculateLiquidationPriceX96(
	pos *Position,
	side model.Side,
	fundingFee *big.Int,
	previousGlobalFundingRateGrowthX96 *big.Int,
	liquidationFeeRate, tradingFeeRate uint64,
	liquidationExecutionFee *uint256.Int,
) *uint256.Int {
	adjusted := adjustFundingFee(pos, fundingFee, previousGlobalFundingRateGrowthX96)

	// marginRemaining = margin + adjustedFundingFee - liquidationExecutionFee
	marginRemaining := new(big.Int).Add(pos.Margin.ToBig(), adjusted)
	marginRemaining.Sub(marginRemaining, liquidationExecutionFee.ToBig())

	basis := new(big.Int).SetUint64(fixedmath.BasisPointsDivisor)
	feeRates := new(big.Int).SetUint64(liquidationFeeRate + tradingFeeRate)
	sizeEntry := new(big.Int).Mul(pos.Size.ToBig(), pos.EntryPriceX96.ToBig())

	var numerator, denominator *big.Int
	if side.IsLong() {
		// size*P*(basis - rates) == size*entry*basis - marginRemaining*Q96*basis
		numerator = new(big.Int).Mul(sizeEntry, basis)
		adj := new(big.Int).Mul(marginRemaining, fixedmath.Q96Big)
		adj.Mul(adj, basis)
		numerator.Sub(numerator, adj)
		denominator = new(big.Int).Sub(basis, feeRates)
	} else {
		// size*P*(basis + rates) == size*entry*basis + marginRemaining*Q96*basis
		numerator = new(big.Int).Mul(sizeEntry, basis)
		adj := new(big.Int).Mul(marginRemaining, fixedmath.Q96Big)
		adj.Mul(adj, basis)
		numerator.Add(numerator, adj)
		denominator = new(big.Int).Add(basis, feeRates)
	}
	if numerator.Sign() < 0 {
		panic("FATAL: position: negative liquidation price numerator")
	}
	denominator.Mul(denominator, pos.Size.ToBig())

	rounding := fixedmath.RoundDown
	if side.IsLong() {
		rounding = fixedmath.RoundUp
	}
	return fixedmath.MustUint256(fixedmath.MulDivBig(numerator, big.NewInt(1), denominator, rounding))
}

// adjustFundingFee applies the two-stage funding-fee fallback: raw fee,
// then the snapshot-derived fee, then zero.
func adjustFundingFee(pos *Position, fundingFee, previousGlobalFundingRateGrowthX96 *big.Int) *big.Int {
	margin := pos.Margin.ToBig()
	if new(big.Int).Add(margin, fundingFee).Sign() >= 0 {
		return new(big.Int).Set(fundingFee)
	}
	snapshotFee := CalculateFundingFee(previousGlobalFundingRateGrowthX96, pos.EntryFundingRateGrowthX96, pos.Size)
	if new(big.Int).Add(margin, snapshotFee).Sign() >= 0 {
		return snapshotFee
	}
	return new(big.Int)
}
