package pool

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/liquidity"
)

// CurrentUnrealizedLoss values the LP side's unrealized loss at the index
// price, netted against the risk buffer fund.
func (p *Pool) CurrentUnrealizedLoss() *uint256.Int {
	return liquidity.CalculateUnrealizedLoss(
		p.glp.Side, p.glp.NetSize, p.glp.EntryPriceX96, p.IndexPriceX96(),
		p.riskBufferFund.Global.RiskBufferFund,
	)
}

// OpenLiquidityPosition deposits margin and liquidity for an account. A
// repeat deposit settles accrued realized profit first and re-snapshots the
// position's unrealized-loss entry at the current level, with the metrics
// unwound and re-accumulated so they keep matching the position exactly.
func (p *Pool) OpenLiquidityPosition(account uuid.UUID, margin, liquidityDelta *uint256.Int) error {
	p.SampleAndAdjustFundingRate()

	now := p.clock.Timestamp()
	loss := p.CurrentUnrealizedLoss()

	pos := p.liquidityPositions[account]
	if pos == nil {
		pos = &liquidity.LiquidityPosition{
			Account:                      account,
			Margin:                       new(uint256.Int).Set(margin),
			Liquidity:                    new(uint256.Int).Set(liquidityDelta),
			EntryUnrealizedLoss:          loss,
			EntryRealizedProfitGrowthX64: new(uint256.Int).Set(p.glp.RealizedProfitGrowthX64),
			EntryTime:                    now,
		}
		p.liquidityPositions[account] = pos
		liquidity.UpdateUnrealizedLossMetrics(p.metrics, loss, now, liquidityDelta.ToBig(), now, loss)
	} else {
		p.settleLiquidityPositionProfit(pos)
		liquidity.UpdateUnrealizedLossMetrics(p.metrics, loss, now,
			new(big.Int).Neg(pos.Liquidity.ToBig()), pos.EntryTime, pos.EntryUnrealizedLoss)

		pos.Margin.Add(pos.Margin, margin)
		pos.Liquidity.Add(pos.Liquidity, liquidityDelta)
		pos.EntryUnrealizedLoss = loss
		pos.EntryTime = now
		liquidity.UpdateUnrealizedLossMetrics(p.metrics, loss, now, pos.Liquidity.ToBig(), now, loss)
	}

	p.glp.Liquidity.Add(p.glp.Liquidity, liquidityDelta)
	return nil
}

// CloseLiquidityPosition removes an account's LP position, charging its
// allocated share of the global unrealized loss and paying out margin plus
// settled realized profit. The charged loss is absorbed by the risk buffer
// fund since the global exposure it covers stays on the books.
func (p *Pool) CloseLiquidityPosition(account uuid.UUID) (*uint256.Int, error) {
	p.SampleAndAdjustFundingRate()

	pos := p.liquidityPositions[account]
	if pos == nil {
		return nil, &LiquidityPositionNotFoundError{Account: account}
	}

	now := p.clock.Timestamp()
	globalLoss := p.CurrentUnrealizedLoss()
	positionLoss := liquidity.CalculatePositionUnrealizedLoss(pos, p.metrics, p.glp.Liquidity, globalLoss)

	p.settleLiquidityPositionProfit(pos)
	if pos.Margin.Cmp(positionLoss) < 0 {
		return nil, &InsufficientMarginError{Required: positionLoss, Available: pos.Margin}
	}
	payout := new(uint256.Int).Sub(pos.Margin, positionLoss)

	liquidity.UpdateUnrealizedLossMetrics(p.metrics, globalLoss, now,
		new(big.Int).Neg(pos.Liquidity.ToBig()), pos.EntryTime, pos.EntryUnrealizedLoss)
	p.glp.Liquidity.Sub(p.glp.Liquidity, pos.Liquidity)
	p.riskBufferFund.Global.RiskBufferFund.Add(p.riskBufferFund.Global.RiskBufferFund, positionLoss.ToBig())
	delete(p.liquidityPositions, account)

	return payout, nil
}

// AdjustLiquidityPositionMargin changes an LP position's margin without
// touching its liquidity. A negative delta is a withdrawal and must leave
// enough margin to cover the position's allocated unrealized loss.
func (p *Pool) AdjustLiquidityPositionMargin(account uuid.UUID, marginDelta *big.Int) error {
	p.SampleAndAdjustFundingRate()

	pos := p.liquidityPositions[account]
	if pos == nil {
		return &LiquidityPositionNotFoundError{Account: account}
	}

	if marginDelta.Sign() >= 0 {
		pos.Margin.Add(pos.Margin, fixedmath.MustUint256(marginDelta))
		return nil
	}

	withdrawal := fixedmath.MustUint256(new(big.Int).Neg(marginDelta))
	globalLoss := p.CurrentUnrealizedLoss()
	positionLoss := liquidity.CalculatePositionUnrealizedLoss(pos, p.metrics, p.glp.Liquidity, globalLoss)
	required := new(uint256.Int).Add(withdrawal, positionLoss)
	if pos.Margin.Cmp(required) < 0 {
		return &InsufficientMarginError{Required: required, Available: pos.Margin}
	}
	pos.Margin.Sub(pos.Margin, withdrawal)
	return nil
}

// settleLiquidityPositionProfit folds the profit accrued since entry into
// the position's margin and advances its growth snapshot.
func (p *Pool) settleLiquidityPositionProfit(pos *liquidity.LiquidityPosition) {
	profit := liquidity.CalculateRealizedProfit(pos, p.glp.RealizedProfitGrowthX64)
	pos.Margin.Add(pos.Margin, profit)
	pos.EntryRealizedProfitGrowthX64 = new(uint256.Int).Set(p.glp.RealizedProfitGrowthX64)
}

// LiquidityPosition returns the LP position for account, or nil.
func (p *Pool) LiquidityPosition(account uuid.UUID) *liquidity.LiquidityPosition {
	return p.liquidityPositions[account]
}

// IncreaseRiskBufferFundPosition contributes to the risk buffer fund. Any
// top-up restarts the 90-day lock.
func (p *Pool) IncreaseRiskBufferFundPosition(account uuid.UUID, liquidityDelta *uint256.Int) error {
	p.SampleAndAdjustFundingRate()
	p.riskBufferFund.Increase(account, liquidityDelta, p.clock.Timestamp())
	return nil
}

// DecreaseRiskBufferFundPosition withdraws a contribution after the lock
// expires, refused while the pool carries unrealized loss that would leave
// the fund undercollateralized.
func (p *Pool) DecreaseRiskBufferFundPosition(account uuid.UUID, liquidityDelta *uint256.Int) error {
	p.SampleAndAdjustFundingRate()
	return p.riskBufferFund.Decrease(account, liquidityDelta, p.rawUnrealizedLoss(), p.clock.Timestamp())
}

// RiskBufferFundPosition returns the account's fund position, or nil.
func (p *Pool) RiskBufferFundPosition(account uuid.UUID) *liquidity.RiskBufferFundPosition {
	return p.riskBufferFund.Position(account)
}

// rawUnrealizedLoss is the LP side's price loss before risk-buffer-fund
// netting, used to gate fund withdrawals.
func (p *Pool) rawUnrealizedLoss() *uint256.Int {
	return liquidity.CalculateUnrealizedLoss(
		p.glp.Side, p.glp.NetSize, p.glp.EntryPriceX96, p.IndexPriceX96(), new(big.Int),
	)
}
