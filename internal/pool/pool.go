// Package pool implements the per-market aggregate: trader positions, the
// LP global position, funding-rate sampling, and the risk buffer fund. The
// request routers settle against a Pool; all mutations here assume the
// engine's sequential-transaction discipline.
package pool

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/funding"
	"github.com/EquationDAO/equation-contracts-sub001/internal/liquidity"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/position"
)

// PriceFeed supplies the reference prices for this pool's market. The feed
// is a black box; the pool only ever selects min or max per side.
type PriceFeed interface {
	GetMinPriceX96() *uint256.Int
	GetMaxPriceX96() *uint256.Int
}

// Clock supplies ambient time. Delay semantics are guard conditions against
// this clock, never scheduled wakeups.
type Clock interface {
	Timestamp() int64
}

// Config holds the pool's immutable market parameters. Rates are basis
// points of fixedmath.BasisPointsDivisor.
type Config struct {
	TradingFeeRate          uint64
	LiquidationFeeRate      uint64
	InterestRate            uint64
	MaxFundingRate          uint64
	LiquidationExecutionFee *uint256.Int
}

type positionKey struct {
	Account uuid.UUID
	Side    model.Side
}

// Pool is one perpetual market.
type Pool struct {
	ID     uuid.UUID
	cfg    Config
	feed   PriceFeed
	clock  Clock
	logger zerolog.Logger

	globalPosition *funding.GlobalPosition
	sample         *funding.GlobalFundingRateSample

	// Growth snapshots taken just before the most recent funding
	// adjustment; used by the liquidation-price funding-fee fallback.
	previousLongFundingRateGrowthX96  *big.Int
	previousShortFundingRateGrowthX96 *big.Int

	glp            *liquidity.GlobalLiquidityPosition
	metrics        *liquidity.GlobalUnrealizedLossMetrics
	riskBufferFund *liquidity.RiskBufferFund

	positions          map[positionKey]*position.Position
	liquidityPositions map[uuid.UUID]*liquidity.LiquidityPosition
}

// New creates a pool for one market.
func New(id uuid.UUID, cfg Config, feed PriceFeed, clock Clock, logger zerolog.Logger) *Pool {
	return &Pool{
		ID:                                id,
		cfg:                               cfg,
		feed:                              feed,
		clock:                             clock,
		logger:                            logger.With().Str("pool", id.String()).Logger(),
		globalPosition:                    funding.NewGlobalPosition(),
		sample:                            funding.NewGlobalFundingRateSample(clock.Timestamp()),
		previousLongFundingRateGrowthX96:  new(big.Int),
		previousShortFundingRateGrowthX96: new(big.Int),
		glp:                               liquidity.NewGlobalLiquidityPosition(),
		metrics:                           liquidity.NewGlobalUnrealizedLossMetrics(),
		riskBufferFund:                    liquidity.NewRiskBufferFund(),
		positions:                         make(map[positionKey]*position.Position),
		liquidityPositions:                make(map[uuid.UUID]*liquidity.LiquidityPosition),
	}
}

// MarketPriceX96 selects the reference price per side and direction:
// long-open and short-close take the max price, short-open and long-close
// the min, so the fill never favors the trader over the protocol.
func (p *Pool) MarketPriceX96(side model.Side, opening bool) *uint256.Int {
	if side.IsLong() == opening {
		return p.feed.GetMaxPriceX96()
	}
	return p.feed.GetMinPriceX96()
}

// IndexPriceX96 is the reference price used for funding and unrealized-loss
// valuation.
func (p *Pool) IndexPriceX96() *uint256.Int {
	return p.feed.GetMinPriceX96()
}

func (p *Pool) fundingRateGrowthX96(side model.Side) *big.Int {
	if side.IsLong() {
		return p.globalPosition.LongFundingRateGrowthX96
	}
	return p.globalPosition.ShortFundingRateGrowthX96
}

func (p *Pool) previousFundingRateGrowthX96(side model.Side) *big.Int {
	if side.IsLong() {
		return p.previousLongFundingRateGrowthX96
	}
	return p.previousShortFundingRateGrowthX96
}

// SampleAndAdjustFundingRate advances the premium-rate sampler and, when
// the hourly window closes, applies the funding-rate delta to the global
// position and the risk buffer fund. Called at the top of every
// state-mutating operation. Returns the applied growth, or nil when no
// window closed.
func (p *Pool) SampleAndAdjustFundingRate() *funding.FundingRateGrowth {
	now := p.clock.Timestamp()
	premiumRateX96 := p.premiumRateX96()

	deltaX96, adjusted := funding.SamplePremiumRate(p.sample, p.glp.Side, premiumRateX96, p.cfg.InterestRate, now)
	if !adjusted {
		return nil
	}

	p.previousLongFundingRateGrowthX96 = new(big.Int).Set(p.globalPosition.LongFundingRateGrowthX96)
	p.previousShortFundingRateGrowthX96 = new(big.Int).Set(p.globalPosition.ShortFundingRateGrowthX96)

	growth := funding.CalculateFundingRateGrowthX96(p.globalPosition, deltaX96, p.cfg.MaxFundingRate, p.IndexPriceX96())
	p.riskBufferFund.Global.RiskBufferFund.Add(p.riskBufferFund.Global.RiskBufferFund, growth.RiskBufferFundDelta.ToBig())

	p.logger.Debug().
		Str("funding_rate_delta_x96", growth.ClampedFundingRateDeltaX96.String()).
		Str("risk_buffer_fund_delta", growth.RiskBufferFundDelta.String()).
		Int64("timestamp", now).
		Msg("funding rate adjusted")
	return growth
}

// premiumRateX96 measures how far net trader exposure skews the market:
// the value of the LP's net exposure relative to total LP liquidity.
func (p *Pool) premiumRateX96() *uint256.Int {
	if p.glp.Liquidity.IsZero() {
		return new(uint256.Int)
	}
	netValue := fixedmath.MulDiv(p.glp.NetSize, p.IndexPriceX96(), fixedmath.Q96, fixedmath.RoundDown)
	return fixedmath.MulDiv(netValue, fixedmath.Q96, p.glp.Liquidity, fixedmath.RoundDown)
}

// adjustGlobalLiquidityPosition nets a trader-side size change against the
// LP position. The LP's realized PnL flows into the risk buffer fund.
func (p *Pool) adjustGlobalLiquidityPosition(traderSide model.Side, tradePriceX96, sizeDelta *uint256.Int, increase bool) {
	// The LP takes the opposite exposure of the trader flow: a trader
	// opening long adds short exposure to the LP, closing it removes it.
	lpDeltaSide := traderSide.Flip()
	if !increase {
		lpDeltaSide = traderSide
	}

	realizedPnL, entryAfter, sideAfter := liquidity.CalculateRealizedPnLAndNextEntryPriceX96(p.glp, lpDeltaSide, tradePriceX96, sizeDelta)
	p.riskBufferFund.Global.RiskBufferFund.Add(p.riskBufferFund.Global.RiskBufferFund, realizedPnL)

	total := new(uint256.Int).Add(p.glp.NetSize, p.glp.LiquidationBufferNetSize)
	if lpDeltaSide == p.glp.Side || total.IsZero() {
		p.glp.NetSize.Add(p.glp.NetSize, sizeDelta)
	} else if sizeDelta.Cmp(total) <= 0 {
		p.decreaseNetExposure(sizeDelta)
	} else {
		remainder := new(uint256.Int).Sub(sizeDelta, total)
		p.glp.NetSize = remainder
		p.glp.LiquidationBufferNetSize = new(uint256.Int)
	}
	p.glp.Side = sideAfter
	p.glp.EntryPriceX96 = entryAfter
}

// decreaseNetExposure consumes the liquidation buffer first, then net size.
func (p *Pool) decreaseNetExposure(sizeDelta *uint256.Int) {
	remaining := new(uint256.Int).Set(sizeDelta)
	if !p.glp.LiquidationBufferNetSize.IsZero() {
		if remaining.Cmp(p.glp.LiquidationBufferNetSize) <= 0 {
			p.glp.LiquidationBufferNetSize.Sub(p.glp.LiquidationBufferNetSize, remaining)
			return
		}
		remaining.Sub(remaining, p.glp.LiquidationBufferNetSize)
		p.glp.LiquidationBufferNetSize = new(uint256.Int)
	}
	p.glp.NetSize.Sub(p.glp.NetSize, remaining)
}

// IncreasePosition opens or grows a trader position. Accrued funding is
// settled into margin first; the trading fee is charged on the added size
// and distributed to LPs through the realized-profit growth.
func (p *Pool) IncreasePosition(account uuid.UUID, side model.Side, marginDelta, sizeDelta *uint256.Int) (*uint256.Int, error) {
	p.SampleAndAdjustFundingRate()

	tradePriceX96 := p.MarketPriceX96(side, true)
	key := positionKey{Account: account, Side: side}
	pos := p.positions[key]
	isNew := pos == nil
	if isNew {
		pos = position.NewPosition()
	}

	fundingFee := position.CalculateFundingFee(p.fundingRateGrowthX96(side), pos.EntryFundingRateGrowthX96, pos.Size)
	tradingFee := position.CalculateTradingFee(sizeDelta, tradePriceX96, p.cfg.TradingFeeRate)

	marginAfter := new(big.Int).Add(pos.Margin.ToBig(), marginDelta.ToBig())
	marginAfter.Add(marginAfter, fundingFee)
	marginAfter.Sub(marginAfter, tradingFee.ToBig())
	if marginAfter.Sign() < 0 {
		return nil, &InsufficientMarginError{Required: tradingFee, Available: pos.Margin}
	}

	// Only a validated open may land in the table.
	if isNew {
		p.positions[key] = pos
	}
	pos.EntryPriceX96 = position.CalculateNextEntryPriceX96(side, pos.Size, pos.EntryPriceX96, sizeDelta, tradePriceX96)
	pos.Margin = fixedmath.MustUint256(marginAfter)
	pos.Size.Add(pos.Size, sizeDelta)
	pos.EntryFundingRateGrowthX96 = new(big.Int).Set(p.fundingRateGrowthX96(side))

	if side.IsLong() {
		p.globalPosition.LongSize.Add(p.globalPosition.LongSize, sizeDelta)
	} else {
		p.globalPosition.ShortSize.Add(p.globalPosition.ShortSize, sizeDelta)
	}
	p.adjustGlobalLiquidityPosition(side, tradePriceX96, sizeDelta, true)
	p.distributeTradingFee(tradingFee)

	return tradePriceX96, nil
}

// DecreasePosition shrinks or closes a trader position, realizing PnL into
// margin and releasing marginDelta to the owner. Closing the full size
// releases the whole margin regardless of marginDelta.
func (p *Pool) DecreasePosition(account uuid.UUID, side model.Side, marginDelta, sizeDelta *uint256.Int) (tradePriceX96, marginReleased *uint256.Int, err error) {
	p.SampleAndAdjustFundingRate()

	key := positionKey{Account: account, Side: side}
	pos := p.positions[key]
	if pos == nil {
		return nil, nil, &PositionNotFoundError{Account: account, Side: side}
	}
	if sizeDelta.Cmp(pos.Size) > 0 {
		return nil, nil, &InsufficientSizeError{Requested: sizeDelta, Available: pos.Size}
	}

	tradePriceX96 = p.MarketPriceX96(side, false)
	fundingFee := position.CalculateFundingFee(p.fundingRateGrowthX96(side), pos.EntryFundingRateGrowthX96, pos.Size)
	tradingFee := position.CalculateTradingFee(sizeDelta, tradePriceX96, p.cfg.TradingFeeRate)
	realizedPnL := position.CalculateUnrealizedPnL(side, sizeDelta, pos.EntryPriceX96, tradePriceX96)

	marginAfter := new(big.Int).Add(pos.Margin.ToBig(), fundingFee)
	marginAfter.Add(marginAfter, realizedPnL)
	marginAfter.Sub(marginAfter, tradingFee.ToBig())

	sizeAfter := new(uint256.Int).Sub(pos.Size, sizeDelta)
	release := new(uint256.Int).Set(marginDelta)
	if sizeAfter.IsZero() {
		if marginAfter.Sign() < 0 {
			return nil, nil, &InsufficientMarginError{Required: tradingFee, Available: pos.Margin}
		}
		release = fixedmath.MustUint256(marginAfter)
		marginAfter = new(big.Int)
	} else {
		marginAfter.Sub(marginAfter, release.ToBig())
		if marginAfter.Sign() < 0 {
			return nil, nil, &InsufficientMarginError{Required: release, Available: pos.Margin}
		}
	}

	if sizeAfter.IsZero() {
		delete(p.positions, key)
	} else {
		pos.Size = sizeAfter
		pos.Margin = fixedmath.MustUint256(marginAfter)
		pos.EntryFundingRateGrowthX96 = new(big.Int).Set(p.fundingRateGrowthX96(side))
	}

	if side.IsLong() {
		p.globalPosition.LongSize.Sub(p.globalPosition.LongSize, sizeDelta)
	} else {
		p.globalPosition.ShortSize.Sub(p.globalPosition.ShortSize, sizeDelta)
	}
	p.adjustGlobalLiquidityPosition(side, tradePriceX96, sizeDelta, false)
	p.distributeTradingFee(tradingFee)

	return tradePriceX96, release, nil
}

// LiquidatePosition force-closes an under-margined position. The remaining
// equity after fees flows into the risk buffer fund and the closed size is
// parked in the LP's liquidation buffer.
func (p *Pool) LiquidatePosition(account uuid.UUID, side model.Side) (*uint256.Int, error) {
	p.SampleAndAdjustFundingRate()

	key := positionKey{Account: account, Side: side}
	pos := p.positions[key]
	if pos == nil || pos.Size.IsZero() {
		return nil, &PositionNotFoundError{Account: account, Side: side}
	}

	priceX96 := p.MarketPriceX96(side, false)
	fundingFee := position.CalculateFundingFee(p.fundingRateGrowthX96(side), pos.EntryFundingRateGrowthX96, pos.Size)
	pnl := position.CalculateUnrealizedPnL(side, pos.Size, pos.EntryPriceX96, priceX96)
	maintenance := position.CalculateMaintenanceMargin(pos.Size, pos.EntryPriceX96, p.cfg.LiquidationFeeRate, p.cfg.TradingFeeRate, p.cfg.LiquidationExecutionFee)

	equity := new(big.Int).Add(pos.Margin.ToBig(), fundingFee)
	equity.Add(equity, pnl)
	if equity.Cmp(maintenance.ToBig()) >= 0 {
		return nil, &PositionNotLiquidatableError{Equity: equity, MaintenanceMargin: maintenance}
	}

	liquidationFee := position.CalculateLiquidationFee(pos.Size, priceX96, p.cfg.LiquidationFeeRate)
	remainder := new(big.Int).Sub(equity, liquidationFee.ToBig())
	remainder.Sub(remainder, p.cfg.LiquidationExecutionFee.ToBig())
	// The liquidation fee and any equity remainder (possibly negative: bad
	// debt) are absorbed by the risk buffer fund.
	p.riskBufferFund.Global.RiskBufferFund.Add(p.riskBufferFund.Global.RiskBufferFund, liquidationFee.ToBig())
	p.riskBufferFund.Global.RiskBufferFund.Add(p.riskBufferFund.Global.RiskBufferFund, remainder)

	if side.IsLong() {
		p.globalPosition.LongSize.Sub(p.globalPosition.LongSize, pos.Size)
	} else {
		p.globalPosition.ShortSize.Sub(p.globalPosition.ShortSize, pos.Size)
	}
	p.glp.LiquidationBufferNetSize.Add(p.glp.LiquidationBufferNetSize, pos.Size)
	delete(p.positions, key)

	p.logger.Info().
		Str("account", account.String()).
		Str("side", side.String()).
		Str("execution_fee", p.cfg.LiquidationExecutionFee.String()).
		Msg("position liquidated")
	return new(uint256.Int).Set(p.cfg.LiquidationExecutionFee), nil
}

// distributeTradingFee accrues a captured trading fee to LPs via the
// realized-profit growth accumulator.
func (p *Pool) distributeTradingFee(fee *uint256.Int) {
	if fee.IsZero() || p.glp.Liquidity.IsZero() {
		return
	}
	p.glp.RealizedProfitGrowthX64 = liquidity.CalculateRealizedProfitGrowthX64(p.glp.RealizedProfitGrowthX64, fee, p.glp.Liquidity)
}

// Position returns the trader position for (account, side), or nil.
func (p *Pool) Position(account uuid.UUID, side model.Side) *position.Position {
	return p.positions[positionKey{Account: account, Side: side}]
}

// GlobalPosition exposes the aggregate trader state.
func (p *Pool) GlobalPosition() *funding.GlobalPosition { return p.globalPosition }

// GlobalLiquidityPosition exposes the aggregate LP state.
func (p *Pool) GlobalLiquidityPosition() *liquidity.GlobalLiquidityPosition { return p.glp }

// UnrealizedLossMetrics exposes the WAM metrics.
func (p *Pool) UnrealizedLossMetrics() *liquidity.GlobalUnrealizedLossMetrics { return p.metrics }

// FundingRateSample exposes the sampling window state.
func (p *Pool) FundingRateSample() *funding.GlobalFundingRateSample { return p.sample }

// RiskBufferFund exposes the global fund state.
func (p *Pool) RiskBufferFund() *liquidity.GlobalRiskBufferFund { return p.riskBufferFund.Global }

// PreviousFundingRateGrowthX96 exposes the pre-adjustment growth snapshot
// for a side, as used by the liquidation-price fallback.
func (p *Pool) PreviousFundingRateGrowthX96(side model.Side) *big.Int {
	return new(big.Int).Set(p.previousFundingRateGrowthX96(side))
}
