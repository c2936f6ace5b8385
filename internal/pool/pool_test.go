package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

type fakeFeed struct {
	min *uint256.Int
	max *uint256.Int
}

func (f *fakeFeed) GetMinPriceX96() *uint256.Int { return new(uint256.Int).Set(f.min) }
func (f *fakeFeed) GetMaxPriceX96() *uint256.Int { return new(uint256.Int).Set(f.max) }

type fakeClock struct {
	now int64
}

func (c *fakeClock) Timestamp() int64 { return c.now }

func px(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedmath.Q96)
}

func testConfig() Config {
	return Config{
		TradingFeeRate:          50_000,  // 0.05%
		LiquidationFeeRate:      400_000, // 0.4%
		InterestRate:            100_000, // 0.1%
		MaxFundingRate:          150_000, // 0.15%
		LiquidationExecutionFee: uint256.NewInt(10),
	}
}

func newTestPool(t *testing.T, minPrice, maxPrice uint64) (*Pool, *fakeFeed, *fakeClock) {
	t.Helper()
	feed := &fakeFeed{min: px(minPrice), max: px(maxPrice)}
	clock := &fakeClock{now: 7200}
	p := New(uuid.New(), testConfig(), feed, clock, zerolog.Nop())
	return p, feed, clock
}

func TestMarketPriceX96_SideSelection(t *testing.T) {
	p, _, _ := newTestPool(t, 1995, 2005)

	cases := []struct {
		name    string
		side    model.Side
		opening bool
		want    *uint256.Int
	}{
		{"long open takes max", model.SideLong, true, px(2005)},
		{"short close takes max", model.SideShort, false, px(2005)},
		{"short open takes min", model.SideShort, true, px(1995)},
		{"long close takes min", model.SideLong, false, px(1995)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.MarketPriceX96(tc.side, tc.opening); got.Cmp(tc.want) != 0 {
				t.Fatalf("MarketPriceX96(%s, opening=%v) = %s, want %s", tc.side, tc.opening, got, tc.want)
			}
		})
	}
}

func TestIncreasePosition_ChargesTradingFeeAndTracksGlobals(t *testing.T) {
	p, _, _ := newTestPool(t, 2000, 2000)
	account := uuid.New()

	tradePrice, err := p.IncreasePosition(account, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100))
	if err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	if tradePrice.Cmp(px(2000)) != 0 {
		t.Fatalf("trade price = %s, want %s", tradePrice, px(2000))
	}

	pos := p.Position(account, model.SideLong)
	if pos == nil {
		t.Fatal("position not created")
	}
	// Notional 200_000 at 0.05% is a fee of 100.
	if want := uint256.NewInt(9_900); pos.Margin.Cmp(want) != 0 {
		t.Fatalf("margin = %s, want %s", pos.Margin, want)
	}
	if pos.EntryPriceX96.Cmp(px(2000)) != 0 {
		t.Fatalf("entry price = %s, want %s", pos.EntryPriceX96, px(2000))
	}
	if got := p.GlobalPosition().LongSize; got.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("global long size = %s, want 100", got)
	}
	// The LP nets the opposite exposure of the trader flow.
	glp := p.GlobalLiquidityPosition()
	if glp.Side != model.SideShort {
		t.Fatalf("LP side = %s, want short", glp.Side)
	}
	if glp.NetSize.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("LP net size = %s, want 100", glp.NetSize)
	}
}

func TestIncreasePosition_InsufficientMargin(t *testing.T) {
	p, _, _ := newTestPool(t, 2000, 2000)

	_, err := p.IncreasePosition(uuid.New(), model.SideLong, uint256.NewInt(50), uint256.NewInt(100))
	var insufficient *InsufficientMarginError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientMarginError", err)
	}
}

func TestIncreasePosition_RejectedOpenLeavesNoPosition(t *testing.T) {
	p, _, _ := newTestPool(t, 2000, 2000)
	account := uuid.New()

	_, err := p.IncreasePosition(account, model.SideLong, new(uint256.Int), uint256.NewInt(100))
	var insufficient *InsufficientMarginError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientMarginError", err)
	}
	if pos := p.Position(account, model.SideLong); pos != nil {
		t.Fatalf("position = %+v, want nil after rejected open", pos)
	}

	// The rejected open must not have left anything liquidatable behind.
	_, err = p.LiquidatePosition(account, model.SideLong)
	var notFound *PositionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want PositionNotFoundError", err)
	}
	if fund := p.RiskBufferFund().RiskBufferFund; fund.Sign() != 0 {
		t.Fatalf("risk buffer fund = %s, want 0", fund)
	}
}

func TestDecreasePosition_FullCloseReleasesMargin(t *testing.T) {
	p, _, _ := newTestPool(t, 2000, 2000)
	account := uuid.New()

	if _, err := p.IncreasePosition(account, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	_, released, err := p.DecreasePosition(account, model.SideLong, new(uint256.Int), uint256.NewInt(100))
	if err != nil {
		t.Fatalf("DecreasePosition: %v", err)
	}
	// Opening and closing each cost a fee of 100 at flat prices.
	if want := uint256.NewInt(9_800); released.Cmp(want) != 0 {
		t.Fatalf("released = %s, want %s", released, want)
	}
	if p.Position(account, model.SideLong) != nil {
		t.Fatal("position should be removed after full close")
	}
	if !p.GlobalPosition().LongSize.IsZero() {
		t.Fatalf("global long size = %s, want 0", p.GlobalPosition().LongSize)
	}
	if !p.GlobalLiquidityPosition().NetSize.IsZero() {
		t.Fatalf("LP net size = %s, want 0", p.GlobalLiquidityPosition().NetSize)
	}
}

func TestDecreasePosition_SizeExceedsPosition(t *testing.T) {
	p, _, _ := newTestPool(t, 2000, 2000)
	account := uuid.New()

	if _, err := p.IncreasePosition(account, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	_, _, err := p.DecreasePosition(account, model.SideLong, new(uint256.Int), uint256.NewInt(200))
	var insufficient *InsufficientSizeError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientSizeError", err)
	}
	_, _, err = p.DecreasePosition(uuid.New(), model.SideLong, new(uint256.Int), uint256.NewInt(1))
	var notFound *PositionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want PositionNotFoundError", err)
	}
}

func TestLiquidatePosition(t *testing.T) {
	p, feed, _ := newTestPool(t, 2000, 2000)
	account := uuid.New()

	if _, err := p.IncreasePosition(account, model.SideLong, uint256.NewInt(2_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	// Equity 1_900 at entry price clears the maintenance margin of 910.
	_, err := p.LiquidatePosition(account, model.SideLong)
	var healthy *PositionNotLiquidatableError
	if !errors.As(err, &healthy) {
		t.Fatalf("err = %v, want PositionNotLiquidatableError", err)
	}

	feed.min = px(1980)
	feed.max = px(1980)
	execFee, err := p.LiquidatePosition(account, model.SideLong)
	if err != nil {
		t.Fatalf("LiquidatePosition: %v", err)
	}
	if execFee.Cmp(uint256.NewInt(10)) != 0 {
		t.Fatalf("execution fee = %s, want 10", execFee)
	}
	if p.Position(account, model.SideLong) != nil {
		t.Fatal("position should be removed")
	}
	if !p.GlobalPosition().LongSize.IsZero() {
		t.Fatalf("global long size = %s, want 0", p.GlobalPosition().LongSize)
	}
	// The closed size parks in the liquidation buffer, not net size.
	if got := p.GlobalLiquidityPosition().LiquidationBufferNetSize; got.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("liquidation buffer = %s, want 100", got)
	}
	// Equity 1_900 - 2_000 = -100, liquidation fee 792, execution fee 10:
	// the fund absorbs 792 + (-100 - 792 - 10) = -110.
	if want := big.NewInt(-110); p.RiskBufferFund().RiskBufferFund.Cmp(want) != 0 {
		t.Fatalf("risk buffer fund = %s, want %s", p.RiskBufferFund().RiskBufferFund, want)
	}
}

func TestLiquidityPositionLifecycle(t *testing.T) {
	p, feed, _ := newTestPool(t, 2000, 2000)
	lp := uuid.New()
	trader := uuid.New()

	if err := p.OpenLiquidityPosition(lp, uint256.NewInt(10_000), uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("OpenLiquidityPosition: %v", err)
	}
	if got := p.GlobalLiquidityPosition().Liquidity; got.Cmp(uint256.NewInt(1_000_000)) != 0 {
		t.Fatalf("global liquidity = %s, want 1000000", got)
	}

	// The trading fee of 100 accrues to the sole LP via profit growth.
	if _, err := p.IncreasePosition(trader, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	// Price moves against the LP's short exposure: 100 size over a 100
	// price move is an unrealized loss of 10_000.
	feed.min = px(2100)
	feed.max = px(2100)
	if got, want := p.CurrentUnrealizedLoss(), uint256.NewInt(10_000); got.Cmp(want) != 0 {
		t.Fatalf("unrealized loss = %s, want %s", got, want)
	}

	payout, err := p.CloseLiquidityPosition(lp)
	if err != nil {
		t.Fatalf("CloseLiquidityPosition: %v", err)
	}
	// Margin 10_000 plus settled fee profit 99 minus the full loss share
	// 10_000: the X64 growth floor division costs one unit of the fee.
	if want := uint256.NewInt(99); payout.Cmp(want) != 0 {
		t.Fatalf("payout = %s, want %s", payout, want)
	}
	if p.LiquidityPosition(lp) != nil {
		t.Fatal("liquidity position should be removed")
	}
	// The charged loss backs the exposure left behind.
	if want := big.NewInt(10_000); p.RiskBufferFund().RiskBufferFund.Cmp(want) != 0 {
		t.Fatalf("risk buffer fund = %s, want %s", p.RiskBufferFund().RiskBufferFund, want)
	}
}

func TestAdjustLiquidityPositionMargin(t *testing.T) {
	p, feed, _ := newTestPool(t, 2000, 2000)
	lp := uuid.New()
	trader := uuid.New()

	if err := p.OpenLiquidityPosition(lp, uint256.NewInt(10_000), uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("OpenLiquidityPosition: %v", err)
	}
	if err := p.AdjustLiquidityPositionMargin(lp, big.NewInt(5_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if want := uint256.NewInt(15_000); p.LiquidityPosition(lp).Margin.Cmp(want) != 0 {
		t.Fatalf("margin = %s, want %s", p.LiquidityPosition(lp).Margin, want)
	}

	if _, err := p.IncreasePosition(trader, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	feed.min = px(2100)
	feed.max = px(2100)

	// Withdrawal must leave the loss share of 10_000 covered.
	err := p.AdjustLiquidityPositionMargin(lp, big.NewInt(-6_000))
	var insufficient *InsufficientMarginError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientMarginError", err)
	}
	if err := p.AdjustLiquidityPositionMargin(lp, big.NewInt(-5_000)); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	err = p.AdjustLiquidityPositionMargin(uuid.New(), big.NewInt(1))
	var notFound *LiquidityPositionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want LiquidityPositionNotFoundError", err)
	}
}

func TestRepeatDepositSettlesProfitAndResnapshots(t *testing.T) {
	p, _, clock := newTestPool(t, 2000, 2000)
	lp := uuid.New()
	trader := uuid.New()

	if err := p.OpenLiquidityPosition(lp, uint256.NewInt(10_000), uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("OpenLiquidityPosition: %v", err)
	}
	if _, err := p.IncreasePosition(trader, model.SideLong, uint256.NewInt(10_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	clock.now += 2
	if err := p.OpenLiquidityPosition(lp, uint256.NewInt(1_000), uint256.NewInt(500_000)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	pos := p.LiquidityPosition(lp)
	// 10_000 + deposit 1_000 + settled fee profit 99.
	if want := uint256.NewInt(11_099); pos.Margin.Cmp(want) != 0 {
		t.Fatalf("margin = %s, want %s", pos.Margin, want)
	}
	if want := uint256.NewInt(1_500_000); pos.Liquidity.Cmp(want) != 0 {
		t.Fatalf("liquidity = %s, want %s", pos.Liquidity, want)
	}
	if pos.EntryTime != clock.now {
		t.Fatalf("entry time = %d, want %d", pos.EntryTime, clock.now)
	}
	if got := p.GlobalLiquidityPosition().Liquidity; got.Cmp(uint256.NewInt(1_500_000)) != 0 {
		t.Fatalf("global liquidity = %s, want 1500000", got)
	}
}

func TestRiskBufferFundPositionLifecycle(t *testing.T) {
	p, _, clock := newTestPool(t, 2000, 2000)
	account := uuid.New()

	if err := p.IncreaseRiskBufferFundPosition(account, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("IncreaseRiskBufferFundPosition: %v", err)
	}
	pos := p.RiskBufferFundPosition(account)
	if pos == nil {
		t.Fatal("fund position not created")
	}
	if pos.UnlockTime != clock.now+90*24*3600 {
		t.Fatalf("unlock time = %d, want %d", pos.UnlockTime, clock.now+90*24*3600)
	}

	if err := p.DecreaseRiskBufferFundPosition(account, uint256.NewInt(5_000)); err == nil {
		t.Fatal("withdrawal before unlock should fail")
	}
	clock.now = pos.UnlockTime + 1
	if err := p.DecreaseRiskBufferFundPosition(account, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("withdrawal after unlock: %v", err)
	}
	if p.RiskBufferFundPosition(account) != nil {
		t.Fatal("fund position should be removed at zero liquidity")
	}
}

func TestSampleAndAdjustFundingRate_WindowCloseMovesGrowth(t *testing.T) {
	p, _, clock := newTestPool(t, 2000, 2000)
	lp := uuid.New()
	trader := uuid.New()

	if err := p.OpenLiquidityPosition(lp, uint256.NewInt(100_000), uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("OpenLiquidityPosition: %v", err)
	}
	if _, err := p.IncreasePosition(trader, model.SideLong, uint256.NewInt(50_000), uint256.NewInt(100)); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	fundBefore := new(big.Int).Set(p.RiskBufferFund().RiskBufferFund)

	clock.now += 3600
	p.SampleAndAdjustFundingRate()

	gp := p.GlobalPosition()
	// Net long skew: longs pay, so the long growth moves down. With no
	// shorts open the whole payment lands in the risk buffer fund.
	if gp.LongFundingRateGrowthX96.Sign() >= 0 {
		t.Fatalf("long growth = %s, want negative", gp.LongFundingRateGrowthX96)
	}
	if gp.ShortFundingRateGrowthX96.Sign() != 0 {
		t.Fatalf("short growth = %s, want 0", gp.ShortFundingRateGrowthX96)
	}
	if p.RiskBufferFund().RiskBufferFund.Cmp(fundBefore) <= 0 {
		t.Fatal("risk buffer fund should absorb the unmatched payment")
	}
	if got := p.FundingRateSample().LastAdjustFundingRateTime; got != clock.now {
		t.Fatalf("last adjust time = %d, want %d", got, clock.now)
	}
	// The pre-adjustment snapshot backs the liquidation-price fallback.
	if p.PreviousFundingRateGrowthX96(model.SideLong).Sign() != 0 {
		t.Fatalf("previous long growth = %s, want 0", p.PreviousFundingRateGrowthX96(model.SideLong))
	}
}
