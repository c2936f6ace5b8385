package engine

import (
	"github.com/google/uuid"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/router"
)

// Read views for the API surface. Snapshots are taken under the engine
// lock so a reader never observes a half-applied mutation, and big
// numbers are rendered as decimal strings.

type GlobalPositionView struct {
	LongSize                  string `json:"long_size"`
	ShortSize                 string `json:"short_size"`
	LongFundingRateGrowthX96  string `json:"long_funding_rate_growth_x96"`
	ShortFundingRateGrowthX96 string `json:"short_funding_rate_growth_x96"`
}

type GlobalLiquidityView struct {
	Side                     string `json:"side"`
	NetSize                  string `json:"net_size"`
	LiquidationBufferNetSize string `json:"liquidation_buffer_net_size"`
	EntryPriceX96            string `json:"entry_price_x96"`
	Liquidity                string `json:"liquidity"`
	RealizedProfitGrowthX64  string `json:"realized_profit_growth_x64"`
}

type RiskBufferFundView struct {
	Balance   string `json:"balance"`
	Liquidity string `json:"liquidity"`
}

type PoolView struct {
	ID                 uuid.UUID           `json:"id"`
	BlockNumber        uint64              `json:"block_number"`
	IndexPriceX96      string              `json:"index_price_x96"`
	GlobalPosition     GlobalPositionView  `json:"global_position"`
	GlobalLiquidity    GlobalLiquidityView `json:"global_liquidity"`
	RiskBufferFund     RiskBufferFundView  `json:"risk_buffer_fund"`
	LastAdjustTime     int64               `json:"last_funding_adjust_time"`
	FundingSampleCount uint32              `json:"funding_sample_count"`
}

type PositionView struct {
	Account                   uuid.UUID `json:"account"`
	Side                      string    `json:"side"`
	Margin                    string    `json:"margin"`
	Size                      string    `json:"size"`
	EntryPriceX96             string    `json:"entry_price_x96"`
	EntryFundingRateGrowthX96 string    `json:"entry_funding_rate_growth_x96"`
}

type LiquidityPositionView struct {
	Account             uuid.UUID `json:"account"`
	Margin              string    `json:"margin"`
	Liquidity           string    `json:"liquidity"`
	EntryUnrealizedLoss string    `json:"entry_unrealized_loss"`
	EntryTime           int64     `json:"entry_time"`
}

type QueueView struct {
	Kind      string `json:"kind"`
	Index     uint64 `json:"index"`
	IndexNext uint64 `json:"index_next"`
}

type QueuesView struct {
	Requests           []QueueView `json:"requests"`
	IncreaseOrdersNext uint64      `json:"increase_orders_index_next"`
	DecreaseOrdersNext uint64      `json:"decrease_orders_index_next"`
}

// PoolView snapshots one pool's global state.
func (e *Engine) PoolView(id uuid.UUID) (*PoolView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[id]
	if !ok {
		return nil, false
	}

	gp := p.GlobalPosition()
	glp := p.GlobalLiquidityPosition()
	rbf := p.RiskBufferFund()
	sample := p.FundingRateSample()

	return &PoolView{
		ID:            id,
		BlockNumber:   e.blockNumber.Load(),
		IndexPriceX96: p.IndexPriceX96().String(),
		GlobalPosition: GlobalPositionView{
			LongSize:                  gp.LongSize.String(),
			ShortSize:                 gp.ShortSize.String(),
			LongFundingRateGrowthX96:  gp.LongFundingRateGrowthX96.String(),
			ShortFundingRateGrowthX96: gp.ShortFundingRateGrowthX96.String(),
		},
		GlobalLiquidity: GlobalLiquidityView{
			Side:                     glp.Side.String(),
			NetSize:                  glp.NetSize.String(),
			LiquidationBufferNetSize: glp.LiquidationBufferNetSize.String(),
			EntryPriceX96:            glp.EntryPriceX96.String(),
			Liquidity:                glp.Liquidity.String(),
			RealizedProfitGrowthX64:  glp.RealizedProfitGrowthX64.String(),
		},
		RiskBufferFund: RiskBufferFundView{
			Balance:   rbf.RiskBufferFund.String(),
			Liquidity: rbf.Liquidity.String(),
		},
		LastAdjustTime:     sample.LastAdjustFundingRateTime,
		FundingSampleCount: sample.SampleCount,
	}, true
}

// PositionView snapshots one trader position.
func (e *Engine) PositionView(poolID, account uuid.UUID, side model.Side) (*PositionView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return nil, false
	}
	pos := p.Position(account, side)
	if pos == nil {
		return nil, false
	}
	return &PositionView{
		Account:                   account,
		Side:                      side.String(),
		Margin:                    pos.Margin.String(),
		Size:                      pos.Size.String(),
		EntryPriceX96:             pos.EntryPriceX96.String(),
		EntryFundingRateGrowthX96: pos.EntryFundingRateGrowthX96.String(),
	}, true
}

// LiquidityPositionView snapshots one LP position.
func (e *Engine) LiquidityPositionView(poolID, account uuid.UUID) (*LiquidityPositionView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return nil, false
	}
	pos := p.LiquidityPosition(account)
	if pos == nil {
		return nil, false
	}
	return &LiquidityPositionView{
		Account:             account,
		Margin:              pos.Margin.String(),
		Liquidity:           pos.Liquidity.String(),
		EntryUnrealizedLoss: pos.EntryUnrealizedLoss.String(),
		EntryTime:           pos.EntryTime,
	}, true
}

// QueuesView snapshots every request queue's cursors.
func (e *Engine) QueuesView() QueuesView {
	e.mu.Lock()
	defer e.mu.Unlock()

	kinds := []router.RequestKind{
		router.KindOpenLiquidityPosition,
		router.KindCloseLiquidityPosition,
		router.KindAdjustLiquidityPositionMargin,
		router.KindIncreasePosition,
		router.KindDecreasePosition,
		router.KindIncreaseRiskBufferFundPosition,
		router.KindDecreaseRiskBufferFundPosition,
	}

	v := QueuesView{Requests: make([]QueueView, 0, len(kinds))}
	for _, kind := range kinds {
		index, indexNext := e.positionRouter.QueueStatus(kind)
		v.Requests = append(v.Requests, QueueView{
			Kind:      kind.String(),
			Index:     index,
			IndexNext: indexNext,
		})
	}
	v.IncreaseOrdersNext = e.orderBook.IncreaseOrdersIndexNext()
	v.DecreaseOrdersNext = e.orderBook.DecreaseOrdersIndexNext()
	return v
}

// MulticallView plans the next keeper pass without executing it.
func (e *Engine) MulticallView() *router.Multicall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assistant.CalculateNextMulticall(e.cfg.MulticallChunk)
}

// Balance returns an account's free vault balance as a decimal string.
func (e *Engine) Balance(account uuid.UUID) string {
	return e.vault.BalanceOf(account).String()
}
