package router

import "github.com/google/uuid"

// IndexRange delimits the next batch slice of one request queue. IndexNext
// is the execution cursor and IndexEnd is inclusive, so an empty queue
// yields IndexEnd == IndexNext-1.
type IndexRange struct {
	IndexNext uint64
	IndexEnd  uint64
}

// Multicall is one planned executor pass: a batch slice per request kind
// plus the distinct pools those requests touch, in first-seen order, so the
// executor can refresh each pool's funding sample up front.
type Multicall struct {
	Pools                           []uuid.UUID
	OpenLiquidityPositions          IndexRange
	CloseLiquidityPositions         IndexRange
	AdjustLiquidityPositionMargins  IndexRange
	IncreasePositions               IndexRange
	DecreasePositions               IndexRange
	IncreaseRiskBufferFundPositions IndexRange
	DecreaseRiskBufferFundPositions IndexRange
}

// ExecutorAssistant plans batch executions over a position router's queues.
type ExecutorAssistant struct {
	router *PositionRouter
}

func NewExecutorAssistant(router *PositionRouter) *ExecutorAssistant {
	return &ExecutorAssistant{router: router}
}

// CalculateNextMulticall computes, for each queue, the slice of at most
// chunk requests starting at its cursor, and collects the distinct pool IDs
// of the pending requests inside those slices.
func (a *ExecutorAssistant) CalculateNextMulticall(chunk uint64) *Multicall {
	m := &Multicall{}
	seen := make(map[uuid.UUID]bool)

	collect := func(q interface {
		bounds() (index, indexNext uint64)
		poolID(i uint64) (uuid.UUID, bool)
	}) IndexRange {
		index, indexNext := q.bounds()
		end := min(index+chunk, indexNext)
		for i := index; i < end; i++ {
			id, ok := q.poolID(i)
			if ok && !seen[id] {
				seen[id] = true
				m.Pools = append(m.Pools, id)
			}
		}
		return IndexRange{IndexNext: index, IndexEnd: end - 1}
	}

	m.OpenLiquidityPositions = collect(queueView[*OpenLiquidityPositionRequest]{&a.router.openLiquidityPositions})
	m.CloseLiquidityPositions = collect(queueView[*CloseLiquidityPositionRequest]{&a.router.closeLiquidityPositions})
	m.AdjustLiquidityPositionMargins = collect(queueView[*AdjustLiquidityPositionMarginRequest]{&a.router.adjustLiquidityPositionMargins})
	m.IncreasePositions = collect(queueView[*IncreasePositionRequest]{&a.router.increasePositions})
	m.DecreasePositions = collect(queueView[*DecreasePositionRequest]{&a.router.decreasePositions})
	m.IncreaseRiskBufferFundPositions = collect(queueView[*IncreaseRiskBufferFundPositionRequest]{&a.router.increaseRiskBufferFundPositions})
	m.DecreaseRiskBufferFundPositions = collect(queueView[*DecreaseRiskBufferFundPositionRequest]{&a.router.decreaseRiskBufferFundPositions})
	return m
}

type queueView[R request] struct {
	q *queue[R]
}

func (v queueView[R]) bounds() (uint64, uint64) {
	return v.q.index, v.q.indexNext
}

func (v queueView[R]) poolID(i uint64) (uuid.UUID, bool) {
	r, ok := v.q.get(i)
	if !ok {
		return uuid.UUID{}, false
	}
	return r.meta().PoolID, true
}
