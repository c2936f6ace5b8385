// Package router implements the delayed-execution request machinery in
// front of the market pools: the position router and order book accept
// requests with an escrowed execution fee, and executors (or the owner,
// after the public delay) later execute or cancel them. Batch drivers
// always advance their cursor so no single request can stall the queue.
package router

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// Chain supplies the ambient block number and timestamp that the delay
// guards are checked against.
type Chain interface {
	BlockNumber() uint64
	Timestamp() int64
}

// Treasury moves tokens between accounts and the router's escrow. A failed
// transfer returns an error and the operation does not apply.
type Treasury interface {
	TransferIn(from uuid.UUID, amount *uint256.Int) error
	TransferOut(to uuid.UUID, amount *uint256.Int) error
}

// Market is the settlement surface a request executes against. *pool.Pool
// implements it; tests substitute doubles that fail on demand.
type Market interface {
	MarketPriceX96(side model.Side, opening bool) *uint256.Int
	IncreasePosition(account uuid.UUID, side model.Side, marginDelta, sizeDelta *uint256.Int) (*uint256.Int, error)
	DecreasePosition(account uuid.UUID, side model.Side, marginDelta, sizeDelta *uint256.Int) (*uint256.Int, *uint256.Int, error)
	OpenLiquidityPosition(account uuid.UUID, margin, liquidity *uint256.Int) error
	CloseLiquidityPosition(account uuid.UUID) (*uint256.Int, error)
	AdjustLiquidityPositionMargin(account uuid.UUID, marginDelta *big.Int) error
	IncreaseRiskBufferFundPosition(account uuid.UUID, liquidityDelta *uint256.Int) error
	DecreaseRiskBufferFundPosition(account uuid.UUID, liquidityDelta *uint256.Int) error
}

// MarketRegistry resolves the pool a request targets.
type MarketRegistry interface {
	Market(id uuid.UUID) (Market, bool)
}

// Config holds the shared delay and fee parameters.
type Config struct {
	MinExecutionFee       *uint256.Int
	MinBlockDelayExecutor uint64
	MinTimeDelayPublic    int64
	MaxTimeDelay          int64
}

func (c Config) validateDelays() error {
	if c.MinTimeDelayPublic > c.MaxTimeDelay {
		return &InvalidDelayValuesError{
			MinTimeDelayPublic: c.MinTimeDelayPublic,
			MaxTimeDelay:       c.MaxTimeDelay,
		}
	}
	return nil
}

// AccessControl tracks the designated executors and per-account plugin
// approvals. Both sets are governance-managed.
type AccessControl struct {
	executors map[uuid.UUID]bool
	plugins   map[uuid.UUID]map[uuid.UUID]bool
}

func NewAccessControl() *AccessControl {
	return &AccessControl{
		executors: make(map[uuid.UUID]bool),
		plugins:   make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (a *AccessControl) SetExecutor(account uuid.UUID, enabled bool) {
	if enabled {
		a.executors[account] = true
		return
	}
	delete(a.executors, account)
}

func (a *AccessControl) IsExecutor(account uuid.UUID) bool {
	return a.executors[account]
}

// ApprovePlugin lets plugin act on account's behalf in create calls.
func (a *AccessControl) ApprovePlugin(account, plugin uuid.UUID) {
	approved := a.plugins[account]
	if approved == nil {
		approved = make(map[uuid.UUID]bool)
		a.plugins[account] = approved
	}
	approved[plugin] = true
}

func (a *AccessControl) RevokePlugin(account, plugin uuid.UUID) {
	delete(a.plugins[account], plugin)
}

func (a *AccessControl) IsPluginApproved(account, plugin uuid.UUID) bool {
	return a.plugins[account][plugin]
}

// RequestMeta is the bookkeeping shared by every request kind.
type RequestMeta struct {
	Account      uuid.UUID
	PoolID       uuid.UUID
	ExecutionFee *uint256.Int
	BlockNumber  uint64
	BlockTime    int64
}

type request interface {
	meta() *RequestMeta
}

// queue is an append-only indexed table of pending requests. Terminal
// requests are tombstoned by removal from the table; index is the batch
// cursor and only ever advances.
type queue[R request] struct {
	index     uint64
	indexNext uint64
	requests  map[uint64]R
}

func newQueue[R request]() queue[R] {
	return queue[R]{requests: make(map[uint64]R)}
}

func (q *queue[R]) add(r R) uint64 {
	i := q.indexNext
	q.requests[i] = r
	q.indexNext++
	return i
}

func (q *queue[R]) get(i uint64) (R, bool) {
	r, ok := q.requests[i]
	return r, ok
}

func (q *queue[R]) remove(i uint64) {
	delete(q.requests, i)
}

// validateTradePrice enforces the acceptable-trade-price bound. A zero
// bound disables the check. Opening a long or closing a short caps the
// price from above; the mirror cases cap it from below.
func validateTradePrice(side model.Side, opening bool, tradePriceX96, acceptableTradePriceX96 *uint256.Int) error {
	if acceptableTradePriceX96 == nil || acceptableTradePriceX96.IsZero() {
		return nil
	}
	capAbove := side.IsLong() == opening
	if capAbove && tradePriceX96.Cmp(acceptableTradePriceX96) > 0 ||
		!capAbove && tradePriceX96.Cmp(acceptableTradePriceX96) < 0 {
		return &InvalidTradePriceError{TradePriceX96: tradePriceX96, AcceptableTradePriceX96: acceptableTradePriceX96}
	}
	return nil
}
