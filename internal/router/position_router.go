package router

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// OpenLiquidityPositionRequest asks to deposit margin and liquidity into a
// pool's LP position.
type OpenLiquidityPositionRequest struct {
	RequestMeta
	Margin    *uint256.Int
	Liquidity *uint256.Int
}

func (r *OpenLiquidityPositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// CloseLiquidityPositionRequest asks to remove the account's LP position
// and pay the proceeds to Receiver.
type CloseLiquidityPositionRequest struct {
	RequestMeta
	Receiver uuid.UUID
}

func (r *CloseLiquidityPositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// AdjustLiquidityPositionMarginRequest deposits (positive) or withdraws
// (negative) LP margin.
type AdjustLiquidityPositionMarginRequest struct {
	RequestMeta
	MarginDelta *big.Int
	Receiver    uuid.UUID
}

func (r *AdjustLiquidityPositionMarginRequest) meta() *RequestMeta { return &r.RequestMeta }

// IncreasePositionRequest opens or grows a trader position.
type IncreasePositionRequest struct {
	RequestMeta
	Side                    model.Side
	MarginDelta             *uint256.Int
	SizeDelta               *uint256.Int
	AcceptableTradePriceX96 *uint256.Int
}

func (r *IncreasePositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// DecreasePositionRequest shrinks or closes a trader position, paying the
// released margin to Receiver.
type DecreasePositionRequest struct {
	RequestMeta
	Side                    model.Side
	MarginDelta             *uint256.Int
	SizeDelta               *uint256.Int
	AcceptableTradePriceX96 *uint256.Int
	Receiver                uuid.UUID
}

func (r *DecreasePositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// IncreaseRiskBufferFundPositionRequest contributes to the pool's risk
// buffer fund.
type IncreaseRiskBufferFundPositionRequest struct {
	RequestMeta
	LiquidityDelta *uint256.Int
}

func (r *IncreaseRiskBufferFundPositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// DecreaseRiskBufferFundPositionRequest withdraws a matured risk buffer
// fund contribution to Receiver.
type DecreaseRiskBufferFundPositionRequest struct {
	RequestMeta
	LiquidityDelta *uint256.Int
	Receiver       uuid.UUID
}

func (r *DecreaseRiskBufferFundPositionRequest) meta() *RequestMeta { return &r.RequestMeta }

// PositionRouter queues market position, liquidity, and risk-buffer-fund
// requests for delayed execution.
type PositionRouter struct {
	cfg      Config
	chain    Chain
	treasury Treasury
	markets  MarketRegistry
	access   *AccessControl
	logger   zerolog.Logger

	openLiquidityPositions          queue[*OpenLiquidityPositionRequest]
	closeLiquidityPositions         queue[*CloseLiquidityPositionRequest]
	adjustLiquidityPositionMargins  queue[*AdjustLiquidityPositionMarginRequest]
	increasePositions               queue[*IncreasePositionRequest]
	decreasePositions               queue[*DecreasePositionRequest]
	increaseRiskBufferFundPositions queue[*IncreaseRiskBufferFundPositionRequest]
	decreaseRiskBufferFundPositions queue[*DecreaseRiskBufferFundPositionRequest]
}

func NewPositionRouter(cfg Config, chain Chain, treasury Treasury, markets MarketRegistry, access *AccessControl, logger zerolog.Logger) *PositionRouter {
	return &PositionRouter{
		cfg:                             cfg,
		chain:                           chain,
		treasury:                        treasury,
		markets:                         markets,
		access:                          access,
		logger:                          logger.With().Str("component", "position_router").Logger(),
		openLiquidityPositions:          newQueue[*OpenLiquidityPositionRequest](),
		closeLiquidityPositions:         newQueue[*CloseLiquidityPositionRequest](),
		adjustLiquidityPositionMargins:  newQueue[*AdjustLiquidityPositionMarginRequest](),
		increasePositions:               newQueue[*IncreasePositionRequest](),
		decreasePositions:               newQueue[*DecreasePositionRequest](),
		increaseRiskBufferFundPositions: newQueue[*IncreaseRiskBufferFundPositionRequest](),
		decreaseRiskBufferFundPositions: newQueue[*DecreaseRiskBufferFundPositionRequest](),
	}
}

// UpdateDelayValues replaces the delay windows. Requests already pending
// are checked against the new windows on their next execute or cancel.
func (r *PositionRouter) UpdateDelayValues(minBlockDelayExecutor uint64, minTimeDelayPublic, maxTimeDelay int64) error {
	next := r.cfg
	next.MinBlockDelayExecutor = minBlockDelayExecutor
	next.MinTimeDelayPublic = minTimeDelayPublic
	next.MaxTimeDelay = maxTimeDelay
	if err := next.validateDelays(); err != nil {
		return err
	}
	r.cfg = next
	r.logger.Info().
		Uint64("min_block_delay_executor", minBlockDelayExecutor).
		Int64("min_time_delay_public", minTimeDelayPublic).
		Int64("max_time_delay", maxTimeDelay).
		Msg("delay values updated")
	return nil
}

// Typed lookups for pending requests, nil when the slot is vacant.

func (r *PositionRouter) OpenLiquidityPositionRequest(index uint64) *OpenLiquidityPositionRequest {
	req, _ := r.openLiquidityPositions.get(index)
	return req
}

func (r *PositionRouter) CloseLiquidityPositionRequest(index uint64) *CloseLiquidityPositionRequest {
	req, _ := r.closeLiquidityPositions.get(index)
	return req
}

func (r *PositionRouter) AdjustLiquidityPositionMarginRequest(index uint64) *AdjustLiquidityPositionMarginRequest {
	req, _ := r.adjustLiquidityPositionMargins.get(index)
	return req
}

func (r *PositionRouter) IncreasePositionRequest(index uint64) *IncreasePositionRequest {
	req, _ := r.increasePositions.get(index)
	return req
}

func (r *PositionRouter) DecreasePositionRequest(index uint64) *DecreasePositionRequest {
	req, _ := r.decreasePositions.get(index)
	return req
}

func (r *PositionRouter) IncreaseRiskBufferFundPositionRequest(index uint64) *IncreaseRiskBufferFundPositionRequest {
	req, _ := r.increaseRiskBufferFundPositions.get(index)
	return req
}

func (r *PositionRouter) DecreaseRiskBufferFundPositionRequest(index uint64) *DecreaseRiskBufferFundPositionRequest {
	req, _ := r.decreaseRiskBufferFundPositions.get(index)
	return req
}

func (r *PositionRouter) newMeta(account, poolID uuid.UUID, executionFee *uint256.Int) RequestMeta {
	return RequestMeta{
		Account:      account,
		PoolID:       poolID,
		ExecutionFee: new(uint256.Int).Set(executionFee),
		BlockNumber:  r.chain.BlockNumber(),
		BlockTime:    r.chain.Timestamp(),
	}
}

func (r *PositionRouter) authorizeCaller(caller, account uuid.UUID) error {
	if caller == account || r.access.IsPluginApproved(account, caller) {
		return nil
	}
	return &CallerUnauthorizedError{Account: account, Caller: caller}
}

func (r *PositionRouter) checkExecutionFee(fee *uint256.Int) error {
	if fee.Cmp(r.cfg.MinExecutionFee) < 0 {
		return &InsufficientExecutionFeeError{Provided: fee, Required: r.cfg.MinExecutionFee}
	}
	return nil
}

// checkExecute gates a single-item execute: the owner after the public time
// delay, an executor after the block delay, nobody else. Requests past
// maxTimeDelay can only be cancelled.
func (r *PositionRouter) checkExecute(m *RequestMeta, caller uuid.UUID) error {
	expiry := m.BlockTime + r.cfg.MaxTimeDelay
	if r.chain.Timestamp() > expiry {
		return &ExpiredError{ExpiredAt: expiry}
	}
	if r.access.IsExecutor(caller) {
		if earliest := m.BlockNumber + r.cfg.MinBlockDelayExecutor; r.chain.BlockNumber() < earliest {
			return &TooEarlyError{EarliestBlock: earliest}
		}
		return nil
	}
	if caller == m.Account {
		if earliest := m.BlockTime + r.cfg.MinTimeDelayPublic; r.chain.Timestamp() < earliest {
			return &TooEarlyError{EarliestTime: earliest}
		}
		return nil
	}
	return &ForbiddenError{}
}

// checkCancel gates a cancel: the owner at any time, an executor after the
// block delay, the public after the time delay.
func (r *PositionRouter) checkCancel(m *RequestMeta, caller uuid.UUID) error {
	if caller == m.Account {
		return nil
	}
	if r.access.IsExecutor(caller) {
		if earliest := m.BlockNumber + r.cfg.MinBlockDelayExecutor; r.chain.BlockNumber() < earliest {
			return &TooEarlyError{EarliestBlock: earliest}
		}
		return nil
	}
	if earliest := m.BlockTime + r.cfg.MinTimeDelayPublic; r.chain.Timestamp() < earliest {
		return &TooEarlyError{EarliestTime: earliest}
	}
	return nil
}

// cancelFunds refunds the escrow to the owner, tombstones the request and
// pays the execution fee to the canceller's receiver. A failed refund
// leaves the request pending with no funds moved; once the refund lands
// the request is removed before the fee payout, so a retried cancel can
// never refund twice.
func (r *PositionRouter) cancelFunds(m *RequestMeta, refund *uint256.Int, feeReceiver uuid.UUID, remove func()) error {
	if refund != nil && !refund.IsZero() {
		if err := r.treasury.TransferOut(m.Account, refund); err != nil {
			return err
		}
	}
	remove()
	return r.treasury.TransferOut(feeReceiver, m.ExecutionFee)
}

func (r *PositionRouter) market(poolID uuid.UUID) (Market, error) {
	market, ok := r.markets.Market(poolID)
	if !ok {
		return nil, &MarketNotFoundError{PoolID: poolID}
	}
	return market, nil
}

// runBatch drives one queue from its cursor up to min(endIndex, indexNext).
// Each ripe item is executed; an expired or failing item degrades to a
// cancellation attempt; an item whose cancel also fails is skipped. The
// cursor advances past every visited item. An item the executor delay has
// not yet ripened stops the batch without advancing, since later items are
// newer still.
func runBatch[R request](
	r *PositionRouter,
	q *queue[R],
	endIndex uint64,
	feeReceiver uuid.UUID,
	execute func(R) error,
	refund func(R) *uint256.Int,
) {
	end := min(endIndex, q.indexNext)
	now := r.chain.Timestamp()
	block := r.chain.BlockNumber()

	for i := q.index; i < end; i++ {
		req, ok := q.get(i)
		if !ok {
			q.index = i + 1
			continue
		}
		m := req.meta()
		if block < m.BlockNumber+r.cfg.MinBlockDelayExecutor {
			break
		}

		var err error
		if now > m.BlockTime+r.cfg.MaxTimeDelay {
			err = &ExpiredError{ExpiredAt: m.BlockTime + r.cfg.MaxTimeDelay}
		} else if err = execute(req); err == nil {
			q.remove(i)
			if feeErr := r.treasury.TransferOut(feeReceiver, m.ExecutionFee); feeErr != nil {
				r.logger.Warn().Err(feeErr).Uint64("index", i).Msg("execution fee payout failed")
			}
		}
		if err != nil {
			removed := false
			cancelErr := r.cancelFunds(m, refund(req), feeReceiver, func() {
				q.remove(i)
				removed = true
			})
			switch {
			case cancelErr != nil && !removed:
				r.logger.Warn().Err(cancelErr).Uint64("index", i).Msg("request skipped: execute and cancel both failed")
			case cancelErr != nil:
				r.logger.Warn().Err(cancelErr).Uint64("index", i).Msg("cancellation fee payout failed")
			default:
				r.logger.Debug().Err(err).Uint64("index", i).Msg("request cancelled after failed execution")
			}
		}
		q.index = i + 1
	}
}
