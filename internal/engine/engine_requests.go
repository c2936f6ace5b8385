package engine

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/router"
)

// The engine mirrors the routers' request surface so every accepted
// mutation leaves through the event pipeline. Wrappers delegate under the
// engine lock and emit only when the underlying operation applied;
// cancel and execute on a vacant slot stay silent no-ops.

func (e *Engine) requestEvent(t event.Type, kind router.RequestKind, index uint64, account, poolID uuid.UUID) {
	e.emit(t, &poolID, &account, &event.RequestLifecycle{
		Kind:    kind.String(),
		Index:   index,
		Account: account,
		PoolID:  poolID,
	})
	if e.metrics == nil {
		return
	}
	switch t {
	case event.TypeRequestCreated:
		e.metrics.RequestsCreated.WithLabelValues(kind.String()).Inc()
	case event.TypeRequestExecuted:
		e.metrics.RequestsExecuted.WithLabelValues(kind.String()).Inc()
	case event.TypeRequestCancelled:
		e.metrics.RequestsCancelled.WithLabelValues(kind.String()).Inc()
	}
}

func (e *Engine) created(kind router.RequestKind, index uint64, err error, account, poolID uuid.UUID) {
	if err == nil {
		e.requestEvent(event.TypeRequestCreated, kind, index, account, poolID)
	}
}

// cancelled emits a cancellation event for a request that was pending
// before the call and is gone now.
func (e *Engine) cancelled(kind router.RequestKind, index uint64, before router.RequestMeta, hadBefore bool, err error) {
	if err != nil || !hadBefore {
		return
	}
	if _, still := e.positionRouter.Request(kind, index); still {
		return
	}
	e.requestEvent(event.TypeRequestCancelled, kind, index, before.Account, before.PoolID)
}

func (e *Engine) CreateOpenLiquidityPosition(caller, account, poolID uuid.UUID, margin, liquidity, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateOpenLiquidityPosition(caller, account, poolID, margin, liquidity, executionFee)
	e.created(router.KindOpenLiquidityPosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelOpenLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindOpenLiquidityPosition, index)
	err := e.positionRouter.CancelOpenLiquidityPosition(caller, index, feeReceiver)
	e.cancelled(router.KindOpenLiquidityPosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteOpenLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.OpenLiquidityPositionRequest(index)
	err := e.positionRouter.ExecuteOpenLiquidityPosition(caller, index, feeReceiver)
	if err == nil && req != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindOpenLiquidityPosition, index, req.Account, req.PoolID)
		e.emit(event.TypeLiquidityPositionOpened, &req.PoolID, &req.Account, &event.LiquidityPositionOpened{
			PoolID:    req.PoolID,
			Account:   req.Account,
			Margin:    req.Margin.String(),
			Liquidity: req.Liquidity.String(),
		})
	}
	return err
}

func (e *Engine) CreateCloseLiquidityPosition(caller, account, poolID, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateCloseLiquidityPosition(caller, account, poolID, receiver, executionFee)
	e.created(router.KindCloseLiquidityPosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelCloseLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindCloseLiquidityPosition, index)
	err := e.positionRouter.CancelCloseLiquidityPosition(caller, index, feeReceiver)
	e.cancelled(router.KindCloseLiquidityPosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteCloseLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.CloseLiquidityPositionRequest(index)
	var balanceBefore *uint256.Int
	if req != nil {
		balanceBefore = e.vault.BalanceOf(req.Receiver)
	}
	err := e.positionRouter.ExecuteCloseLiquidityPosition(caller, index, feeReceiver)
	if err == nil && req != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindCloseLiquidityPosition, index, req.Account, req.PoolID)
		payout := new(uint256.Int).Sub(e.vault.BalanceOf(req.Receiver), balanceBefore)
		if req.Receiver == feeReceiver {
			payout.Sub(payout, req.ExecutionFee)
		}
		e.emit(event.TypeLiquidityPositionClosed, &req.PoolID, &req.Account, &event.LiquidityPositionClosed{
			PoolID:   req.PoolID,
			Account:  req.Account,
			Payout:   payout.String(),
			Receiver: req.Receiver,
		})
	}
	return err
}

func (e *Engine) CreateAdjustLiquidityPositionMargin(caller, account, poolID uuid.UUID, marginDelta *big.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateAdjustLiquidityPositionMargin(caller, account, poolID, marginDelta, receiver, executionFee)
	e.created(router.KindAdjustLiquidityPositionMargin, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelAdjustLiquidityPositionMargin(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindAdjustLiquidityPositionMargin, index)
	err := e.positionRouter.CancelAdjustLiquidityPositionMargin(caller, index, feeReceiver)
	e.cancelled(router.KindAdjustLiquidityPositionMargin, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteAdjustLiquidityPositionMargin(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.AdjustLiquidityPositionMarginRequest(index)
	err := e.positionRouter.ExecuteAdjustLiquidityPositionMargin(caller, index, feeReceiver)
	if err == nil && req != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindAdjustLiquidityPositionMargin, index, req.Account, req.PoolID)
		e.emit(event.TypeLiquidityPositionMarginAdjusted, &req.PoolID, &req.Account, &event.LiquidityPositionMarginAdjusted{
			PoolID:      req.PoolID,
			Account:     req.Account,
			MarginDelta: req.MarginDelta.String(),
		})
	}
	return err
}

func (e *Engine) CreateIncreasePosition(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, acceptableTradePriceX96, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateIncreasePosition(caller, account, poolID, side, marginDelta, sizeDelta, acceptableTradePriceX96, executionFee)
	e.created(router.KindIncreasePosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelIncreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindIncreasePosition, index)
	err := e.positionRouter.CancelIncreasePosition(caller, index, feeReceiver)
	e.cancelled(router.KindIncreasePosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteIncreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.IncreasePositionRequest(index)
	var priceX96 *uint256.Int
	if req != nil {
		if p, ok := e.pools[req.PoolID]; ok {
			priceX96 = p.MarketPriceX96(req.Side, true)
		}
	}
	err := e.positionRouter.ExecuteIncreasePosition(caller, index, feeReceiver)
	if err == nil && req != nil && priceX96 != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindIncreasePosition, index, req.Account, req.PoolID)
		e.emit(event.TypePositionIncreased, &req.PoolID, &req.Account, &event.PositionIncreased{
			PoolID:        req.PoolID,
			Account:       req.Account,
			Side:          req.Side.String(),
			MarginDelta:   req.MarginDelta.String(),
			SizeDelta:     req.SizeDelta.String(),
			TradePriceX96: priceX96.String(),
		})
	}
	return err
}

func (e *Engine) CreateDecreasePosition(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, acceptableTradePriceX96 *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateDecreasePosition(caller, account, poolID, side, marginDelta, sizeDelta, acceptableTradePriceX96, receiver, executionFee)
	e.created(router.KindDecreasePosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelDecreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindDecreasePosition, index)
	err := e.positionRouter.CancelDecreasePosition(caller, index, feeReceiver)
	e.cancelled(router.KindDecreasePosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteDecreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.DecreasePositionRequest(index)
	var priceX96, balanceBefore *uint256.Int
	if req != nil {
		if p, ok := e.pools[req.PoolID]; ok {
			priceX96 = p.MarketPriceX96(req.Side, false)
		}
		balanceBefore = e.vault.BalanceOf(req.Receiver)
	}
	err := e.positionRouter.ExecuteDecreasePosition(caller, index, feeReceiver)
	if err == nil && req != nil && priceX96 != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindDecreasePosition, index, req.Account, req.PoolID)
		released := new(uint256.Int).Sub(e.vault.BalanceOf(req.Receiver), balanceBefore)
		if req.Receiver == feeReceiver {
			released.Sub(released, req.ExecutionFee)
		}
		e.emit(event.TypePositionDecreased, &req.PoolID, &req.Account, &event.PositionDecreased{
			PoolID:         req.PoolID,
			Account:        req.Account,
			Side:           req.Side.String(),
			MarginDelta:    req.MarginDelta.String(),
			SizeDelta:      req.SizeDelta.String(),
			TradePriceX96:  priceX96.String(),
			MarginReleased: released.String(),
			Receiver:       req.Receiver,
		})
	}
	return err
}

func (e *Engine) CreateIncreaseRiskBufferFundPosition(caller, account, poolID uuid.UUID, liquidityDelta, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateIncreaseRiskBufferFundPosition(caller, account, poolID, liquidityDelta, executionFee)
	e.created(router.KindIncreaseRiskBufferFundPosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelIncreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindIncreaseRiskBufferFundPosition, index)
	err := e.positionRouter.CancelIncreaseRiskBufferFundPosition(caller, index, feeReceiver)
	e.cancelled(router.KindIncreaseRiskBufferFundPosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteIncreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.IncreaseRiskBufferFundPositionRequest(index)
	err := e.positionRouter.ExecuteIncreaseRiskBufferFundPosition(caller, index, feeReceiver)
	if err == nil && req != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindIncreaseRiskBufferFundPosition, index, req.Account, req.PoolID)
		var unlockTime int64
		if p, ok := e.pools[req.PoolID]; ok {
			if pos := p.RiskBufferFundPosition(req.Account); pos != nil {
				unlockTime = pos.UnlockTime
			}
		}
		e.emit(event.TypeRiskBufferFundPositionIncreased, &req.PoolID, &req.Account, &event.RiskBufferFundPositionIncreased{
			PoolID:         req.PoolID,
			Account:        req.Account,
			LiquidityDelta: req.LiquidityDelta.String(),
			UnlockTime:     unlockTime,
		})
	}
	return err
}

func (e *Engine) CreateDecreaseRiskBufferFundPosition(caller, account, poolID uuid.UUID, liquidityDelta *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.positionRouter.CreateDecreaseRiskBufferFundPosition(caller, account, poolID, liquidityDelta, receiver, executionFee)
	e.created(router.KindDecreaseRiskBufferFundPosition, index, err, account, poolID)
	return index, err
}

func (e *Engine) CancelDecreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	before, ok := e.positionRouter.Request(router.KindDecreaseRiskBufferFundPosition, index)
	err := e.positionRouter.CancelDecreaseRiskBufferFundPosition(caller, index, feeReceiver)
	e.cancelled(router.KindDecreaseRiskBufferFundPosition, index, before, ok, err)
	return err
}

func (e *Engine) ExecuteDecreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.positionRouter.DecreaseRiskBufferFundPositionRequest(index)
	err := e.positionRouter.ExecuteDecreaseRiskBufferFundPosition(caller, index, feeReceiver)
	if err == nil && req != nil {
		e.requestEvent(event.TypeRequestExecuted, router.KindDecreaseRiskBufferFundPosition, index, req.Account, req.PoolID)
		e.emit(event.TypeRiskBufferFundPositionDecreased, &req.PoolID, &req.Account, &event.RiskBufferFundPositionDecreased{
			PoolID:         req.PoolID,
			Account:        req.Account,
			LiquidityDelta: req.LiquidityDelta.String(),
			Receiver:       req.Receiver,
		})
	}
	return err
}

// ExecuteMulticall runs one keeper pass: it computes the next multicall
// over all seven queues and drives each batch up to its inclusive end
// index. Batch drivers advance cursors past failures themselves, so a
// single ripe request cannot stall the pass. Per-request lifecycle events
// for batched requests are reconstructed downstream from cursor movement.
func (e *Engine) ExecuteMulticall(executor, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.assistant.CalculateNextMulticall(e.cfg.MulticallChunk)

	// IndexEnd is inclusive; the batch drivers take an exclusive bound.
	// An empty range wraps to end == cursor and the driver no-ops.
	if err := e.positionRouter.ExecuteOpenLiquidityPositions(executor, m.OpenLiquidityPositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteCloseLiquidityPositions(executor, m.CloseLiquidityPositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteAdjustLiquidityPositionMargins(executor, m.AdjustLiquidityPositionMargins.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteIncreasePositions(executor, m.IncreasePositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteDecreasePositions(executor, m.DecreasePositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteIncreaseRiskBufferFundPositions(executor, m.IncreaseRiskBufferFundPositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}
	if err := e.positionRouter.ExecuteDecreaseRiskBufferFundPositions(executor, m.DecreaseRiskBufferFundPositions.IndexEnd+1, feeReceiver); err != nil {
		return err
	}

	if e.metrics != nil {
		for _, kind := range []router.RequestKind{
			router.KindOpenLiquidityPosition,
			router.KindCloseLiquidityPosition,
			router.KindAdjustLiquidityPositionMargin,
			router.KindIncreasePosition,
			router.KindDecreasePosition,
			router.KindIncreaseRiskBufferFundPosition,
			router.KindDecreaseRiskBufferFundPosition,
		} {
			index, indexNext := e.positionRouter.QueueStatus(kind)
			e.metrics.RequestQueueDepth.WithLabelValues(kind.String()).Set(float64(indexNext - index))
		}
	}
	return nil
}

// ExecuteRipeOrders tries every live order against the current market
// price. Orders whose trigger is not met simply stay pending; other
// failures are logged and the order is left for a later pass or a cancel.
func (e *Engine) ExecuteRipeOrders(executor, feeReceiver uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := uint64(0); i < e.orderBook.IncreaseOrdersIndexNext(); i++ {
		o := e.orderBook.IncreaseOrder(i)
		if o == nil {
			continue
		}
		if err := e.orderBook.ExecuteIncreaseOrder(executor, i, feeReceiver); err != nil {
			e.log.Debug().Uint64("index", i).Err(err).Msg("increase order not executed")
			continue
		}
		e.orderEvent(event.TypeOrderExecuted, false, i, o.Account, o.PoolID)
	}
	for i := uint64(0); i < e.orderBook.DecreaseOrdersIndexNext(); i++ {
		o := e.orderBook.DecreaseOrder(i)
		if o == nil {
			continue
		}
		if err := e.orderBook.ExecuteDecreaseOrder(executor, i, feeReceiver); err != nil {
			e.log.Debug().Uint64("index", i).Err(err).Msg("decrease order not executed")
			continue
		}
		e.orderEvent(event.TypeOrderExecuted, true, i, o.Account, o.PoolID)
	}
}
