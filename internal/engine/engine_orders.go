package engine

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

func (e *Engine) orderEvent(t event.Type, decrease bool, index uint64, account, poolID uuid.UUID) {
	e.emit(t, &poolID, &account, &event.OrderLifecycle{
		Decrease: decrease,
		Index:    index,
		Account:  account,
		PoolID:   poolID,
	})
	if e.metrics == nil {
		return
	}
	label := "increase"
	if decrease {
		label = "decrease"
	}
	switch t {
	case event.TypeOrderCreated:
		e.metrics.OrdersCreated.WithLabelValues(label).Inc()
	case event.TypeOrderExecuted:
		e.metrics.OrdersExecuted.WithLabelValues(label).Inc()
	case event.TypeOrderCancelled:
		e.metrics.OrdersCancelled.WithLabelValues(label).Inc()
	}
}

func (e *Engine) CreateIncreaseOrder(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.orderBook.CreateIncreaseOrder(caller, account, poolID, side, marginDelta, sizeDelta, triggerPriceX96, triggerAbove, acceptableTradePriceX96, executionFee)
	if err == nil {
		e.orderEvent(event.TypeOrderCreated, false, index, account, poolID)
	}
	return index, err
}

func (e *Engine) UpdateIncreaseOrder(caller uuid.UUID, index uint64, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.orderBook.UpdateIncreaseOrder(caller, index, triggerPriceX96, triggerAbove, acceptableTradePriceX96)
	if err == nil {
		o := e.orderBook.IncreaseOrder(index)
		e.orderEvent(event.TypeOrderUpdated, false, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) CancelIncreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.orderBook.IncreaseOrder(index)
	err := e.orderBook.CancelIncreaseOrder(caller, index, feeReceiver)
	if err == nil && o != nil {
		e.orderEvent(event.TypeOrderCancelled, false, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) ExecuteIncreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.orderBook.IncreaseOrder(index)
	err := e.orderBook.ExecuteIncreaseOrder(caller, index, feeReceiver)
	if err == nil && o != nil {
		e.orderEvent(event.TypeOrderExecuted, false, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) CreateDecreaseOrder(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.orderBook.CreateDecreaseOrder(caller, account, poolID, side, marginDelta, sizeDelta, triggerPriceX96, triggerAbove, acceptableTradePriceX96, receiver, executionFee)
	if err == nil {
		e.orderEvent(event.TypeOrderCreated, true, index, account, poolID)
	}
	return index, err
}

func (e *Engine) UpdateDecreaseOrder(caller uuid.UUID, index uint64, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.orderBook.UpdateDecreaseOrder(caller, index, triggerPriceX96, triggerAbove, acceptableTradePriceX96)
	if err == nil {
		o := e.orderBook.DecreaseOrder(index)
		e.orderEvent(event.TypeOrderUpdated, true, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) CancelDecreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.orderBook.DecreaseOrder(index)
	err := e.orderBook.CancelDecreaseOrder(caller, index, feeReceiver)
	if err == nil && o != nil {
		e.orderEvent(event.TypeOrderCancelled, true, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) ExecuteDecreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.orderBook.DecreaseOrder(index)
	err := e.orderBook.ExecuteDecreaseOrder(caller, index, feeReceiver)
	if err == nil && o != nil {
		e.orderEvent(event.TypeOrderExecuted, true, index, o.Account, o.PoolID)
	}
	return err
}

func (e *Engine) CreateTakeProfitAndStopLossOrders(
	caller, account, poolID uuid.UUID,
	side model.Side,
	marginDeltas, sizeDeltas, triggerPricesX96, acceptableTradePricesX96 [2]*uint256.Int,
	receiver uuid.UUID,
	executionFee *uint256.Int,
) (takeProfitIndex, stopLossIndex uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	first := e.orderBook.DecreaseOrdersIndexNext()
	takeProfitIndex, stopLossIndex, err = e.orderBook.CreateTakeProfitAndStopLossOrders(
		caller, account, poolID, side, marginDeltas, sizeDeltas, triggerPricesX96, acceptableTradePricesX96, receiver, executionFee)
	// A failed stop-loss create rolls the take-profit back, leaving a
	// tombstoned index behind. Emit only for orders still in the book.
	for i := first; i < e.orderBook.DecreaseOrdersIndexNext(); i++ {
		if e.orderBook.DecreaseOrder(i) == nil {
			continue
		}
		e.orderEvent(event.TypeOrderCreated, true, i, account, poolID)
	}
	return takeProfitIndex, stopLossIndex, err
}
