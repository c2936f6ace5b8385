package router

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// IncreaseOrder is a trigger-conditioned position increase. It stays
// pending until an executor fires it with the trigger satisfied or the
// owner cancels it; orders do not expire.
type IncreaseOrder struct {
	RequestMeta
	Side                    model.Side
	MarginDelta             *uint256.Int
	SizeDelta               *uint256.Int
	TriggerPriceX96         *uint256.Int
	TriggerAbove            bool
	AcceptableTradePriceX96 *uint256.Int
}

func (o *IncreaseOrder) meta() *RequestMeta { return &o.RequestMeta }

// DecreaseOrder is a trigger-conditioned position decrease, the building
// block of take-profit and stop-loss orders.
type DecreaseOrder struct {
	RequestMeta
	Side                    model.Side
	MarginDelta             *uint256.Int
	SizeDelta               *uint256.Int
	TriggerPriceX96         *uint256.Int
	TriggerAbove            bool
	AcceptableTradePriceX96 *uint256.Int
	Receiver                uuid.UUID
}

func (o *DecreaseOrder) meta() *RequestMeta { return &o.RequestMeta }

// OrderBook holds trigger orders keyed by sequential index.
type OrderBook struct {
	cfg      Config
	chain    Chain
	treasury Treasury
	markets  MarketRegistry
	access   *AccessControl
	logger   zerolog.Logger

	increaseOrders queue[*IncreaseOrder]
	decreaseOrders queue[*DecreaseOrder]
}

func NewOrderBook(cfg Config, chain Chain, treasury Treasury, markets MarketRegistry, access *AccessControl, logger zerolog.Logger) *OrderBook {
	return &OrderBook{
		cfg:            cfg,
		chain:          chain,
		treasury:       treasury,
		markets:        markets,
		access:         access,
		logger:         logger.With().Str("component", "order_book").Logger(),
		increaseOrders: newQueue[*IncreaseOrder](),
		decreaseOrders: newQueue[*DecreaseOrder](),
	}
}

// UpdateDelayValues replaces the delay windows for pending and future
// orders.
func (b *OrderBook) UpdateDelayValues(minBlockDelayExecutor uint64, minTimeDelayPublic, maxTimeDelay int64) error {
	next := b.cfg
	next.MinBlockDelayExecutor = minBlockDelayExecutor
	next.MinTimeDelayPublic = minTimeDelayPublic
	next.MaxTimeDelay = maxTimeDelay
	if err := next.validateDelays(); err != nil {
		return err
	}
	b.cfg = next
	b.logger.Info().
		Uint64("min_block_delay_executor", minBlockDelayExecutor).
		Int64("min_time_delay_public", minTimeDelayPublic).
		Int64("max_time_delay", maxTimeDelay).
		Msg("delay values updated")
	return nil
}

// IncreaseOrdersIndexNext is the index the next increase order will take.
func (b *OrderBook) IncreaseOrdersIndexNext() uint64 { return b.increaseOrders.indexNext }

// DecreaseOrdersIndexNext is the index the next decrease order will take.
func (b *OrderBook) DecreaseOrdersIndexNext() uint64 { return b.decreaseOrders.indexNext }

// IncreaseOrder returns the pending increase order at index, or nil.
func (b *OrderBook) IncreaseOrder(index uint64) *IncreaseOrder {
	o, _ := b.increaseOrders.get(index)
	return o
}

// DecreaseOrder returns the pending decrease order at index, or nil.
func (b *OrderBook) DecreaseOrder(index uint64) *DecreaseOrder {
	o, _ := b.decreaseOrders.get(index)
	return o
}

func (b *OrderBook) newMeta(account, poolID uuid.UUID, executionFee *uint256.Int) RequestMeta {
	return RequestMeta{
		Account:      account,
		PoolID:       poolID,
		ExecutionFee: new(uint256.Int).Set(executionFee),
		BlockNumber:  b.chain.BlockNumber(),
		BlockTime:    b.chain.Timestamp(),
	}
}

func (b *OrderBook) authorizeCaller(caller, account uuid.UUID) error {
	if caller == account || b.access.IsPluginApproved(account, caller) {
		return nil
	}
	return &CallerUnauthorizedError{Account: account, Caller: caller}
}

// checkExecute mirrors the position router's gate but without an expiry:
// trigger orders stay live until cancelled.
func (b *OrderBook) checkExecute(m *RequestMeta, caller uuid.UUID) error {
	if b.access.IsExecutor(caller) {
		if earliest := m.BlockNumber + b.cfg.MinBlockDelayExecutor; b.chain.BlockNumber() < earliest {
			return &TooEarlyError{EarliestBlock: earliest}
		}
		return nil
	}
	if caller == m.Account {
		if earliest := m.BlockTime + b.cfg.MinTimeDelayPublic; b.chain.Timestamp() < earliest {
			return &TooEarlyError{EarliestTime: earliest}
		}
		return nil
	}
	return &ForbiddenError{}
}

func (b *OrderBook) checkCancel(m *RequestMeta, caller uuid.UUID) error {
	if caller == m.Account {
		return nil
	}
	if b.access.IsExecutor(caller) {
		if earliest := m.BlockNumber + b.cfg.MinBlockDelayExecutor; b.chain.BlockNumber() < earliest {
			return &TooEarlyError{EarliestBlock: earliest}
		}
		return nil
	}
	if earliest := m.BlockTime + b.cfg.MinTimeDelayPublic; b.chain.Timestamp() < earliest {
		return &TooEarlyError{EarliestTime: earliest}
	}
	return nil
}

func checkTrigger(marketPriceX96, triggerPriceX96 *uint256.Int, triggerAbove bool) error {
	if triggerAbove && marketPriceX96.Cmp(triggerPriceX96) < 0 ||
		!triggerAbove && marketPriceX96.Cmp(triggerPriceX96) > 0 {
		return &InvalidMarketPriceToTriggerError{MarketPriceX96: marketPriceX96, TriggerPriceX96: triggerPriceX96}
	}
	return nil
}

// CreateIncreaseOrder escrows margin plus the execution fee and records the
// order.
func (b *OrderBook) CreateIncreaseOrder(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96, executionFee *uint256.Int) (uint64, error) {
	if err := b.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if executionFee.Cmp(b.cfg.MinExecutionFee) < 0 {
		return 0, &InsufficientExecutionFeeError{Provided: executionFee, Required: b.cfg.MinExecutionFee}
	}
	if err := b.treasury.TransferIn(account, new(uint256.Int).Add(marginDelta, executionFee)); err != nil {
		return 0, err
	}
	order := &IncreaseOrder{
		RequestMeta:             b.newMeta(account, poolID, executionFee),
		Side:                    side,
		MarginDelta:             new(uint256.Int).Set(marginDelta),
		SizeDelta:               new(uint256.Int).Set(sizeDelta),
		TriggerPriceX96:         new(uint256.Int).Set(triggerPriceX96),
		TriggerAbove:            triggerAbove,
		AcceptableTradePriceX96: new(uint256.Int).Set(acceptableTradePriceX96),
	}
	index := b.increaseOrders.add(order)
	b.logger.Debug().Uint64("index", index).Str("account", account.String()).Msg("increase order created")
	return index, nil
}

// UpdateIncreaseOrder mutates only the trigger and acceptable price fields
// and is owner-only.
func (b *OrderBook) UpdateIncreaseOrder(caller uuid.UUID, index uint64, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int) error {
	order, ok := b.increaseOrders.get(index)
	if !ok {
		return &ForbiddenError{}
	}
	if caller != order.Account {
		return &ForbiddenError{}
	}
	order.TriggerPriceX96 = new(uint256.Int).Set(triggerPriceX96)
	order.TriggerAbove = triggerAbove
	order.AcceptableTradePriceX96 = new(uint256.Int).Set(acceptableTradePriceX96)
	return nil
}

func (b *OrderBook) CancelIncreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	order, ok := b.increaseOrders.get(index)
	if !ok {
		return nil
	}
	if err := b.checkCancel(&order.RequestMeta, caller); err != nil {
		return err
	}
	if !order.MarginDelta.IsZero() {
		if err := b.treasury.TransferOut(order.Account, order.MarginDelta); err != nil {
			return err
		}
	}
	if err := b.treasury.TransferOut(feeReceiver, order.ExecutionFee); err != nil {
		return err
	}
	b.increaseOrders.remove(index)
	return nil
}

// ExecuteIncreaseOrder fires a ripe order whose trigger the market price
// satisfies, applying the increase through the pool.
func (b *OrderBook) ExecuteIncreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	order, ok := b.increaseOrders.get(index)
	if !ok {
		return nil
	}
	if err := b.checkExecute(&order.RequestMeta, caller); err != nil {
		return err
	}
	market, ok := b.markets.Market(order.PoolID)
	if !ok {
		return &MarketNotFoundError{PoolID: order.PoolID}
	}
	price := market.MarketPriceX96(order.Side, true)
	if err := checkTrigger(price, order.TriggerPriceX96, order.TriggerAbove); err != nil {
		return err
	}
	if err := validateTradePrice(order.Side, true, price, order.AcceptableTradePriceX96); err != nil {
		return err
	}
	if _, err := market.IncreasePosition(order.Account, order.Side, order.MarginDelta, order.SizeDelta); err != nil {
		return err
	}
	b.increaseOrders.remove(index)
	return b.treasury.TransferOut(feeReceiver, order.ExecutionFee)
}

// CreateDecreaseOrder records a trigger-conditioned decrease; no margin is
// escrowed since the position already holds it.
func (b *OrderBook) CreateDecreaseOrder(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	if err := b.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if executionFee.Cmp(b.cfg.MinExecutionFee) < 0 {
		return 0, &InsufficientExecutionFeeError{Provided: executionFee, Required: b.cfg.MinExecutionFee}
	}
	if err := b.treasury.TransferIn(account, executionFee); err != nil {
		return 0, err
	}
	order := &DecreaseOrder{
		RequestMeta:             b.newMeta(account, poolID, executionFee),
		Side:                    side,
		MarginDelta:             new(uint256.Int).Set(marginDelta),
		SizeDelta:               new(uint256.Int).Set(sizeDelta),
		TriggerPriceX96:         new(uint256.Int).Set(triggerPriceX96),
		TriggerAbove:            triggerAbove,
		AcceptableTradePriceX96: new(uint256.Int).Set(acceptableTradePriceX96),
		Receiver:                receiver,
	}
	return b.decreaseOrders.add(order), nil
}

func (b *OrderBook) UpdateDecreaseOrder(caller uuid.UUID, index uint64, triggerPriceX96 *uint256.Int, triggerAbove bool, acceptableTradePriceX96 *uint256.Int) error {
	order, ok := b.decreaseOrders.get(index)
	if !ok {
		return &ForbiddenError{}
	}
	if caller != order.Account {
		return &ForbiddenError{}
	}
	order.TriggerPriceX96 = new(uint256.Int).Set(triggerPriceX96)
	order.TriggerAbove = triggerAbove
	order.AcceptableTradePriceX96 = new(uint256.Int).Set(acceptableTradePriceX96)
	return nil
}

func (b *OrderBook) CancelDecreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	order, ok := b.decreaseOrders.get(index)
	if !ok {
		return nil
	}
	if err := b.checkCancel(&order.RequestMeta, caller); err != nil {
		return err
	}
	if err := b.treasury.TransferOut(feeReceiver, order.ExecutionFee); err != nil {
		return err
	}
	b.decreaseOrders.remove(index)
	return nil
}

func (b *OrderBook) ExecuteDecreaseOrder(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	order, ok := b.decreaseOrders.get(index)
	if !ok {
		return nil
	}
	if err := b.checkExecute(&order.RequestMeta, caller); err != nil {
		return err
	}
	market, ok := b.markets.Market(order.PoolID)
	if !ok {
		return &MarketNotFoundError{PoolID: order.PoolID}
	}
	price := market.MarketPriceX96(order.Side, false)
	if err := checkTrigger(price, order.TriggerPriceX96, order.TriggerAbove); err != nil {
		return err
	}
	if err := validateTradePrice(order.Side, false, price, order.AcceptableTradePriceX96); err != nil {
		return err
	}
	_, released, err := market.DecreasePosition(order.Account, order.Side, order.MarginDelta, order.SizeDelta)
	if err != nil {
		return err
	}
	if !released.IsZero() {
		if err := b.treasury.TransferOut(order.Receiver, released); err != nil {
			return err
		}
	}
	b.decreaseOrders.remove(index)
	return b.treasury.TransferOut(feeReceiver, order.ExecutionFee)
}

// CreateTakeProfitAndStopLossOrders creates the paired decrease orders in
// one call. The fee must cover both orders and splits evenly, with the odd
// unit going to the first.
func (b *OrderBook) CreateTakeProfitAndStopLossOrders(
	caller, account, poolID uuid.UUID,
	side model.Side,
	marginDeltas, sizeDeltas, triggerPricesX96, acceptableTradePricesX96 [2]*uint256.Int,
	receiver uuid.UUID,
	executionFee *uint256.Int,
) (takeProfitIndex, stopLossIndex uint64, err error) {
	required := new(uint256.Int).Lsh(b.cfg.MinExecutionFee, 1)
	if executionFee.Cmp(required) < 0 {
		return 0, 0, &InsufficientExecutionFeeError{Provided: executionFee, Required: required}
	}
	half := new(uint256.Int).Rsh(executionFee, 1)
	first := new(uint256.Int).Sub(executionFee, half)

	// A take-profit decrease for a long triggers above; its stop-loss
	// triggers below. The short case mirrors.
	takeProfitIndex, err = b.CreateDecreaseOrder(caller, account, poolID, side,
		marginDeltas[0], sizeDeltas[0], triggerPricesX96[0], side.IsLong(), acceptableTradePricesX96[0], receiver, first)
	if err != nil {
		return 0, 0, err
	}
	stopLossIndex, err = b.CreateDecreaseOrder(caller, account, poolID, side,
		marginDeltas[1], sizeDeltas[1], triggerPricesX96[1], !side.IsLong(), acceptableTradePricesX96[1], receiver, half)
	if err != nil {
		// Roll back the take-profit so the pair never lands half-made.
		b.decreaseOrders.remove(takeProfitIndex)
		if refundErr := b.treasury.TransferOut(account, first); refundErr != nil {
			b.logger.Warn().Err(refundErr).Uint64("index", takeProfitIndex).Msg("take-profit fee refund failed")
		}
		return 0, 0, err
	}
	return takeProfitIndex, stopLossIndex, nil
}
