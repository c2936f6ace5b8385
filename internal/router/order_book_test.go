package router

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

type orderBookFixture struct {
	book     *OrderBook
	chain    *fakeChain
	treasury *fakeTreasury
	registry *fakeRegistry
	access   *AccessControl
	executor uuid.UUID
	poolID   uuid.UUID
	market   *fakeMarket
}

func newOrderBookFixture(t *testing.T, minPrice, maxPrice uint64) *orderBookFixture {
	t.Helper()
	chain := &fakeChain{block: 10, time: 1000}
	treasury := newFakeTreasury()
	registry := newFakeRegistry()
	access := NewAccessControl()
	executor := uuid.New()
	access.SetExecutor(executor, true)

	poolID := uuid.New()
	market := newFakeMarket(minPrice, maxPrice)
	registry.markets[poolID] = market

	return &orderBookFixture{
		book:     NewOrderBook(testRouterConfig(), chain, treasury, registry, access, zerolog.Nop()),
		chain:    chain,
		treasury: treasury,
		registry: registry,
		access:   access,
		executor: executor,
		poolID:   poolID,
		market:   market,
	}
}

func TestCreateIncreaseOrder_EscrowsMarginAndFee(t *testing.T) {
	f := newOrderBookFixture(t, 1000, 1000)
	account := uuid.New()

	index, err := f.book.CreateIncreaseOrder(account, account, f.poolID, model.SideLong,
		uint256.NewInt(100), uint256.NewInt(100), px(1000), true, px(1100), uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("CreateIncreaseOrder: %v", err)
	}
	if index != 0 {
		t.Fatalf("index = %d, want 0", index)
	}
	if f.book.IncreaseOrdersIndexNext() != 1 {
		t.Fatalf("indexNext = %d, want 1", f.book.IncreaseOrdersIndexNext())
	}
	if want := uint256.NewInt(3100); f.treasury.pulled(account).Cmp(want) != 0 {
		t.Fatalf("escrow = %s, want %s", f.treasury.pulled(account), want)
	}
}

func TestExecuteIncreaseOrder_TriggerNotSatisfied(t *testing.T) {
	f := newOrderBookFixture(t, 1800, 1900)
	account := uuid.New()

	// A short opens at the min price 1800, below the above-trigger 1850.
	index, err := f.book.CreateIncreaseOrder(account, account, f.poolID, model.SideShort,
		uint256.NewInt(100), uint256.NewInt(100), px(1850), true, new(uint256.Int), uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.chain.block = 15
	err = f.book.ExecuteIncreaseOrder(f.executor, index, uuid.New())
	var invalid *InvalidMarketPriceToTriggerError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidMarketPriceToTriggerError", err)
	}
	if invalid.MarketPriceX96.Cmp(px(1800)) != 0 || invalid.TriggerPriceX96.Cmp(px(1850)) != 0 {
		t.Fatalf("trigger error = %+v, want actual 1800 trigger 1850", invalid)
	}
	if f.market.increases != 0 {
		t.Fatal("order must not fill")
	}
}

func TestExecuteIncreaseOrder_FillsWhenTriggered(t *testing.T) {
	f := newOrderBookFixture(t, 1870, 1900)
	account := uuid.New()
	feeReceiver := uuid.New()

	index, err := f.book.CreateIncreaseOrder(account, account, f.poolID, model.SideShort,
		uint256.NewInt(100), uint256.NewInt(100), px(1850), true, new(uint256.Int), uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.chain.block = 15
	if err := f.book.ExecuteIncreaseOrder(f.executor, index, feeReceiver); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if f.market.increases != 1 {
		t.Fatalf("market increases = %d, want 1", f.market.increases)
	}
	if f.book.IncreaseOrder(index) != nil {
		t.Fatal("order should be tombstoned")
	}
	if f.treasury.paid(feeReceiver).Cmp(uint256.NewInt(3000)) != 0 {
		t.Fatalf("fee = %s, want 3000", f.treasury.paid(feeReceiver))
	}
}

func TestUpdateIncreaseOrder_OwnerOnly(t *testing.T) {
	f := newOrderBookFixture(t, 1800, 1900)
	account := uuid.New()

	index, err := f.book.CreateIncreaseOrder(account, account, f.poolID, model.SideLong,
		uint256.NewInt(100), uint256.NewInt(100), px(1850), true, new(uint256.Int), uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = f.book.UpdateIncreaseOrder(uuid.New(), index, px(1860), true, new(uint256.Int))
	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}

	if err := f.book.UpdateIncreaseOrder(account, index, px(1860), false, px(1855)); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	order := f.book.IncreaseOrder(index)
	if order.TriggerPriceX96.Cmp(px(1860)) != 0 || order.TriggerAbove {
		t.Fatalf("order not updated: %+v", order)
	}
}

func TestCancelIncreaseOrder_RefundsMargin(t *testing.T) {
	f := newOrderBookFixture(t, 1800, 1900)
	account := uuid.New()
	receiver := uuid.New()

	index, err := f.book.CreateIncreaseOrder(account, account, f.poolID, model.SideLong,
		uint256.NewInt(100), uint256.NewInt(100), px(1850), true, new(uint256.Int), uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.book.CancelIncreaseOrder(account, index, receiver); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.treasury.paid(account).Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("refund = %s, want 100", f.treasury.paid(account))
	}
	// Repeat cancel is a no-op.
	if err := f.book.CancelIncreaseOrder(account, index, receiver); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if f.treasury.paid(receiver).Cmp(uint256.NewInt(3000)) != 0 {
		t.Fatalf("fee after repeat cancel = %s, want 3000", f.treasury.paid(receiver))
	}
}

func TestExecuteDecreaseOrder_PaysReceiver(t *testing.T) {
	f := newOrderBookFixture(t, 2100, 2150)
	account := uuid.New()
	receiver := uuid.New()
	f.market.released = uint256.NewInt(4_000)

	// Long take-profit: close triggers once the min price is above 2050.
	index, err := f.book.CreateDecreaseOrder(account, account, f.poolID, model.SideLong,
		new(uint256.Int), uint256.NewInt(100), px(2050), true, new(uint256.Int), receiver, uint256.NewInt(3000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.chain.block = 15
	if err := f.book.ExecuteDecreaseOrder(f.executor, index, uuid.New()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if f.market.decreases != 1 {
		t.Fatalf("market decreases = %d, want 1", f.market.decreases)
	}
	if f.treasury.paid(receiver).Cmp(uint256.NewInt(4_000)) != 0 {
		t.Fatalf("payout = %s, want 4000", f.treasury.paid(receiver))
	}
}

func TestCreateTakeProfitAndStopLossOrders(t *testing.T) {
	f := newOrderBookFixture(t, 2000, 2000)
	account := uuid.New()
	receiver := uuid.New()

	size := [2]*uint256.Int{uint256.NewInt(50), uint256.NewInt(50)}
	margins := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	triggers := [2]*uint256.Int{px(2200), px(1900)}
	acceptable := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}

	_, _, err := f.book.CreateTakeProfitAndStopLossOrders(account, account, f.poolID, model.SideLong,
		margins, size, triggers, acceptable, receiver, uint256.NewInt(5_999))
	var fee *InsufficientExecutionFeeError
	if !errors.As(err, &fee) {
		t.Fatalf("err = %v, want InsufficientExecutionFeeError", err)
	}
	if fee.Required.Cmp(uint256.NewInt(6_000)) != 0 {
		t.Fatalf("required = %s, want 6000", fee.Required)
	}

	tpIndex, slIndex, err := f.book.CreateTakeProfitAndStopLossOrders(account, account, f.poolID, model.SideLong,
		margins, size, triggers, acceptable, receiver, uint256.NewInt(6_001))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tp := f.book.DecreaseOrder(tpIndex)
	sl := f.book.DecreaseOrder(slIndex)
	if !tp.TriggerAbove || sl.TriggerAbove {
		t.Fatalf("long TP must trigger above and SL below: tp=%v sl=%v", tp.TriggerAbove, sl.TriggerAbove)
	}
	// The odd fee unit lands on the first order.
	if tp.ExecutionFee.Cmp(uint256.NewInt(3_001)) != 0 || sl.ExecutionFee.Cmp(uint256.NewInt(3_000)) != 0 {
		t.Fatalf("fee split = %s/%s, want 3001/3000", tp.ExecutionFee, sl.ExecutionFee)
	}
}

func TestCreateTakeProfitAndStopLossOrders_RollsBackOnPartialFailure(t *testing.T) {
	f := newOrderBookFixture(t, 2000, 2000)
	account := uuid.New()
	receiver := uuid.New()

	size := [2]*uint256.Int{uint256.NewInt(50), uint256.NewInt(50)}
	margins := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	triggers := [2]*uint256.Int{px(2200), px(1900)}
	acceptable := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}

	// The stop-loss escrow pull fails after the take-profit landed.
	before := f.book.DecreaseOrdersIndexNext()
	f.treasury.failIn = true
	f.treasury.allowIn = 1
	_, _, err := f.book.CreateTakeProfitAndStopLossOrders(account, account, f.poolID, model.SideLong,
		margins, size, triggers, acceptable, receiver, uint256.NewInt(6_001))
	if err == nil {
		t.Fatal("create: want escrow error")
	}

	// Neither order survives and the take-profit fee came back.
	for i := before; i < f.book.DecreaseOrdersIndexNext(); i++ {
		if f.book.DecreaseOrder(i) != nil {
			t.Fatalf("order %d still live after rollback", i)
		}
	}
	if f.treasury.paid(account).Cmp(uint256.NewInt(3_001)) != 0 {
		t.Fatalf("refund = %s, want 3001", f.treasury.paid(account))
	}
}
