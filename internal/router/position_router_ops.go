package router

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/fixedmath"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// RequestKind identifies one of the position router's queues.
type RequestKind int

const (
	KindOpenLiquidityPosition RequestKind = iota
	KindCloseLiquidityPosition
	KindAdjustLiquidityPositionMargin
	KindIncreasePosition
	KindDecreasePosition
	KindIncreaseRiskBufferFundPosition
	KindDecreaseRiskBufferFundPosition
)

func (k RequestKind) String() string {
	switch k {
	case KindOpenLiquidityPosition:
		return "open_liquidity_position"
	case KindCloseLiquidityPosition:
		return "close_liquidity_position"
	case KindAdjustLiquidityPositionMargin:
		return "adjust_liquidity_position_margin"
	case KindIncreasePosition:
		return "increase_position"
	case KindDecreasePosition:
		return "decrease_position"
	case KindIncreaseRiskBufferFundPosition:
		return "increase_risk_buffer_fund_position"
	case KindDecreaseRiskBufferFundPosition:
		return "decrease_risk_buffer_fund_position"
	default:
		return "unknown"
	}
}

// QueueStatus reports a queue's execution cursor and next index to assign.
func (r *PositionRouter) QueueStatus(kind RequestKind) (index, indexNext uint64) {
	switch kind {
	case KindOpenLiquidityPosition:
		return r.openLiquidityPositions.index, r.openLiquidityPositions.indexNext
	case KindCloseLiquidityPosition:
		return r.closeLiquidityPositions.index, r.closeLiquidityPositions.indexNext
	case KindAdjustLiquidityPositionMargin:
		return r.adjustLiquidityPositionMargins.index, r.adjustLiquidityPositionMargins.indexNext
	case KindIncreasePosition:
		return r.increasePositions.index, r.increasePositions.indexNext
	case KindDecreasePosition:
		return r.decreasePositions.index, r.decreasePositions.indexNext
	case KindIncreaseRiskBufferFundPosition:
		return r.increaseRiskBufferFundPositions.index, r.increaseRiskBufferFundPositions.indexNext
	case KindDecreaseRiskBufferFundPosition:
		return r.decreaseRiskBufferFundPositions.index, r.decreaseRiskBufferFundPositions.indexNext
	}
	panic("FATAL: router: unknown request kind")
}

// Request returns a copy of the bookkeeping for a pending request, or
// false when the slot is vacant or already terminal.
func (r *PositionRouter) Request(kind RequestKind, index uint64) (RequestMeta, bool) {
	var m *RequestMeta
	switch kind {
	case KindOpenLiquidityPosition:
		if req, ok := r.openLiquidityPositions.get(index); ok {
			m = req.meta()
		}
	case KindCloseLiquidityPosition:
		if req, ok := r.closeLiquidityPositions.get(index); ok {
			m = req.meta()
		}
	case KindAdjustLiquidityPositionMargin:
		if req, ok := r.adjustLiquidityPositionMargins.get(index); ok {
			m = req.meta()
		}
	case KindIncreasePosition:
		if req, ok := r.increasePositions.get(index); ok {
			m = req.meta()
		}
	case KindDecreasePosition:
		if req, ok := r.decreasePositions.get(index); ok {
			m = req.meta()
		}
	case KindIncreaseRiskBufferFundPosition:
		if req, ok := r.increaseRiskBufferFundPositions.get(index); ok {
			m = req.meta()
		}
	case KindDecreaseRiskBufferFundPosition:
		if req, ok := r.decreaseRiskBufferFundPositions.get(index); ok {
			m = req.meta()
		}
	}
	if m == nil {
		return RequestMeta{}, false
	}
	return *m, true
}

// CreateOpenLiquidityPosition escrows margin and the execution fee and
// queues an LP deposit.
func (r *PositionRouter) CreateOpenLiquidityPosition(caller, account, poolID uuid.UUID, margin, liquidity, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, new(uint256.Int).Add(margin, executionFee)); err != nil {
		return 0, err
	}
	req := &OpenLiquidityPositionRequest{
		RequestMeta: r.newMeta(account, poolID, executionFee),
		Margin:      new(uint256.Int).Set(margin),
		Liquidity:   new(uint256.Int).Set(liquidity),
	}
	index := r.openLiquidityPositions.add(req)
	r.logger.Debug().Uint64("index", index).Str("account", account.String()).Msg("open liquidity position request created")
	return index, nil
}

func (r *PositionRouter) executeOpenLiquidityPosition(req *OpenLiquidityPositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	return market.OpenLiquidityPosition(req.Account, req.Margin, req.Liquidity)
}

func (r *PositionRouter) CancelOpenLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.openLiquidityPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, req.Margin, feeReceiver, func() {
		r.openLiquidityPositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteOpenLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.openLiquidityPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeOpenLiquidityPosition(req); err != nil {
		return err
	}
	r.openLiquidityPositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteOpenLiquidityPositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.openLiquidityPositions, endIndex, feeReceiver,
		r.executeOpenLiquidityPosition,
		func(req *OpenLiquidityPositionRequest) *uint256.Int { return req.Margin })
	return nil
}

// CreateCloseLiquidityPosition queues the removal of an LP position.
func (r *PositionRouter) CreateCloseLiquidityPosition(caller, account, poolID, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, executionFee); err != nil {
		return 0, err
	}
	req := &CloseLiquidityPositionRequest{
		RequestMeta: r.newMeta(account, poolID, executionFee),
		Receiver:    receiver,
	}
	return r.closeLiquidityPositions.add(req), nil
}

func (r *PositionRouter) executeCloseLiquidityPosition(req *CloseLiquidityPositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	payout, err := market.CloseLiquidityPosition(req.Account)
	if err != nil {
		return err
	}
	if payout.IsZero() {
		return nil
	}
	return r.treasury.TransferOut(req.Receiver, payout)
}

func (r *PositionRouter) CancelCloseLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.closeLiquidityPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, nil, feeReceiver, func() {
		r.closeLiquidityPositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteCloseLiquidityPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.closeLiquidityPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeCloseLiquidityPosition(req); err != nil {
		return err
	}
	r.closeLiquidityPositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteCloseLiquidityPositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.closeLiquidityPositions, endIndex, feeReceiver,
		r.executeCloseLiquidityPosition,
		func(*CloseLiquidityPositionRequest) *uint256.Int { return nil })
	return nil
}

// CreateAdjustLiquidityPositionMargin queues an LP margin change. A
// positive delta is escrowed up front; a negative one pays out on execute.
func (r *PositionRouter) CreateAdjustLiquidityPositionMargin(caller, account, poolID uuid.UUID, marginDelta *big.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	escrow := new(uint256.Int).Set(executionFee)
	if marginDelta.Sign() > 0 {
		escrow.Add(escrow, fixedmath.MustUint256(marginDelta))
	}
	if err := r.treasury.TransferIn(account, escrow); err != nil {
		return 0, err
	}
	req := &AdjustLiquidityPositionMarginRequest{
		RequestMeta: r.newMeta(account, poolID, executionFee),
		MarginDelta: new(big.Int).Set(marginDelta),
		Receiver:    receiver,
	}
	return r.adjustLiquidityPositionMargins.add(req), nil
}

func (r *PositionRouter) executeAdjustLiquidityPositionMargin(req *AdjustLiquidityPositionMarginRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	if err := market.AdjustLiquidityPositionMargin(req.Account, req.MarginDelta); err != nil {
		return err
	}
	if req.MarginDelta.Sign() < 0 {
		withdrawal := fixedmath.MustUint256(new(big.Int).Neg(req.MarginDelta))
		return r.treasury.TransferOut(req.Receiver, withdrawal)
	}
	return nil
}

func (r *PositionRouter) adjustLiquidityPositionMarginRefund(req *AdjustLiquidityPositionMarginRequest) *uint256.Int {
	if req.MarginDelta.Sign() > 0 {
		return fixedmath.MustUint256(req.MarginDelta)
	}
	return nil
}

func (r *PositionRouter) CancelAdjustLiquidityPositionMargin(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.adjustLiquidityPositionMargins.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, r.adjustLiquidityPositionMarginRefund(req), feeReceiver, func() {
		r.adjustLiquidityPositionMargins.remove(index)
	})
}

func (r *PositionRouter) ExecuteAdjustLiquidityPositionMargin(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.adjustLiquidityPositionMargins.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeAdjustLiquidityPositionMargin(req); err != nil {
		return err
	}
	r.adjustLiquidityPositionMargins.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteAdjustLiquidityPositionMargins(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.adjustLiquidityPositionMargins, endIndex, feeReceiver,
		r.executeAdjustLiquidityPositionMargin,
		r.adjustLiquidityPositionMarginRefund)
	return nil
}

// CreateIncreasePosition escrows margin and the execution fee and queues a
// position open or increase.
func (r *PositionRouter) CreateIncreasePosition(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, acceptableTradePriceX96, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, new(uint256.Int).Add(marginDelta, executionFee)); err != nil {
		return 0, err
	}
	req := &IncreasePositionRequest{
		RequestMeta:             r.newMeta(account, poolID, executionFee),
		Side:                    side,
		MarginDelta:             new(uint256.Int).Set(marginDelta),
		SizeDelta:               new(uint256.Int).Set(sizeDelta),
		AcceptableTradePriceX96: new(uint256.Int).Set(acceptableTradePriceX96),
	}
	return r.increasePositions.add(req), nil
}

func (r *PositionRouter) executeIncreasePosition(req *IncreasePositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	if err := validateTradePrice(req.Side, true, market.MarketPriceX96(req.Side, true), req.AcceptableTradePriceX96); err != nil {
		return err
	}
	_, err = market.IncreasePosition(req.Account, req.Side, req.MarginDelta, req.SizeDelta)
	return err
}

func (r *PositionRouter) CancelIncreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.increasePositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, req.MarginDelta, feeReceiver, func() {
		r.increasePositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteIncreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.increasePositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeIncreasePosition(req); err != nil {
		return err
	}
	r.increasePositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteIncreasePositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.increasePositions, endIndex, feeReceiver,
		r.executeIncreasePosition,
		func(req *IncreasePositionRequest) *uint256.Int { return req.MarginDelta })
	return nil
}

// CreateDecreasePosition queues a position decrease or close.
func (r *PositionRouter) CreateDecreasePosition(caller, account, poolID uuid.UUID, side model.Side, marginDelta, sizeDelta, acceptableTradePriceX96 *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, executionFee); err != nil {
		return 0, err
	}
	req := &DecreasePositionRequest{
		RequestMeta:             r.newMeta(account, poolID, executionFee),
		Side:                    side,
		MarginDelta:             new(uint256.Int).Set(marginDelta),
		SizeDelta:               new(uint256.Int).Set(sizeDelta),
		AcceptableTradePriceX96: new(uint256.Int).Set(acceptableTradePriceX96),
		Receiver:                receiver,
	}
	return r.decreasePositions.add(req), nil
}

func (r *PositionRouter) executeDecreasePosition(req *DecreasePositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	if err := validateTradePrice(req.Side, false, market.MarketPriceX96(req.Side, false), req.AcceptableTradePriceX96); err != nil {
		return err
	}
	_, released, err := market.DecreasePosition(req.Account, req.Side, req.MarginDelta, req.SizeDelta)
	if err != nil {
		return err
	}
	if released.IsZero() {
		return nil
	}
	return r.treasury.TransferOut(req.Receiver, released)
}

func (r *PositionRouter) CancelDecreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.decreasePositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, nil, feeReceiver, func() {
		r.decreasePositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteDecreasePosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.decreasePositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeDecreasePosition(req); err != nil {
		return err
	}
	r.decreasePositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteDecreasePositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.decreasePositions, endIndex, feeReceiver,
		r.executeDecreasePosition,
		func(*DecreasePositionRequest) *uint256.Int { return nil })
	return nil
}

// CreateIncreaseRiskBufferFundPosition escrows the contribution and queues
// it for the fund.
func (r *PositionRouter) CreateIncreaseRiskBufferFundPosition(caller, account, poolID uuid.UUID, liquidityDelta, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, new(uint256.Int).Add(liquidityDelta, executionFee)); err != nil {
		return 0, err
	}
	req := &IncreaseRiskBufferFundPositionRequest{
		RequestMeta:    r.newMeta(account, poolID, executionFee),
		LiquidityDelta: new(uint256.Int).Set(liquidityDelta),
	}
	return r.increaseRiskBufferFundPositions.add(req), nil
}

func (r *PositionRouter) executeIncreaseRiskBufferFundPosition(req *IncreaseRiskBufferFundPositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	return market.IncreaseRiskBufferFundPosition(req.Account, req.LiquidityDelta)
}

func (r *PositionRouter) CancelIncreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.increaseRiskBufferFundPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, req.LiquidityDelta, feeReceiver, func() {
		r.increaseRiskBufferFundPositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteIncreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.increaseRiskBufferFundPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeIncreaseRiskBufferFundPosition(req); err != nil {
		return err
	}
	r.increaseRiskBufferFundPositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteIncreaseRiskBufferFundPositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.increaseRiskBufferFundPositions, endIndex, feeReceiver,
		r.executeIncreaseRiskBufferFundPosition,
		func(req *IncreaseRiskBufferFundPositionRequest) *uint256.Int { return req.LiquidityDelta })
	return nil
}

// CreateDecreaseRiskBufferFundPosition queues a fund withdrawal to receiver.
func (r *PositionRouter) CreateDecreaseRiskBufferFundPosition(caller, account, poolID uuid.UUID, liquidityDelta *uint256.Int, receiver uuid.UUID, executionFee *uint256.Int) (uint64, error) {
	if err := r.authorizeCaller(caller, account); err != nil {
		return 0, err
	}
	if err := r.checkExecutionFee(executionFee); err != nil {
		return 0, err
	}
	if err := r.treasury.TransferIn(account, executionFee); err != nil {
		return 0, err
	}
	req := &DecreaseRiskBufferFundPositionRequest{
		RequestMeta:    r.newMeta(account, poolID, executionFee),
		LiquidityDelta: new(uint256.Int).Set(liquidityDelta),
		Receiver:       receiver,
	}
	return r.decreaseRiskBufferFundPositions.add(req), nil
}

func (r *PositionRouter) executeDecreaseRiskBufferFundPosition(req *DecreaseRiskBufferFundPositionRequest) error {
	market, err := r.market(req.PoolID)
	if err != nil {
		return err
	}
	if err := market.DecreaseRiskBufferFundPosition(req.Account, req.LiquidityDelta); err != nil {
		return err
	}
	return r.treasury.TransferOut(req.Receiver, req.LiquidityDelta)
}

func (r *PositionRouter) CancelDecreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.decreaseRiskBufferFundPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkCancel(&req.RequestMeta, caller); err != nil {
		return err
	}
	return r.cancelFunds(&req.RequestMeta, nil, feeReceiver, func() {
		r.decreaseRiskBufferFundPositions.remove(index)
	})
}

func (r *PositionRouter) ExecuteDecreaseRiskBufferFundPosition(caller uuid.UUID, index uint64, feeReceiver uuid.UUID) error {
	req, ok := r.decreaseRiskBufferFundPositions.get(index)
	if !ok {
		return nil
	}
	if err := r.checkExecute(&req.RequestMeta, caller); err != nil {
		return err
	}
	if err := r.executeDecreaseRiskBufferFundPosition(req); err != nil {
		return err
	}
	r.decreaseRiskBufferFundPositions.remove(index)
	return r.treasury.TransferOut(feeReceiver, req.ExecutionFee)
}

func (r *PositionRouter) ExecuteDecreaseRiskBufferFundPositions(caller uuid.UUID, endIndex uint64, feeReceiver uuid.UUID) error {
	if !r.access.IsExecutor(caller) {
		return &ForbiddenError{}
	}
	runBatch(r, &r.decreaseRiskBufferFundPositions, endIndex, feeReceiver,
		r.executeDecreaseRiskBufferFundPosition,
		func(*DecreaseRiskBufferFundPositionRequest) *uint256.Int { return nil })
	return nil
}
