package router

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ForbiddenError reports a caller without the required role for the target
// request.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string { return "router: forbidden" }

// CallerUnauthorizedError reports a create call by a caller that is neither
// the account nor an approved plugin of it.
type CallerUnauthorizedError struct {
	Account uuid.UUID
	Caller  uuid.UUID
}

func (e *CallerUnauthorizedError) Error() string {
	return fmt.Sprintf("router: caller %s not authorized for account %s", e.Caller, e.Account)
}

// TooEarlyError reports an execute or cancel attempt before the caller's
// delay window has elapsed. Exactly one of the earliest fields is set.
type TooEarlyError struct {
	EarliestBlock uint64
	EarliestTime  int64
}

func (e *TooEarlyError) Error() string {
	if e.EarliestBlock != 0 {
		return fmt.Sprintf("router: too early: earliest block %d", e.EarliestBlock)
	}
	return fmt.Sprintf("router: too early: earliest time %d", e.EarliestTime)
}

// ExpiredError reports an execute attempt past the request's deadline.
type ExpiredError struct {
	ExpiredAt int64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("router: request expired at %d", e.ExpiredAt)
}

// InsufficientExecutionFeeError reports a create call whose attached fee is
// below the required minimum.
type InsufficientExecutionFeeError struct {
	Provided *uint256.Int
	Required *uint256.Int
}

func (e *InsufficientExecutionFeeError) Error() string {
	return fmt.Sprintf("router: insufficient execution fee: provided %s, required %s", e.Provided, e.Required)
}

// InvalidMarketPriceToTriggerError reports an order execution whose market
// price does not satisfy the trigger condition.
type InvalidMarketPriceToTriggerError struct {
	MarketPriceX96  *uint256.Int
	TriggerPriceX96 *uint256.Int
}

func (e *InvalidMarketPriceToTriggerError) Error() string {
	return fmt.Sprintf("router: market price %s does not satisfy trigger %s", e.MarketPriceX96, e.TriggerPriceX96)
}

// InvalidTradePriceError reports a fill price outside the acceptable bound.
type InvalidTradePriceError struct {
	TradePriceX96           *uint256.Int
	AcceptableTradePriceX96 *uint256.Int
}

func (e *InvalidTradePriceError) Error() string {
	return fmt.Sprintf("router: trade price %s outside acceptable %s", e.TradePriceX96, e.AcceptableTradePriceX96)
}

// InvalidDelayValuesError reports a delay reconfiguration whose public
// window opens after the expiry deadline.
type InvalidDelayValuesError struct {
	MinTimeDelayPublic int64
	MaxTimeDelay       int64
}

func (e *InvalidDelayValuesError) Error() string {
	return fmt.Sprintf("router: public delay %ds exceeds max delay %ds", e.MinTimeDelayPublic, e.MaxTimeDelay)
}

// MarketNotFoundError reports a request against an unknown pool.
type MarketNotFoundError struct {
	PoolID uuid.UUID
}

func (e *MarketNotFoundError) Error() string {
	return fmt.Sprintf("router: market not found: %s", e.PoolID)
}
