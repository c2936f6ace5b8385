package event

import (
	"github.com/google/uuid"
)

// PositionIncreased is emitted when a trader position grows.
type PositionIncreased struct {
	PoolID        uuid.UUID `json:"pool_id"`
	Account       uuid.UUID `json:"account"`
	Side          string    `json:"side"`
	MarginDelta   string    `json:"margin_delta"`
	SizeDelta     string    `json:"size_delta"`
	TradePriceX96 string    `json:"trade_price_x96"`
}

// PositionDecreased is emitted when a trader position shrinks or closes.
type PositionDecreased struct {
	PoolID         uuid.UUID `json:"pool_id"`
	Account        uuid.UUID `json:"account"`
	Side           string    `json:"side"`
	MarginDelta    string    `json:"margin_delta"`
	SizeDelta      string    `json:"size_delta"`
	TradePriceX96  string    `json:"trade_price_x96"`
	MarginReleased string    `json:"margin_released"`
	Receiver       uuid.UUID `json:"receiver"`
}

// PositionLiquidated is emitted when a position is forcibly closed. The
// execution fee goes to the liquidator, everything left to the risk
// buffer fund.
type PositionLiquidated struct {
	PoolID       uuid.UUID `json:"pool_id"`
	Account      uuid.UUID `json:"account"`
	Side         string    `json:"side"`
	Liquidator   uuid.UUID `json:"liquidator"`
	ExecutionFee string    `json:"execution_fee"`
}
