package event

import (
	"github.com/google/uuid"
)

// LiquidityPositionOpened covers both fresh opens and repeat deposits
// that merge into an existing position.
type LiquidityPositionOpened struct {
	PoolID    uuid.UUID `json:"pool_id"`
	Account   uuid.UUID `json:"account"`
	Margin    string    `json:"margin"`
	Liquidity string    `json:"liquidity"`
}

type LiquidityPositionClosed struct {
	PoolID   uuid.UUID `json:"pool_id"`
	Account  uuid.UUID `json:"account"`
	Payout   string    `json:"payout"`
	Receiver uuid.UUID `json:"receiver"`
}

// LiquidityPositionMarginAdjusted carries a signed delta: positive for
// deposits, negative for withdrawals.
type LiquidityPositionMarginAdjusted struct {
	PoolID      uuid.UUID `json:"pool_id"`
	Account     uuid.UUID `json:"account"`
	MarginDelta string    `json:"margin_delta"`
}

type RiskBufferFundPositionIncreased struct {
	PoolID         uuid.UUID `json:"pool_id"`
	Account        uuid.UUID `json:"account"`
	LiquidityDelta string    `json:"liquidity_delta"`
	UnlockTime     int64     `json:"unlock_time"`
}

type RiskBufferFundPositionDecreased struct {
	PoolID         uuid.UUID `json:"pool_id"`
	Account        uuid.UUID `json:"account"`
	LiquidityDelta string    `json:"liquidity_delta"`
	Receiver       uuid.UUID `json:"receiver"`
}
