package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates outbound event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeFundingRateAdjusted
	TypePositionIncreased
	TypePositionDecreased
	TypePositionLiquidated
	TypeLiquidityPositionOpened
	TypeLiquidityPositionClosed
	TypeLiquidityPositionMarginAdjusted
	TypeRiskBufferFundPositionIncreased
	TypeRiskBufferFundPositionDecreased
	TypeRequestCreated
	TypeRequestExecuted
	TypeRequestCancelled
	TypeOrderCreated
	TypeOrderUpdated
	TypeOrderCancelled
	TypeOrderExecuted
)

// Envelope wraps every outbound event the engine emits. Sequence is the
// engine's global monotonic counter; downstream consumers use it to
// dedupe and to track projection watermarks.
type Envelope struct {
	Sequence  int64       `json:"sequence"`
	Type      Type        `json:"type"`
	PoolID    *uuid.UUID  `json:"pool_id,omitempty"`
	Account   *uuid.UUID  `json:"account,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func (t Type) String() string {
	switch t {
	case TypeFundingRateAdjusted:
		return "FundingRateAdjusted"
	case TypePositionIncreased:
		return "PositionIncreased"
	case TypePositionDecreased:
		return "PositionDecreased"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypeLiquidityPositionOpened:
		return "LiquidityPositionOpened"
	case TypeLiquidityPositionClosed:
		return "LiquidityPositionClosed"
	case TypeLiquidityPositionMarginAdjusted:
		return "LiquidityPositionMarginAdjusted"
	case TypeRiskBufferFundPositionIncreased:
		return "RiskBufferFundPositionIncreased"
	case TypeRiskBufferFundPositionDecreased:
		return "RiskBufferFundPositionDecreased"
	case TypeRequestCreated:
		return "RequestCreated"
	case TypeRequestExecuted:
		return "RequestExecuted"
	case TypeRequestCancelled:
		return "RequestCancelled"
	case TypeOrderCreated:
		return "OrderCreated"
	case TypeOrderUpdated:
		return "OrderUpdated"
	case TypeOrderCancelled:
		return "OrderCancelled"
	case TypeOrderExecuted:
		return "OrderExecuted"
	default:
		return "Unknown"
	}
}
