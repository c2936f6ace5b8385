package event

import (
	"github.com/google/uuid"
)

// FundingRateAdjusted is emitted once per funding window close. The X96
// quantities are serialized as decimal strings because they exceed 64 bits.
type FundingRateAdjusted struct {
	PoolID                     uuid.UUID `json:"pool_id"`
	ClampedFundingRateDeltaX96 string    `json:"clamped_funding_rate_delta_x96"`
	LongGrowthX96              string    `json:"long_growth_x96"`
	ShortGrowthX96             string    `json:"short_growth_x96"`
	PaidAmount                 string    `json:"paid_amount"`
	ReceivedAmount             string    `json:"received_amount"`
	RiskBufferFundDelta        string    `json:"risk_buffer_fund_delta"`
	LastAdjustTime             int64     `json:"last_adjust_time"`
}
