package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FundingRateHistoryEntry is one closed funding window. The X96 and
// amount fields are decimal strings; they do not fit in int64.
type FundingRateHistoryEntry struct {
	PoolID                     uuid.UUID `json:"pool_id"`
	AdjustTime                 int64     `json:"adjust_time"`
	Sequence                   int64     `json:"sequence"`
	ClampedFundingRateDeltaX96 string    `json:"clamped_funding_rate_delta_x96"`
	LongGrowthX96              string    `json:"long_growth_x96"`
	ShortGrowthX96             string    `json:"short_growth_x96"`
	PaidAmount                 string    `json:"paid_amount"`
	ReceivedAmount             string    `json:"received_amount"`
	RiskBufferFundDelta        string    `json:"risk_buffer_fund_delta"`
	AsOfSequence               int64     `json:"as_of_sequence"`
}

// RequestStatusEntry is the latest known status of one delayed request.
type RequestStatusEntry struct {
	Kind         string    `json:"kind"`
	Index        uint64    `json:"index"`
	Account      uuid.UUID `json:"account"`
	PoolID       uuid.UUID `json:"pool_id"`
	Status       string    `json:"status"`
	Sequence     int64     `json:"sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// EventEntry is one row of the raw event log.
type EventEntry struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	PoolID    *uuid.UUID      `json:"pool_id,omitempty"`
	Account   *uuid.UUID      `json:"account,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
