package event

import (
	"github.com/google/uuid"
)

// RequestLifecycle is the shared payload for RequestCreated,
// RequestExecuted and RequestCancelled. Kind names the queue, Index the
// slot within it; the pair is the request's stable identity.
type RequestLifecycle struct {
	Kind    string    `json:"kind"`
	Index   uint64    `json:"index"`
	Account uuid.UUID `json:"account"`
	PoolID  uuid.UUID `json:"pool_id"`
}

// OrderLifecycle is the shared payload for the order book events.
// Decrease covers both take-profit and stop-loss orders.
type OrderLifecycle struct {
	Decrease bool      `json:"decrease"`
	Index    uint64    `json:"index"`
	Account  uuid.UUID `json:"account"`
	PoolID   uuid.UUID `json:"pool_id"`
}
