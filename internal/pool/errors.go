package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
)

// InsufficientMarginError reports a margin balance that cannot cover a
// required charge or withdrawal.
type InsufficientMarginError struct {
	Required  *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("pool: insufficient margin: required %s, available %s", e.Required, e.Available)
}

// PositionNotFoundError reports an operation against a position that does
// not exist.
type PositionNotFoundError struct {
	Account uuid.UUID
	Side    model.Side
}

func (e *PositionNotFoundError) Error() string {
	return fmt.Sprintf("pool: position not found: account %s side %s", e.Account, e.Side)
}

// InsufficientSizeError reports a decrease larger than the open size.
type InsufficientSizeError struct {
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientSizeError) Error() string {
	return fmt.Sprintf("pool: insufficient position size: requested %s, available %s", e.Requested, e.Available)
}

// PositionNotLiquidatableError reports a liquidation attempt against a
// position whose equity still meets the maintenance margin.
type PositionNotLiquidatableError struct {
	Equity            *big.Int
	MaintenanceMargin *uint256.Int
}

func (e *PositionNotLiquidatableError) Error() string {
	return fmt.Sprintf("pool: position not liquidatable: equity %s, maintenance margin %s", e.Equity, e.MaintenanceMargin)
}

// LiquidityPositionNotFoundError reports an operation against a missing LP
// position.
type LiquidityPositionNotFoundError struct {
	Account uuid.UUID
}

func (e *LiquidityPositionNotFoundError) Error() string {
	return fmt.Sprintf("pool: liquidity position not found: account %s", e.Account)
}
