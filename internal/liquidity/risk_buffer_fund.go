package liquidity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// RiskBufferFundLockPeriod is how long a risk-buffer-fund contribution stays
// locked after its most recent increase.
const RiskBufferFundLockPeriod = 90 * 24 * time.Hour

// GlobalRiskBufferFund is the protocol's loss-absorption reserve. The fund
// itself is signed: trading and funding flows can push it negative, in which
// case it owes the pool.
type GlobalRiskBufferFund struct {
	RiskBufferFund *big.Int
	Liquidity      *uint256.Int
}

// RiskBufferFundPosition is one account's time-locked contribution.
type RiskBufferFundPosition struct {
	Liquidity  *uint256.Int
	UnlockTime int64
}

// RiskBufferFund tracks the global fund and all per-account positions.
type RiskBufferFund struct {
	Global    *GlobalRiskBufferFund
	positions map[uuid.UUID]*RiskBufferFundPosition
}

func NewRiskBufferFund() *RiskBufferFund {
	return &RiskBufferFund{
		Global: &GlobalRiskBufferFund{
			RiskBufferFund: new(big.Int),
			Liquidity:      new(uint256.Int),
		},
		positions: make(map[uuid.UUID]*RiskBufferFundPosition),
	}
}

// Position returns the account's position, or nil.
func (f *RiskBufferFund) Position(account uuid.UUID) *RiskBufferFundPosition {
	return f.positions[account]
}

// Increase adds liquidity to the account's position and the global fund and
// restarts the lock period from now.
func (f *RiskBufferFund) Increase(account uuid.UUID, liquidityDelta *uint256.Int, now int64) *RiskBufferFundPosition {
	pos := f.positions[account]
	if pos == nil {
		pos = &RiskBufferFundPosition{Liquidity: new(uint256.Int)}
		f.positions[account] = pos
	}
	pos.Liquidity.Add(pos.Liquidity, liquidityDelta)
	pos.UnlockTime = now + int64(RiskBufferFundLockPeriod/time.Second)

	f.Global.Liquidity.Add(f.Global.Liquidity, liquidityDelta)
	f.Global.RiskBufferFund.Add(f.Global.RiskBufferFund, liquidityDelta.ToBig())
	return pos
}

// Decrease withdraws liquidity from the account's position. The lock must
// have strictly elapsed, the position must cover the delta, and the
// withdrawal must not push the fund negative while the pool carries an
// unrealized loss. The position record is deleted when it reaches zero.
func (f *RiskBufferFund) Decrease(account uuid.UUID, liquidityDelta *uint256.Int, currentUnrealizedLoss *uint256.Int, now int64) error {
	pos := f.positions[account]
	if pos == nil {
		return &InsufficientLiquidityError{Requested: liquidityDelta, Available: new(uint256.Int)}
	}
	if now <= pos.UnlockTime {
		return &UnlockTimeNotReachedError{UnlockTime: pos.UnlockTime}
	}
	if liquidityDelta.Cmp(pos.Liquidity) > 0 {
		return &InsufficientLiquidityError{Requested: liquidityDelta, Available: pos.Liquidity}
	}

	fundAfter := new(big.Int).Sub(f.Global.RiskBufferFund, liquidityDelta.ToBig())
	if fundAfter.Sign() < 0 && !currentUnrealizedLoss.IsZero() {
		return &RiskBufferFundLossError{Fund: f.Global.RiskBufferFund, UnrealizedLoss: currentUnrealizedLoss}
	}

	pos.Liquidity.Sub(pos.Liquidity, liquidityDelta)
	if pos.Liquidity.IsZero() {
		delete(f.positions, account)
	}
	f.Global.Liquidity.Sub(f.Global.Liquidity, liquidityDelta)
	f.Global.RiskBufferFund.Set(fundAfter)
	return nil
}

// UnlockTimeNotReachedError rejects a withdrawal before the lock elapses.
type UnlockTimeNotReachedError struct {
	UnlockTime int64
}

func (e *UnlockTimeNotReachedError) Error() string {
	return fmt.Sprintf("liquidity: unlock time %d not reached", e.UnlockTime)
}

// InsufficientLiquidityError rejects a withdrawal beyond the position.
type InsufficientLiquidityError struct {
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("liquidity: insufficient liquidity: requested %s, available %s", e.Requested, e.Available)
}

// RiskBufferFundLossError rejects a withdrawal that would leave a negative
// fund while the pool carries an unrealized loss.
type RiskBufferFundLossError struct {
	Fund           *big.Int
	UnrealizedLoss *uint256.Int
}

func (e *RiskBufferFundLossError) Error() string {
	return fmt.Sprintf("liquidity: risk buffer fund %s cannot absorb withdrawal with unrealized loss %s", e.Fund, e.UnrealizedLoss)
}
