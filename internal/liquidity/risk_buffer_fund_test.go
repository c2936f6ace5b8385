package liquidity_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/EquationDAO/equation-contracts-sub001/internal/liquidity"
)

const lockSeconds = int64(liquidity.RiskBufferFundLockPeriod / time.Second)

func TestRiskBufferFund_IncreaseResetsLock(t *testing.T) {
	f := liquidity.NewRiskBufferFund()
	account := uuid.New()

	pos := f.Increase(account, uint256.NewInt(100), 1000)
	if pos.UnlockTime != 1000+lockSeconds {
		t.Errorf("unlock time = %d, want %d", pos.UnlockTime, 1000+lockSeconds)
	}

	// A later increase restarts the lock.
	pos = f.Increase(account, uint256.NewInt(50), 2000)
	if pos.UnlockTime != 2000+lockSeconds {
		t.Errorf("unlock time after top-up = %d, want %d", pos.UnlockTime, 2000+lockSeconds)
	}
	if pos.Liquidity.Uint64() != 150 {
		t.Errorf("position liquidity = %s, want 150", pos.Liquidity)
	}
	if f.Global.RiskBufferFund.Int64() != 150 || f.Global.Liquidity.Uint64() != 150 {
		t.Errorf("global fund = %s / %s, want 150/150", f.Global.RiskBufferFund, f.Global.Liquidity)
	}
}

func TestRiskBufferFund_DecreaseExactlyAtUnlockTimeFails(t *testing.T) {
	f := liquidity.NewRiskBufferFund()
	account := uuid.New()
	f.Increase(account, uint256.NewInt(100), 1000)

	// Exactly at unlockTime the lock has not strictly elapsed.
	err := f.Decrease(account, uint256.NewInt(10), new(uint256.Int), 1000+lockSeconds)
	var unlockErr *liquidity.UnlockTimeNotReachedError
	if !errors.As(err, &unlockErr) {
		t.Fatalf("err = %v, want UnlockTimeNotReachedError", err)
	}
	if unlockErr.UnlockTime != 1000+lockSeconds {
		t.Errorf("unlock time in error = %d, want %d", unlockErr.UnlockTime, 1000+lockSeconds)
	}

	// One second later the withdrawal goes through.
	if err := f.Decrease(account, uint256.NewInt(10), new(uint256.Int), 1000+lockSeconds+1); err != nil {
		t.Fatalf("decrease after unlock: %v", err)
	}
}

func TestRiskBufferFund_DecreaseBeyondPositionFails(t *testing.T) {
	f := liquidity.NewRiskBufferFund()
	account := uuid.New()
	f.Increase(account, uint256.NewInt(100), 0)

	err := f.Decrease(account, uint256.NewInt(101), new(uint256.Int), lockSeconds+1)
	var insufficient *liquidity.InsufficientLiquidityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientLiquidityError", err)
	}
	if insufficient.Available.Uint64() != 100 {
		t.Errorf("available in error = %s, want 100", insufficient.Available)
	}
}

func TestRiskBufferFund_DecreaseBlockedByUnrealizedLoss(t *testing.T) {
	f := liquidity.NewRiskBufferFund()
	account := uuid.New()
	f.Increase(account, uint256.NewInt(100), 0)
	// Trading losses drained part of the fund below the locked liquidity.
	f.Global.RiskBufferFund = big.NewInt(50)

	err := f.Decrease(account, uint256.NewInt(100), uint256.NewInt(1), lockSeconds+1)
	var lossErr *liquidity.RiskBufferFundLossError
	if !errors.As(err, &lossErr) {
		t.Fatalf("err = %v, want RiskBufferFundLossError", err)
	}

	// With zero unrealized loss the same withdrawal is allowed.
	if err := f.Decrease(account, uint256.NewInt(100), new(uint256.Int), lockSeconds+1); err != nil {
		t.Fatalf("decrease with zero loss: %v", err)
	}
	if f.Global.RiskBufferFund.Int64() != -50 {
		t.Errorf("global fund = %s, want -50", f.Global.RiskBufferFund)
	}
}

func TestRiskBufferFund_PositionDeletedAtZero(t *testing.T) {
	f := liquidity.NewRiskBufferFund()
	account := uuid.New()
	f.Increase(account, uint256.NewInt(100), 0)

	if err := f.Decrease(account, uint256.NewInt(100), new(uint256.Int), lockSeconds+1); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if f.Position(account) != nil {
		t.Error("position should be deleted when liquidity reaches zero")
	}

	// A decrease against a missing position reports zero availability.
	err := f.Decrease(account, uint256.NewInt(1), new(uint256.Int), lockSeconds+1)
	var insufficient *liquidity.InsufficientLiquidityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientLiquidityError", err)
	}
}
