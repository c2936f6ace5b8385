package vault

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func TestTransferMovesBalance(t *testing.T) {
	v := New()
	alice := uuid.New()
	bob := uuid.New()

	v.Mint(alice, uint256.NewInt(1_000))

	if err := v.Transfer(alice, bob, uint256.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := v.BalanceOf(alice); got.Uint64() != 600 {
		t.Errorf("alice balance = %s, want 600", got)
	}
	if got := v.BalanceOf(bob); got.Uint64() != 400 {
		t.Errorf("bob balance = %s, want 400", got)
	}
}

func TestTransferInsufficientLeavesBalancesUntouched(t *testing.T) {
	v := New()
	alice := uuid.New()
	bob := uuid.New()

	v.Mint(alice, uint256.NewInt(100))

	err := v.Transfer(alice, bob, uint256.NewInt(101))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientBalanceError", err)
	}
	if insufficient.Available.Uint64() != 100 || insufficient.Requested.Uint64() != 101 {
		t.Errorf("error fields = %s/%s, want 100/101",
			insufficient.Available, insufficient.Requested)
	}

	if got := v.BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("alice balance = %s, want 100", got)
	}
	if got := v.BalanceOf(bob); !got.IsZero() {
		t.Errorf("bob balance = %s, want 0", got)
	}
}

func TestBurnFromUnknownAccount(t *testing.T) {
	v := New()

	err := v.Burn(uuid.New(), uint256.NewInt(1))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientBalanceError", err)
	}
	if !insufficient.Available.IsZero() {
		t.Errorf("available = %s, want 0", insufficient.Available)
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	v := New()
	escrowAccount := uuid.New()
	user := uuid.New()
	e := NewEscrow(v, escrowAccount)

	v.Mint(user, uint256.NewInt(500))

	if err := e.TransferIn(user, uint256.NewInt(500)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := v.BalanceOf(escrowAccount); got.Uint64() != 500 {
		t.Fatalf("escrow balance = %s, want 500", got)
	}

	if err := e.TransferOut(user, uint256.NewInt(500)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := v.BalanceOf(user); got.Uint64() != 500 {
		t.Errorf("user balance = %s, want 500", got)
	}

	// Escrow is empty now, paying out again must fail.
	if err := e.TransferOut(user, uint256.NewInt(1)); err == nil {
		t.Error("expected payout from empty escrow to fail")
	}
}
