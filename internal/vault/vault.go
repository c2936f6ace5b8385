// Package vault tracks settlement token balances for every account the
// engine knows about. The routers never touch balances directly: they go
// through an Escrow bound to their own account, so fee and margin custody
// stays a plain transfer between two accounts.
package vault

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type InsufficientBalanceError struct {
	Account   uuid.UUID
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("vault: account %s has %s, requested %s",
		e.Account, e.Available, e.Requested)
}

// Vault is safe for concurrent use. The engine mutates it under its own
// lock, the query surface reads it without one.
type Vault struct {
	mu       sync.RWMutex
	balances map[uuid.UUID]*uint256.Int
}

func New() *Vault {
	return &Vault{balances: make(map[uuid.UUID]*uint256.Int)}
}

// Mint credits an account. Used by the deposit bridge and by tests.
func (v *Vault) Mint(account uuid.UUID, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(account, amount)
}

// Burn debits an account, failing if the balance does not cover it.
func (v *Vault) Burn(account uuid.UUID, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debit(account, amount)
}

// Transfer moves amount from one account to another. The debit is checked
// first so a failed transfer leaves both balances untouched.
func (v *Vault) Transfer(from, to uuid.UUID, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.debit(from, amount); err != nil {
		return err
	}
	v.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (v *Vault) BalanceOf(account uuid.UUID) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (v *Vault) credit(account uuid.UUID, amount *uint256.Int) {
	b, ok := v.balances[account]
	if !ok {
		b = new(uint256.Int)
		v.balances[account] = b
	}
	b.Add(b, amount)
}

func (v *Vault) debit(account uuid.UUID, amount *uint256.Int) error {
	b, ok := v.balances[account]
	if !ok || b.Cmp(amount) < 0 {
		available := new(uint256.Int)
		if ok {
			available.Set(b)
		}
		return &InsufficientBalanceError{
			Account:   account,
			Requested: new(uint256.Int).Set(amount),
			Available: available,
		}
	}
	b.Sub(b, amount)
	return nil
}

// Escrow adapts a vault to the routers' treasury interface. TransferIn
// pulls funds from the payer into the escrow account, TransferOut pays
// out of it.
type Escrow struct {
	vault   *Vault
	account uuid.UUID
}

func NewEscrow(vault *Vault, account uuid.UUID) *Escrow {
	return &Escrow{vault: vault, account: account}
}

func (e *Escrow) Account() uuid.UUID { return e.account }

func (e *Escrow) TransferIn(from uuid.UUID, amount *uint256.Int) error {
	return e.vault.Transfer(from, e.account, amount)
}

func (e *Escrow) TransferOut(to uuid.UUID, amount *uint256.Int) error {
	return e.vault.Transfer(e.account, to, amount)
}
