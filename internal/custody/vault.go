// Package custody implements the ledger's value-transfer primitive in process.
package custody

import (
	"fmt"
	"sync"

	"escrow_go/internal/domain"
	"escrow_go/pkg/safe"
)

// CustodyAccount is the balance-book owner holding escrowed value.
const CustodyAccount = "@custody"

// Vault moves value between attached payments, ledger custody and identities.
// Custody value is always fully reserved: nothing leaves it except through
// Release, and every Release names its recipient.
type Vault struct {
	mu       sync.RWMutex
	book     *domain.BalanceBook
	accepted int64 // Value ever accepted; equals the sum of all balances
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{book: domain.NewBalanceBook()}
}

var _ domain.ValueTransfer = (*Vault)(nil)

// Accept takes value attached by from into custody.
func (v *Vault) Accept(from string, value int64, seq uint64) error {
	if from == "" || value <= 0 {
		return fmt.Errorf("%w: accept %d from %q", domain.ErrInvalidTransfer, value, from)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	accepted, err := safe.Add(v.accepted, value)
	if err != nil {
		return fmt.Errorf("%w: accepted %d + %d", domain.ErrValueOverflow, v.accepted, value)
	}
	c := v.book.Get(CustodyAccount)
	v.accepted = accepted
	c.Credit(value, seq)
	c.Reserve(value, seq)
	c.VerifyInvariant()
	return nil
}

// Release moves value from custody to the identity to.
func (v *Vault) Release(to string, value int64, seq uint64) error {
	if to == "" || value <= 0 {
		return fmt.Errorf("%w: release %d to %q", domain.ErrInvalidTransfer, value, to)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	c := v.book.Get(CustodyAccount)
	if value > c.Reserved {
		return fmt.Errorf("%w: release %d, held %d", domain.ErrInsufficientCustody, value, c.Reserved)
	}
	dst := v.book.Get(to)
	if _, err := safe.Add(dst.Amount, value); err != nil {
		return fmt.Errorf("%w: balance %d + %d", domain.ErrValueOverflow, dst.Amount, value)
	}

	c.Release(value, seq)
	c.Debit(value, seq)
	dst.Credit(value, seq)

	c.VerifyInvariant()
	dst.VerifyInvariant()
	return nil
}

// Custody returns the value currently held by the ledger.
func (v *Vault) Custody() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.book.Peek(CustodyAccount).Amount
}

// Balance returns the value credited to an identity.
func (v *Vault) Balance(owner string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.book.Peek(owner).Amount
}

// Snapshot returns every balance including custody (for state dump).
func (v *Vault) Snapshot() []domain.Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.book.Snapshot()
}

// VerifyAll panics if any balance breaks its invariant, custody holds
// unreserved value, or value was created or lost.
func (v *Vault) VerifyAll() {
	v.mu.RLock()
	defer v.mu.RUnlock()

	v.book.VerifyAll()
	if c := v.book.Peek(CustodyAccount); c.Available() != 0 {
		panic(fmt.Sprintf("CUSTODY_INVARIANT_UNRESERVED: amount=%d, reserved=%d", c.Amount, c.Reserved))
	}
	if total := v.book.Total(); total != v.accepted {
		panic(fmt.Sprintf("VAULT_CONSERVATION_VIOLATION: balances=%d, accepted=%d", total, v.accepted))
	}
}
