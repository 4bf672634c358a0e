package domain

import (
	"fmt"
	"sort"

	"escrow_go/pkg/safe"
)

// Balance is the value held for one identity, with invariant checking.
// Reserved is the part of Amount earmarked for pending escrow orders; only the
// custody account ever reserves.
type Balance struct {
	Owner    string `json:"owner"`
	Amount   int64  `json:"amount"`
	Reserved int64  `json:"reserved"`
	LastSeq  uint64 `json:"last_seq"` // Last transaction sequence that modified this
}

// Available returns the unreserved balance (total - reserved).
func (b *Balance) Available() int64 {
	return safe.SafeSub(b.Amount, b.Reserved)
}

// Credit adds funds to the balance. Panics on overflow.
func (b *Balance) Credit(amount int64, seq uint64) {
	b.Amount = safe.SafeAdd(b.Amount, amount)
	b.LastSeq = seq
}

// Debit removes funds from the balance. Panics if insufficient or overflow.
func (b *Balance) Debit(amount int64, seq uint64) {
	if amount > b.Available() {
		panic(fmt.Sprintf("BALANCE_INSUFFICIENT: %s need %d, available %d",
			b.Owner, amount, b.Available()))
	}
	b.Amount = safe.SafeSub(b.Amount, amount)
	b.LastSeq = seq
}

// Reserve locks funds for a pending order.
func (b *Balance) Reserve(amount int64, seq uint64) {
	if amount > b.Available() {
		panic(fmt.Sprintf("BALANCE_RESERVE_INSUFFICIENT: %s need %d, available %d",
			b.Owner, amount, b.Available()))
	}
	b.Reserved = safe.SafeAdd(b.Reserved, amount)
	b.LastSeq = seq
}

// Release unlocks reserved funds.
func (b *Balance) Release(amount int64, seq uint64) {
	if amount > b.Reserved {
		panic(fmt.Sprintf("BALANCE_RELEASE_EXCEEDS_RESERVED: %s release %d, reserved %d",
			b.Owner, amount, b.Reserved))
	}
	b.Reserved = safe.SafeSub(b.Reserved, amount)
	b.LastSeq = seq
}

// VerifyInvariant checks that balance satisfies invariants.
// Call this after any state change to ensure data integrity.
func (b *Balance) VerifyInvariant() {
	if b.Amount < 0 {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s = %d",
			b.Owner, b.Amount))
	}

	if b.Reserved < 0 {
		panic(fmt.Sprintf("BALANCE_INVARIANT_NEGATIVE_RESERVED: %s = %d",
			b.Owner, b.Reserved))
	}

	if b.Reserved > b.Amount {
		panic(fmt.Sprintf("BALANCE_INVARIANT_RESERVED_EXCEEDS_AMOUNT: %s reserved=%d, amount=%d",
			b.Owner, b.Reserved, b.Amount))
	}
}

// BalanceBook manages multiple balances with invariant checking.
type BalanceBook struct {
	balances map[string]*Balance
}

// NewBalanceBook creates a new balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[string]*Balance),
	}
}

// Get returns the balance for an owner, creating if not exists.
func (bb *BalanceBook) Get(owner string) *Balance {
	b, ok := bb.balances[owner]
	if !ok {
		b = &Balance{Owner: owner}
		bb.balances[owner] = b
	}
	return b
}

// Peek returns a copy of the balance without creating it.
func (bb *BalanceBook) Peek(owner string) Balance {
	if b, ok := bb.balances[owner]; ok {
		return *b
	}
	return Balance{Owner: owner}
}

// VerifyAll checks invariants on all balances.
func (bb *BalanceBook) VerifyAll() {
	for _, b := range bb.balances {
		b.VerifyInvariant()
	}
}

// Snapshot returns a copy of all balances sorted by owner (for state dump).
func (bb *BalanceBook) Snapshot() []Balance {
	result := make([]Balance, 0, len(bb.balances))
	for _, v := range bb.balances {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Owner < result[j].Owner
	})
	return result
}

// Total sums the amount held across every balance.
func (bb *BalanceBook) Total() int64 {
	var total int64
	for _, b := range bb.balances {
		total = safe.SafeAdd(total, b.Amount)
	}
	return total
}
