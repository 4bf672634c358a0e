package domain

import "context"

// ValueTransfer is the atomic value-transfer primitive the ledger delegates
// fund custody to. Every call either moves the full value or fails without
// any partial effect.
type ValueTransfer interface {
	// Accept takes value attached by from into ledger custody.
	Accept(from string, value int64, seq uint64) error
	// Release moves value out of custody to the identity to.
	Release(to string, value int64, seq uint64) error
	// Custody returns the value currently held by the ledger.
	Custody() int64
	// Balance returns the value credited to an identity.
	Balance(owner string) int64
}

// JournalRepository persists committed ledger transactions.
type JournalRepository interface {
	Append(ctx context.Context, entry *JournalEntry) error
	Entries(ctx context.Context, afterSeq uint64) ([]JournalEntry, error)
	LastSeq(ctx context.Context) (uint64, error)
}
