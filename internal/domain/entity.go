package domain

import (
	"time"
)

// TxKind names a ledger operation in the journal.
type TxKind string

const (
	TxOffer    TxKind = "offer"
	TxOrder    TxKind = "order"
	TxComplete TxKind = "complete"
	TxComplain TxKind = "complain"
)

// JournalEntry is one committed ledger transaction.
// Rejected calls are never journaled.
type JournalEntry struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	TxID      string    `gorm:"uniqueIndex;size:36" json:"tx_id"`
	Kind      TxKind    `gorm:"size:16;index" json:"kind"`
	ItemID    string    `gorm:"index" json:"item_id"`
	Caller    string    `json:"caller"`
	UnitPrice int64     `json:"unit_price,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Value     int64     `json:"value,omitempty"` // Value moved by the transaction
	Counter   string    `json:"counterparty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerMeta stores journal-wide settings (Key-Value)
type LedgerMeta struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
