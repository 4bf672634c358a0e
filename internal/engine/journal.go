package engine

import (
	"fmt"
	"time"

	"escrow_go/internal/domain"
	"escrow_go/internal/event"
	"escrow_go/internal/ledger"
)

// apply dispatches a command to the ledger.
func apply(l *ledger.Ledger, ev event.Event) error {
	switch e := ev.(type) {
	case *event.OfferEvent:
		return l.Offer(e.ItemID, e.UnitPrice, e.Amount, e.Caller)
	case *event.OrderEvent:
		return l.Order(e.ItemID, e.Amount, e.PaidValue, e.Caller)
	case *event.CompleteEvent:
		return l.Complete(e.ItemID, e.Caller)
	case *event.ComplainEvent:
		return l.Complain(e.ItemID, e.Caller)
	default:
		return fmt.Errorf("unknown event type %v", ev.GetType())
	}
}

func journalEntry(ev event.Event, seq uint64, txID string, at time.Time) domain.JournalEntry {
	entry := domain.JournalEntry{
		Seq:       seq,
		TxID:      txID,
		ItemID:    ev.GetItemID(),
		Caller:    ev.GetCaller(),
		CreatedAt: at,
	}

	switch e := ev.(type) {
	case *event.OfferEvent:
		entry.Kind = domain.TxOffer
		entry.Amount = e.Amount
	case *event.OrderEvent:
		entry.Kind = domain.TxOrder
		entry.Amount = e.Amount
		entry.Value = e.PaidValue
	case *event.CompleteEvent:
		entry.Kind = domain.TxComplete
	case *event.ComplainEvent:
		entry.Kind = domain.TxComplain
	}
	return entry
}

// eventFromEntry rebuilds the command a journal entry was committed from.
func eventFromEntry(e domain.JournalEntry) (event.Event, error) {
	base := event.BaseEvent{Caller: e.Caller, ItemID: e.ItemID}

	switch e.Kind {
	case domain.TxOffer:
		return &event.OfferEvent{BaseEvent: base, UnitPrice: e.UnitPrice, Amount: e.Amount}, nil
	case domain.TxOrder:
		return &event.OrderEvent{BaseEvent: base, Amount: e.Amount, PaidValue: e.Value}, nil
	case domain.TxComplete:
		return &event.CompleteEvent{BaseEvent: base}, nil
	case domain.TxComplain:
		return &event.ComplainEvent{BaseEvent: base}, nil
	default:
		return nil, fmt.Errorf("unknown journal kind %q", e.Kind)
	}
}
