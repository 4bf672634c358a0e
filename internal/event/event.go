// Package event defines the ledger commands carried through the sequencer.
package event

// EventType defines the kind of ledger command
type EventType int

const (
	EventOffer EventType = iota + 1
	EventOrder
	EventComplete
	EventComplain
)

// String returns the string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventOffer:
		return "OFFER"
	case EventOrder:
		return "ORDER"
	case EventComplete:
		return "COMPLETE"
	case EventComplain:
		return "COMPLAIN"
	default:
		return "UNKNOWN"
	}
}

// Event is a ledger command submitted on behalf of an authenticated caller.
type Event interface {
	GetType() EventType
	GetCaller() string
	GetItemID() string
}

// BaseEvent carries the fields shared by every command.
type BaseEvent struct {
	Caller string // Identity supplied by the trusted identity provider
	ItemID string
}

func (b *BaseEvent) GetCaller() string { return b.Caller }
func (b *BaseEvent) GetItemID() string { return b.ItemID }

// OfferEvent lists or restocks an item.
type OfferEvent struct {
	BaseEvent
	UnitPrice int64
	Amount    int64
}

func (e *OfferEvent) GetType() EventType { return EventOffer }

// OrderEvent reserves units with an attached payment.
type OrderEvent struct {
	BaseEvent
	Amount    int64
	PaidValue int64
}

func (e *OrderEvent) GetType() EventType { return EventOrder }

// CompleteEvent confirms delivery and releases escrow to the seller.
type CompleteEvent struct {
	BaseEvent
}

func (e *CompleteEvent) GetType() EventType { return EventComplete }

// ComplainEvent contests the order and refunds the buyer.
type ComplainEvent struct {
	BaseEvent
}

func (e *ComplainEvent) GetType() EventType { return EventComplain }
