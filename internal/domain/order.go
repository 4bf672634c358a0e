package domain

import "fmt"

// OrderStatus is the escrow state of an order. The numbering is part of the
// journal format: Order=0, Complete=1, Complain=2.
type OrderStatus uint8

const (
	StatusOrder OrderStatus = iota
	StatusComplete
	StatusComplain
)

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	switch s {
	case StatusOrder:
		return "Order"
	case StatusComplete:
		return "Complete"
	case StatusComplain:
		return "Complain"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name for JSON bodies and the feed.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Order":
		*s = StatusOrder
	case "Complete":
		*s = StatusComplete
	case "Complain":
		*s = StatusComplain
	default:
		return fmt.Errorf("unknown order status %q", b)
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusComplain
}

// Order is a buyer's reservation against a listing.
// Escrowed is the value taken into custody when the order was placed; it is
// what gets released or refunded, regardless of later price changes.
type Order struct {
	ItemID   string      `json:"item_id"`
	Buyer    string      `json:"buyer"`
	Amount   int64       `json:"amount"`
	Status   OrderStatus `json:"status"`
	Escrowed int64       `json:"escrowed"`
	Seq      uint64      `json:"seq"` // Sequence of the transaction that created it
}

// IsPending checks if the order still holds escrowed value.
func (o *Order) IsPending() bool {
	return o.Status == StatusOrder
}

// OrderKey identifies the single active order a buyer may hold on an item.
type OrderKey struct {
	ItemID string
	Buyer  string
}
