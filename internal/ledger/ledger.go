// Package ledger holds the escrow state machine: listings, orders and the
// rules tying them to fund custody.
//
// A Ledger is not safe for concurrent use. The engine serializes every call
// through a single goroutine; tests drive it directly.
//
// Every mutating operation validates all of its preconditions, then performs
// the value transfer, and only then mutates state. A rejected call therefore
// leaves listings, orders and custody exactly as they were.
package ledger

import (
	"fmt"
	"sort"

	"escrow_go/internal/domain"
	"escrow_go/pkg/safe"
)

// Ledger is the explicit state object owned by the escrow engine.
type Ledger struct {
	listings map[string]*domain.Listing
	orders   map[domain.OrderKey]*domain.Order
	history  map[domain.OrderKey][]domain.Order // Archived terminal orders, oldest first
	funds    domain.ValueTransfer
	seq      uint64 // Last committed transaction
}

// New creates an empty ledger delegating custody to funds.
func New(funds domain.ValueTransfer) *Ledger {
	return &Ledger{
		listings: make(map[string]*domain.Listing),
		orders:   make(map[domain.OrderKey]*domain.Order),
		history:  make(map[domain.OrderKey][]domain.Order),
		funds:    funds,
	}
}

// Seq returns the sequence number of the last committed transaction.
func (l *Ledger) Seq() uint64 {
	return l.seq
}

// Offer lists amount units of itemID at unitPrice, or restocks an existing
// listing: the price is replaced and the amount is added.
func (l *Ledger) Offer(itemID string, unitPrice, amount int64, caller string) error {
	if caller == "" {
		return domain.ErrUnknownCaller
	}
	if itemID == "" {
		return domain.ErrEmptyItemID
	}
	if unitPrice <= 0 || amount <= 0 {
		return fmt.Errorf("%w: price=%d, amount=%d", domain.ErrInvalidListingParameters, unitPrice, amount)
	}

	li, ok := l.listings[itemID]
	if !ok {
		l.listings[itemID] = &domain.Listing{
			ItemID:       itemID,
			Seller:       caller,
			UnitPrice:    unitPrice,
			Available:    amount,
			TotalOffered: amount,
		}
		l.seq++
		return nil
	}

	available, err := safe.Add(li.Available, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValueOverflow, err)
	}
	total, err := safe.Add(li.TotalOffered, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValueOverflow, err)
	}

	// Last writer wins on price; the seller stays the one who created the listing.
	li.UnitPrice = unitPrice
	li.Available = available
	li.TotalOffered = total
	l.seq++
	return nil
}

// Order reserves amount units of itemID for caller, taking paidValue into
// custody. paidValue must be exactly amount * unit price.
func (l *Ledger) Order(itemID string, amount, paidValue int64, caller string) error {
	if caller == "" {
		return domain.ErrUnknownCaller
	}

	li, ok := l.listings[itemID]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrItemNotFound, itemID)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidOrderAmount, amount)
	}
	if amount > li.Available {
		return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientAvailableAmount, amount, li.Available)
	}
	want, err := safe.Mul(amount, li.UnitPrice)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValueOverflow, err)
	}
	if paidValue != want {
		return fmt.Errorf("%w: paid %d, want %d", domain.ErrIncorrectPaymentValue, paidValue, want)
	}

	key := domain.OrderKey{ItemID: itemID, Buyer: caller}
	prev, hasPrev := l.orders[key]
	if hasPrev && prev.IsPending() {
		return fmt.Errorf("%w: %d units of %q", domain.ErrOrderAlreadyPending, prev.Amount, itemID)
	}

	next := l.seq + 1
	if err := l.funds.Accept(caller, paidValue, next); err != nil {
		return fmt.Errorf("accept payment: %w", err)
	}

	if hasPrev {
		l.history[key] = append(l.history[key], *prev)
	}
	li.Available -= amount
	l.orders[key] = &domain.Order{
		ItemID:   itemID,
		Buyer:    caller,
		Amount:   amount,
		Status:   domain.StatusOrder,
		Escrowed: paidValue,
		Seq:      next,
	}
	l.seq = next
	return nil
}

// Complete releases the caller's escrowed payment on itemID to the seller.
func (l *Ledger) Complete(itemID, caller string) error {
	o, li, ok := l.pending(itemID, caller)
	if !ok {
		return domain.ErrOrderNotEligibleForCompletion
	}

	next := l.seq + 1
	if err := l.funds.Release(li.Seller, o.Escrowed, next); err != nil {
		return fmt.Errorf("release to seller: %w", err)
	}

	o.Status = domain.StatusComplete
	l.seq = next
	return nil
}

// Complain refunds the caller's escrowed payment on itemID. Units stay
// reserved; there is no restock on a complaint.
func (l *Ledger) Complain(itemID, caller string) error {
	o, _, ok := l.pending(itemID, caller)
	if !ok {
		return domain.ErrOrderNotEligibleForComplaint
	}

	next := l.seq + 1
	if err := l.funds.Release(caller, o.Escrowed, next); err != nil {
		return fmt.Errorf("refund buyer: %w", err)
	}

	o.Status = domain.StatusComplain
	l.seq = next
	return nil
}

func (l *Ledger) pending(itemID, caller string) (*domain.Order, *domain.Listing, bool) {
	if caller == "" {
		return nil, nil, false
	}
	o, ok := l.orders[domain.OrderKey{ItemID: itemID, Buyer: caller}]
	if !ok || !o.IsPending() {
		return nil, nil, false
	}
	li, ok := l.listings[itemID]
	if !ok {
		return nil, nil, false
	}
	return o, li, true
}

// GetOrder returns a copy of the caller's current order on itemID.
func (l *Ledger) GetOrder(itemID, caller string) (domain.Order, error) {
	o, ok := l.orders[domain.OrderKey{ItemID: itemID, Buyer: caller}]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %q for %q", domain.ErrOrderNotFound, itemID, caller)
	}
	return *o, nil
}

// GetListing returns a copy of the listing for itemID.
func (l *Ledger) GetListing(itemID string) (domain.Listing, error) {
	li, ok := l.listings[itemID]
	if !ok {
		return domain.Listing{}, fmt.Errorf("%w: %q", domain.ErrItemNotFound, itemID)
	}
	return *li, nil
}

// History returns the archived terminal orders a buyer held on itemID
// before re-ordering it, oldest first.
func (l *Ledger) History(itemID, buyer string) []domain.Order {
	h := l.history[domain.OrderKey{ItemID: itemID, Buyer: buyer}]
	out := make([]domain.Order, len(h))
	copy(out, h)
	return out
}

// State is a deep copy of the ledger, sorted for stable comparison and dumps.
type State struct {
	Seq      uint64           `json:"seq"`
	Listings []domain.Listing `json:"listings"`
	Orders   []domain.Order   `json:"orders"`
	History  []domain.Order   `json:"history"`
	Custody  int64            `json:"custody"`
}

// Snapshot returns a deep copy of the whole ledger.
func (l *Ledger) Snapshot() State {
	st := State{
		Seq:      l.seq,
		Listings: make([]domain.Listing, 0, len(l.listings)),
		Orders:   make([]domain.Order, 0, len(l.orders)),
		Custody:  l.funds.Custody(),
	}
	for _, li := range l.listings {
		st.Listings = append(st.Listings, *li)
	}
	for _, o := range l.orders {
		st.Orders = append(st.Orders, *o)
	}
	for _, h := range l.history {
		st.History = append(st.History, h...)
	}

	sort.Slice(st.Listings, func(i, j int) bool { return st.Listings[i].ItemID < st.Listings[j].ItemID })
	sortOrders(st.Orders)
	sortOrders(st.History)
	return st
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].ItemID != orders[j].ItemID {
			return orders[i].ItemID < orders[j].ItemID
		}
		if orders[i].Buyer != orders[j].Buyer {
			return orders[i].Buyer < orders[j].Buyer
		}
		return orders[i].Seq < orders[j].Seq
	})
}

// VerifyInvariants checks the ledger-wide invariants:
//   - every listing has a positive price and non-negative availability
//   - quantity conservation: available + all units ever ordered == total offered
//   - custody holds exactly the escrowed value of pending orders
func (l *Ledger) VerifyInvariants() error {
	ordered := make(map[string]int64, len(l.listings))
	var escrowed int64

	count := func(o domain.Order) error {
		var err error
		if ordered[o.ItemID], err = safe.Add(ordered[o.ItemID], o.Amount); err != nil {
			return err
		}
		if o.IsPending() {
			if escrowed, err = safe.Add(escrowed, o.Escrowed); err != nil {
				return err
			}
		}
		return nil
	}
	for _, o := range l.orders {
		if err := count(*o); err != nil {
			return fmt.Errorf("LEDGER_INVARIANT_OVERFLOW: %w", err)
		}
	}
	for _, h := range l.history {
		for _, o := range h {
			if o.IsPending() {
				return fmt.Errorf("LEDGER_INVARIANT_PENDING_IN_HISTORY: %s/%s seq=%d", o.ItemID, o.Buyer, o.Seq)
			}
			if err := count(o); err != nil {
				return fmt.Errorf("LEDGER_INVARIANT_OVERFLOW: %w", err)
			}
		}
	}

	for id, li := range l.listings {
		if li.UnitPrice <= 0 {
			return fmt.Errorf("LEDGER_INVARIANT_NON_POSITIVE_PRICE: %s = %d", id, li.UnitPrice)
		}
		if li.Available < 0 {
			return fmt.Errorf("LEDGER_INVARIANT_NEGATIVE_AVAILABLE: %s = %d", id, li.Available)
		}
		if li.Available+ordered[id] != li.TotalOffered {
			return fmt.Errorf("LEDGER_INVARIANT_QUANTITY_NOT_CONSERVED: %s available=%d ordered=%d offered=%d",
				id, li.Available, ordered[id], li.TotalOffered)
		}
		delete(ordered, id)
	}
	for id := range ordered {
		return fmt.Errorf("LEDGER_INVARIANT_ORDER_WITHOUT_LISTING: %s", id)
	}

	if held := l.funds.Custody(); held != escrowed {
		return fmt.Errorf("LEDGER_INVARIANT_CUSTODY_MISMATCH: custody=%d, pending escrow=%d", held, escrowed)
	}
	return nil
}
