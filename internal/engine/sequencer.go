package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"escrow_go/internal/domain"
	"escrow_go/internal/event"
	"escrow_go/internal/infra"
	"escrow_go/internal/ledger"

	"github.com/google/uuid"
)

var (
	// ErrStopped is returned by Submit once the sequencer has stopped.
	ErrStopped = errors.New("sequencer stopped")
	// ErrNotAccepted wraps a Submit failure where the command was never
	// processed and left no trace in the ledger. It is safe to retry.
	ErrNotAccepted = errors.New("command not accepted")
	// ErrHalted is returned to the command in flight when the sequencer halts.
	// Its outcome is unknown until the journal is replayed.
	ErrHalted = errors.New("sequencer halted")
)

// Custody is the read and verification surface of the value-transfer
// collaborator the sequencer reports on.
type Custody interface {
	Balance(owner string) int64
	Snapshot() []domain.Balance
	VerifyAll()
}

// Receipt is the outcome of a committed transaction.
type Receipt struct {
	Seq  uint64
	TxID string
}

// Commit is handed to observers after a transaction is journaled.
// Listing and Order hold the post-transaction state (Order is nil for offers).
type Commit struct {
	Entry   domain.JournalEntry
	Listing domain.Listing
	Order   *domain.Order
	Created bool // The offer created the listing
}

type request struct {
	ev    event.Event
	reply chan result
}

type result struct {
	receipt Receipt
	err     error
}

// Sequencer is the core single-threaded transaction processor.
// Every ledger mutation happens on the Run goroutine, one command at a time.
type Sequencer struct {
	inbox  chan request
	ledger *ledger.Ledger
	vault  Custody
	store  domain.JournalRepository

	metrics *infra.Metrics
	verify  bool
	now     func() time.Time

	// Notified of every commit on the Run goroutine; must not block
	observers []func(Commit)

	// Request being processed; only touched on the Run goroutine
	inflight *request

	done chan struct{}
	mu   sync.RWMutex // Held for write while a command is applied; external reads take it for read
}

// NewSequencer creates a new sequencer instance. store may be nil (no journal).
func NewSequencer(inboxSize int, l *ledger.Ledger, vault Custody, store domain.JournalRepository, metrics *infra.Metrics) *Sequencer {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Sequencer{
		inbox:   make(chan request, inboxSize),
		ledger:  l,
		vault:   vault,
		store:   store,
		metrics: metrics,
		verify:  true,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// SetVerifyInvariants toggles the full invariant check after every commit.
func (s *Sequencer) SetVerifyInvariants(on bool) {
	s.verify = on
}

// OnCommit registers an observer. Call before Run.
func (s *Sequencer) OnCommit(fn func(Commit)) {
	s.observers = append(s.observers, fn)
}

// Submit enqueues a command and waits for its outcome. A ledger rejection is
// returned as the error. ctx only bounds the wait: a command already queued
// still runs to completion, so a ctx error after enqueue leaves the outcome
// unknown. Failures wrapping ErrNotAccepted guarantee the command never ran.
func (s *Sequencer) Submit(ctx context.Context, ev event.Event) (Receipt, error) {
	req := request{ev: ev, reply: make(chan result, 1)}

	select {
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("%w: %w", ErrNotAccepted, ctx.Err())
	case <-s.done:
		return Receipt{}, fmt.Errorf("%w: %w", ErrNotAccepted, ErrStopped)
	case s.inbox <- req:
	}

	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case res := <-req.reply:
		return res.receipt, res.err
	case <-s.done:
		select {
		case res := <-req.reply:
			return res.receipt, res.err
		default:
			// Queued but never picked up: the in-flight command of a halt
			// always gets an ErrHalted reply.
			return Receipt{}, fmt.Errorf("%w: %w", ErrNotAccepted, ErrStopped)
		}
	}
}

// Run starts the main transaction loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context, dumpPath string) {
	slog.Info("Sequencer started (single-writer ledger)", slog.Uint64("seq", s.ledger.Seq()))
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.failInflight()
			s.DumpState(dumpPath)
			// The ledger halts after the dump; the journal is the recovery source.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...", slog.Uint64("seq", s.ledger.Seq()))
			s.drain()
			return
		case req := <-s.inbox:
			// Left set if process panics
			s.inflight = &req
			s.process(req)
			s.inflight = nil
		}
	}
}

// drain rejects every queued command without running it.
func (s *Sequencer) drain() {
	for {
		select {
		case req := <-s.inbox:
			req.reply <- result{err: fmt.Errorf("%w: %w", ErrNotAccepted, ErrStopped)}
		default:
			return
		}
	}
}

// failInflight answers the command that was being processed when the
// sequencer panicked. It may or may not have reached the journal.
func (s *Sequencer) failInflight() {
	if s.inflight == nil {
		return
	}
	select {
	case s.inflight.reply <- result{err: fmt.Errorf("%w: seq=%d", ErrHalted, s.ledger.Seq())}:
	default:
	}
	s.inflight = nil
}

func (s *Sequencer) process(req request) {
	start := s.now()

	commit, err := s.commit(req.ev)
	latency := s.now().Sub(start).Nanoseconds()
	if err != nil {
		s.metrics.RecordRejection(latency)
		req.reply <- result{err: err}
		return
	}

	s.metrics.RecordCommit(string(commit.Entry.Kind), commit.Entry.Seq, latency)

	// Observers run before the reply: a receipt implies every observer has
	// seen the commit.
	for _, fn := range s.observers {
		fn(commit)
	}
	req.reply <- result{receipt: Receipt{Seq: commit.Entry.Seq, TxID: commit.Entry.TxID}}
}

// commit applies ev under the write lock and journals it on success.
func (s *Sequencer) commit(ev event.Event) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.listingLocked(ev.GetItemID())
	if err := apply(s.ledger, ev); err != nil {
		return Commit{}, err
	}

	c := s.describe(ev, uuid.NewString(), s.now())
	c.Created = ev.GetType() == event.EventOffer && !existed

	// Journal after apply: a rejected command never reaches the journal, and a
	// committed one that cannot be journaled halts the ledger.
	if s.store != nil {
		if err := s.store.Append(context.Background(), &c.Entry); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: seq=%d: %v", c.Entry.Seq, err))
		}
	}

	if s.verify {
		if err := s.ledger.VerifyInvariants(); err != nil {
			panic(err.Error())
		}
		s.vault.VerifyAll()
	}
	return c, nil
}

// describe builds the journal entry and observer payload for a command the
// ledger just accepted. Must be called with the write lock held.
func (s *Sequencer) describe(ev event.Event, txID string, at time.Time) Commit {
	entry := journalEntry(ev, s.ledger.Seq(), txID, at)
	li, _ := s.listingLocked(ev.GetItemID())
	c := Commit{Listing: li}

	switch ev.GetType() {
	case event.EventOffer:
		entry.UnitPrice = li.UnitPrice
	case event.EventOrder, event.EventComplete, event.EventComplain:
		o, err := s.ledger.GetOrder(ev.GetItemID(), ev.GetCaller())
		if err == nil {
			c.Order = &o
			entry.Amount = o.Amount
			entry.Value = o.Escrowed
		}
		entry.UnitPrice = li.UnitPrice
		entry.Counter = li.Seller
		if ev.GetType() == event.EventComplain {
			entry.Counter = ev.GetCaller()
		}
	}

	c.Entry = entry
	return c
}

func (s *Sequencer) listingLocked(itemID string) (domain.Listing, bool) {
	li, err := s.ledger.GetListing(itemID)
	return li, err == nil
}

// Replay re-applies journal entries in order without journaling them again.
// It must run before Run and before any traffic is accepted.
func (s *Sequencer) Replay(entries []domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		// Replay must still respect sequence order
		if want := s.ledger.Seq() + 1; e.Seq != want {
			return fmt.Errorf("REPLAY_GAP_DETECTED: expected %d, got %d", want, e.Seq)
		}
		ev, err := eventFromEntry(e)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		if err := apply(s.ledger, ev); err != nil {
			return fmt.Errorf("REPLAY_REJECTED: seq %d: %w", e.Seq, err)
		}
	}

	if err := s.ledger.VerifyInvariants(); err != nil {
		return fmt.Errorf("replayed state: %w", err)
	}
	return verifyCustody(s.vault)
}

// verifyCustody turns a custody invariant panic into an error.
func verifyCustody(c Custody) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replayed custody: %v", r)
		}
	}()
	c.VerifyAll()
	return nil
}

// GetListing returns a copy of a listing (external read).
func (s *Sequencer) GetListing(itemID string) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.GetListing(itemID)
}

// GetOrder returns a copy of the caller's order on an item (external read).
func (s *Sequencer) GetOrder(itemID, caller string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.GetOrder(itemID, caller)
}

// History returns the caller's archived orders on an item (external read).
func (s *Sequencer) History(itemID, caller string) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.History(itemID, caller)
}

// Snapshot returns a deep copy of the ledger state (external read).
func (s *Sequencer) Snapshot() ledger.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Snapshot()
}

// Balance returns the value credited to an identity.
func (s *Sequencer) Balance(owner string) int64 {
	return s.vault.Balance(owner)
}

// DumpState writes the entire internal state to a file (for post-mortem).
// It is called from the Run goroutine and does not take the lock.
func (s *Sequencer) DumpState(filename string) {
	if filename == "" {
		filename = "panic_dump.json"
	}
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Ledger   ledger.State     `json:"ledger"`
		Balances []domain.Balance `json:"balances"`
	}{
		Ledger:   s.ledger.Snapshot(),
		Balances: s.vault.Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
