package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"escrow_go/internal/domain"
	"escrow_go/internal/engine"
	"escrow_go/internal/ledger"

	"github.com/shopspring/decimal"
)

// CatalogEntry is the read-side view of one listing.
type CatalogEntry struct {
	ItemID        string          `json:"item_id"`
	Seller        string          `json:"seller"`
	UnitPrice     int64           `json:"unit_price"`
	DisplayPrice  decimal.Decimal `json:"display_price"`
	Available     int64           `json:"available"`
	TotalOffered  int64           `json:"total_offered"`
	Pending       int             `json:"pending_orders"`
	Completed     int             `json:"completed_orders"`
	Complained    int             `json:"complained_orders"`
	ThumbnailPath string          `json:"thumbnail,omitempty"`
	UpdatedSeq    uint64          `json:"updated_seq"`
}

// SnapshotSource is the ledger state the catalog rebuilds from.
type SnapshotSource interface {
	Snapshot() ledger.State
}

// CatalogService maintains a listing view fed by committed transactions.
// It trails the ledger and never feeds back into it.
type CatalogService struct {
	mu       sync.RWMutex
	entries  map[string]*CatalogEntry
	decimals int32
	source   SnapshotSource

	commitChan chan engine.Commit
	overflow   chan struct{} // Signalled when a commit was dropped; triggers a rebuild
	log        *slog.Logger
}

// NewCatalogService creates a new CatalogService instance
func NewCatalogService(decimals int32, source SnapshotSource) *CatalogService {
	return &CatalogService{
		entries:    make(map[string]*CatalogEntry),
		decimals:   decimals,
		source:     source,
		commitChan: make(chan engine.Commit, 1000), // 버스트 대응을 위한 충분한 버퍼
		overflow:   make(chan struct{}, 1),
		log:        slog.Default().With(slog.String("module", "catalog")),
	}
}

// Enqueue hands a commit to the processor without blocking. It is meant to be
// registered with Sequencer.OnCommit. A full buffer drops the commit and
// schedules a rebuild from the ledger snapshot.
func (s *CatalogService) Enqueue(c engine.Commit) {
	select {
	case s.commitChan <- c:
	default:
		select {
		case s.overflow <- struct{}{}:
		default:
		}
	}
}

// StartCommitProcessor starts a background goroutine to process commits from the channel
func (s *CatalogService) StartCommitProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-s.commitChan:
				s.ProcessCommit(c)
			case <-s.overflow:
				s.log.Warn("Commit buffer overflowed, rebuilding catalog")
				s.Rebuild()
			}
		}
	}()
}

// ProcessCommit applies one committed transaction to the view.
// Commits older than the entry's last update are ignored.
func (s *CatalogService) ProcessCommit(c engine.Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(c.Listing.ItemID)
	if c.Entry.Seq <= e.UpdatedSeq {
		return
	}
	s.applyListingLocked(e, c.Listing)
	e.UpdatedSeq = c.Entry.Seq

	switch c.Entry.Kind {
	case domain.TxOrder:
		e.Pending++
	case domain.TxComplete:
		e.Pending--
		e.Completed++
	case domain.TxComplain:
		e.Pending--
		e.Complained++
	}
}

// Rebuild replaces the view with one derived from the current ledger snapshot.
// Thumbnail paths survive the rebuild.
func (s *CatalogService) Rebuild() {
	if s.source == nil {
		return
	}
	st := s.source.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.entries
	s.entries = make(map[string]*CatalogEntry, len(st.Listings))
	for _, li := range st.Listings {
		e := s.entryLocked(li.ItemID)
		s.applyListingLocked(e, li)
		e.UpdatedSeq = st.Seq
		if prev, ok := old[li.ItemID]; ok {
			e.ThumbnailPath = prev.ThumbnailPath
		}
	}

	count := func(o domain.Order) {
		e, ok := s.entries[o.ItemID]
		if !ok {
			return
		}
		switch o.Status {
		case domain.StatusOrder:
			e.Pending++
		case domain.StatusComplete:
			e.Completed++
		case domain.StatusComplain:
			e.Complained++
		}
	}
	for _, o := range st.Orders {
		count(o)
	}
	for _, o := range st.History {
		count(o)
	}
}

// Must be called with lock held
func (s *CatalogService) entryLocked(itemID string) *CatalogEntry {
	e, ok := s.entries[itemID]
	if !ok {
		e = &CatalogEntry{ItemID: itemID}
		s.entries[itemID] = e
	}
	return e
}

// Must be called with lock held
func (s *CatalogService) applyListingLocked(e *CatalogEntry, li domain.Listing) {
	e.Seller = li.Seller
	e.UnitPrice = li.UnitPrice
	e.DisplayPrice = domain.DisplayValue(li.UnitPrice, s.decimals)
	e.Available = li.Available
	e.TotalOffered = li.TotalOffered
}

// GetAll returns all catalog entries sorted by item id
func (s *CatalogService) GetAll() []CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]CatalogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, *e)
	}

	// Sort by item id for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].ItemID < result[j].ItemID
	})

	return result
}

// Get returns the catalog entry for an item
func (s *CatalogService) Get(itemID string) (CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[itemID]
	if !ok {
		return CatalogEntry{}, false
	}
	return *e, true
}

// SetThumbnail records the cached thumbnail for an item
func (s *CatalogService) SetThumbnail(itemID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entryLocked(itemID).ThumbnailPath = path
}
