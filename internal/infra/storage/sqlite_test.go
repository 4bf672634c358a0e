package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"escrow_go/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func entry(seq uint64, kind domain.TxKind) *domain.JournalEntry {
	return &domain.JournalEntry{
		Seq:       seq,
		TxID:      "tx-" + string(rune('a'+seq)),
		Kind:      kind,
		ItemID:    "apple",
		Caller:    "seller1",
		UnitPrice: 2,
		Amount:    10,
		CreatedAt: time.Now(),
	}
}

func TestAppendAndEntries(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for i, kind := range []domain.TxKind{domain.TxOffer, domain.TxOrder, domain.TxComplete} {
		if err := s.Append(ctx, entry(uint64(i+1), kind)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	all, err := s.Entries(ctx, 0)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != uint64(i+1) {
			t.Errorf("expected seq %d at index %d, got %d", i+1, i, e.Seq)
		}
	}
	if all[1].Kind != domain.TxOrder {
		t.Errorf("expected kind order, got %s", all[1].Kind)
	}

	tail, _ := s.Entries(ctx, 2)
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Errorf("expected only seq 3 after 2, got %+v", tail)
	}
}

func TestAppendDuplicateSeq(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.Append(ctx, entry(1, domain.TxOffer)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	dup := entry(1, domain.TxOffer)
	dup.TxID = "other"
	if err := s.Append(ctx, dup); err == nil {
		t.Error("expected duplicate seq to fail")
	}
}

func TestLastSeq(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	last, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq failed: %v", err)
	}
	if last != 0 {
		t.Errorf("expected 0 for empty journal, got %d", last)
	}

	s.Append(ctx, entry(1, domain.TxOffer))
	s.Append(ctx, entry(2, domain.TxOffer))

	if last, _ = s.LastSeq(ctx); last != 2 {
		t.Errorf("expected last seq 2, got %d", last)
	}
}

func TestMetaOperations(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveMeta("display.unit", "KRW"); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}
	s.SaveMeta("display.decimals", "0")
	s.SaveMeta("display.unit", "USD")

	m, err := s.LoadMetaMap()
	if err != nil {
		t.Fatalf("LoadMetaMap failed: %v", err)
	}
	if len(m) != 2 {
		t.Errorf("expected 2 settings, got %d", len(m))
	}
	if m["display.unit"] != "USD" {
		t.Errorf("expected 'USD', got '%s'", m["display.unit"])
	}
}
