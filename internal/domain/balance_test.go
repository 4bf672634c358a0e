package domain

import "testing"

func TestBalance_ReserveRelease(t *testing.T) {
	b := &Balance{Owner: "custody"}
	b.Credit(100, 1)
	b.Reserve(60, 2)

	if b.Available() != 40 {
		t.Errorf("Expected available 40, got %d", b.Available())
	}

	b.Release(60, 3)
	b.Debit(100, 3)
	if b.Amount != 0 || b.Reserved != 0 {
		t.Errorf("Expected empty balance, got amount=%d reserved=%d", b.Amount, b.Reserved)
	}
	if b.LastSeq != 3 {
		t.Errorf("Expected last seq 3, got %d", b.LastSeq)
	}
	b.VerifyInvariant()
}

func TestBalance_DebitReservedPanics(t *testing.T) {
	b := &Balance{Owner: "custody"}
	b.Credit(10, 1)
	b.Reserve(10, 1)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Debit of reserved funds should panic")
		}
	}()
	b.Debit(1, 2)
}

func TestBalance_ReleaseExceedsReservedPanics(t *testing.T) {
	b := &Balance{Owner: "custody"}
	defer func() {
		if r := recover(); r == nil {
			t.Error("Release beyond reserved should panic")
		}
	}()
	b.Release(1, 1)
}

func TestBalanceBook(t *testing.T) {
	bb := NewBalanceBook()
	bb.Get("seller1").Credit(4, 1)
	bb.Get("buyer1").Credit(6, 2)

	if bb.Total() != 10 {
		t.Errorf("Expected total 10, got %d", bb.Total())
	}

	snap := bb.Snapshot()
	if len(snap) != 2 || snap[0].Owner != "buyer1" {
		t.Errorf("Expected sorted snapshot starting with buyer1, got %+v", snap)
	}

	if got := bb.Peek("nobody"); got.Amount != 0 {
		t.Errorf("Expected zero balance for unknown owner, got %d", got.Amount)
	}
	if len(bb.Snapshot()) != 2 {
		t.Error("Peek must not create balances")
	}
	bb.VerifyAll()
}
