package infra

import (
	"testing"
)

func TestMetrics_RecordCommit(t *testing.T) {
	m := &Metrics{}

	m.RecordCommit("offer", 1, 1000)
	m.RecordCommit("order", 2, 2000)
	m.RecordRejection(3000)

	snap := m.Snapshot()

	if snap.TxCommitted != 2 {
		t.Errorf("Expected 2 commits, got %d", snap.TxCommitted)
	}
	if snap.TxRejected != 1 {
		t.Errorf("Expected 1 rejection, got %d", snap.TxRejected)
	}
	if snap.Offers != 1 || snap.Orders != 1 {
		t.Errorf("Expected 1 offer and 1 order, got %d/%d", snap.Offers, snap.Orders)
	}
	if snap.LastSeq != 2 {
		t.Errorf("Expected last seq 2, got %d", snap.LastSeq)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordCommit("complete", 1, 1000)
	m.RecordError()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.TxCommitted != 0 {
		t.Error("Expected 0 commits after reset")
	}
	if snap.Completions != 0 {
		t.Error("Expected 0 completions after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}
