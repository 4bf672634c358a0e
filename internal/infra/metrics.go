package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight ledger observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	txCommitted atomic.Uint64
	txRejected  atomic.Uint64
	offers      atomic.Uint64
	orders      atomic.Uint64
	completions atomic.Uint64
	complaints  atomic.Uint64
	errorsTotal atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32 // Feed subscribers
	lastSeq           atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCommit records a committed transaction with its processing latency.
func (m *Metrics) RecordCommit(kind string, seq uint64, latencyNs int64) {
	m.txCommitted.Add(1)
	m.lastSeq.Store(seq)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)

	switch kind {
	case "offer":
		m.offers.Add(1)
	case "order":
		m.orders.Add(1)
	case "complete":
		m.completions.Add(1)
	case "complain":
		m.complaints.Add(1)
	}
}

// RecordRejection records a call the ledger refused.
func (m *Metrics) RecordRejection(latencyNs int64) {
	m.txRejected.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an infrastructure error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active feed subscribers by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active feed subscribers by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TxCommitted       uint64    `json:"tx_committed"`
	TxRejected        uint64    `json:"tx_rejected"`
	Offers            uint64    `json:"offers"`
	Orders            uint64    `json:"orders"`
	Completions       uint64    `json:"completions"`
	Complaints        uint64    `json:"complaints"`
	ErrorsTotal       uint64    `json:"errors_total"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	LastSeq           uint64    `json:"last_seq"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TxCommitted:       m.txCommitted.Load(),
		TxRejected:        m.txRejected.Load(),
		Offers:            m.offers.Load(),
		Orders:            m.orders.Load(),
		Completions:       m.completions.Load(),
		Complaints:        m.complaints.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		LastSeq:           m.lastSeq.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.txCommitted.Store(0)
	m.txRejected.Store(0)
	m.offers.Store(0)
	m.orders.Store(0)
	m.completions.Store(0)
	m.complaints.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.lastSeq.Store(0)
}
