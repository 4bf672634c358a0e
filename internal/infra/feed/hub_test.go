package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow_go/internal/domain"
	"escrow_go/internal/engine"
	"escrow_go/internal/infra"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, got %d", n, h.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	metrics := &infra.Metrics{}
	hub := NewHub(2, "USD", metrics)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitSubscribers(t, hub, 2)

	if got := metrics.Snapshot().ActiveConnections; got != 2 {
		t.Errorf("Expected 2 active connections, got %d", got)
	}

	hub.Publish(engine.Commit{
		Entry:   domain.JournalEntry{Seq: 7, Kind: domain.TxOrder, ItemID: "apple", UnitPrice: 250, Amount: 2, Value: 500},
		Listing: domain.Listing{ItemID: "apple", Seller: "seller1", UnitPrice: 250, Available: 8, TotalOffered: 10},
		Order:   &domain.Order{ItemID: "apple", Buyer: "buyer1", Amount: 2, Escrowed: 500},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		var msg struct {
			Type    string              `json:"type"`
			Entry   domain.JournalEntry `json:"entry"`
			Status  string              `json:"status"`
			Display DisplayValues       `json:"display"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		if msg.Type != "tx" || msg.Entry.Seq != 7 {
			t.Errorf("unexpected message: %s", data)
		}
		if msg.Display.Value != "5.00" || msg.Display.UnitPrice != "2.50" || msg.Display.Unit != "USD" {
			t.Errorf("unexpected display values: %+v", msg.Display)
		}
		if msg.Status != "Order" {
			t.Errorf("Expected status Order, got %q", msg.Status)
		}
	}
}

func TestHub_DisconnectAndClose(t *testing.T) {
	hub := NewHub(0, "KRW", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	dial(t, srv)
	waitSubscribers(t, hub, 2)

	a.Close()
	waitSubscribers(t, hub, 1)

	hub.Close()
	if hub.Subscribers() != 0 {
		t.Errorf("Expected no subscribers after Close, got %d", hub.Subscribers())
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(0, "KRW", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv) // never reads
	waitSubscribers(t, hub, 1)

	// Publish faster than the socket drains until the send buffer overflows.
	big := engine.Commit{Entry: domain.JournalEntry{Caller: strings.Repeat("x", 64*1024)}}
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow subscriber was not dropped")
		}
		hub.Publish(big)
	}
}
