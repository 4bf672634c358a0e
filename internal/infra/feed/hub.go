package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"escrow_go/internal/domain"
	"escrow_go/internal/engine"
	"escrow_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// Message is one committed transaction as pushed to subscribers.
type Message struct {
	Type    string              `json:"type"` // tx
	Entry   domain.JournalEntry `json:"entry"`
	Listing domain.Listing      `json:"listing"`
	Status  *domain.OrderStatus `json:"status,omitempty"`
	Display DisplayValues       `json:"display"`
}

// DisplayValues carries decimal renderings of the integer ledger values.
type DisplayValues struct {
	Unit      string `json:"unit"`
	UnitPrice string `json:"unit_price"`
	Value     string `json:"value"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts commits to websocket subscribers. A subscriber whose send
// buffer is full is disconnected rather than slowing the broadcast.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	decimals int32
	unit     string
	metrics  *infra.Metrics
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a hub rendering values with the given display settings.
func NewHub(decimals int32, unit string, metrics *infra.Metrics) *Hub {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Hub{
		clients:  make(map[*client]struct{}),
		decimals: decimals,
		unit:     unit,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: slog.Default().With(slog.String("module", "feed")),
	}
}

// Publish encodes the commit once and queues it for every subscriber.
// It never blocks and is safe to register with Sequencer.OnCommit.
func (h *Hub) Publish(c engine.Commit) {
	msg := Message{
		Type:    "tx",
		Entry:   c.Entry,
		Listing: c.Listing,
		Display: DisplayValues{
			Unit:      h.unit,
			UnitPrice: domain.DisplayValue(c.Entry.UnitPrice, h.decimals).StringFixed(h.decimals),
			Value:     domain.DisplayValue(c.Entry.Value, h.decimals).StringFixed(h.decimals),
		},
	}
	if c.Order != nil {
		st := c.Order.Status
		msg.Status = &st
	}

	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to encode feed message", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default: // Slow subscriber
			h.log.Warn("Dropping slow feed subscriber", slog.String("remote", cl.conn.RemoteAddr().String()))
			h.removeLocked(cl)
		}
	}
}

// ServeHTTP upgrades the request and streams commits until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Feed upgrade failed", slog.Any("error", err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementConnections()

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		h.removeLocked(cl)
	}
}

// Must be called with lock held. Closing send makes writeLoop close the conn.
func (h *Hub) removeLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	h.metrics.DecrementConnections()
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl)
}

// readLoop discards inbound frames; it exists to process pongs and notice
// disconnects.
func (h *Hub) readLoop(cl *client) {
	defer func() {
		h.remove(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(readTimeout))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
