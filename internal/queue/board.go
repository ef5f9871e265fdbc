package queue

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicops/clinic-platform/internal/observability/metrics"
	"github.com/clinicops/clinic-platform/internal/tenancy"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Board broadcasts the serving order of a clinic day to waiting-room
// displays over websocket. Subscriptions are keyed by org and date;
// the service publishes after every successful mutation.
type Board struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *metrics.QueueMetrics

	mu      sync.Mutex
	clients map[string]map[*boardClient]struct{}
}

type boardClient struct {
	conn *websocket.Conn
	send chan []byte
}

// BoardUpdate is the payload pushed to subscribed displays.
type BoardUpdate struct {
	OrgID   string  `json:"org_id"`
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

// NewBoard creates a queue board hub.
func NewBoard(logger *logging.Logger, m *metrics.QueueMetrics) *Board {
	if logger == nil {
		logger = logging.Default()
	}
	return &Board{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: map[string]map[*boardClient]struct{}{},
	}
}

func boardKey(orgID string, day time.Time) string {
	return orgID + "|" + day.Format("2006-01-02")
}

// Publish pushes the ordered entries to every display subscribed to
// the org and date. Slow consumers are dropped rather than blocking
// the publisher.
func (b *Board) Publish(orgID string, day time.Time, entries []Entry) {
	payload, err := json.Marshal(BoardUpdate{
		OrgID:   orgID,
		Date:    day.Format("2006-01-02"),
		Entries: entries,
	})
	if err != nil {
		b.logger.Error("queue board marshal failed", "error", err)
		return
	}

	key := boardKey(orgID, day)
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients[key] {
		select {
		case client.send <- payload:
		default:
			b.dropLocked(key, client)
		}
	}
}

// Subscribe upgrades the request to a websocket and streams board
// updates for the org's chosen date (default today).
func (b *Board) Subscribe(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	day := DateOf(time.Now().UTC())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("queue board upgrade failed", "error", err)
		return
	}

	client := &boardClient{conn: conn, send: make(chan []byte, 8)}
	key := boardKey(orgID, day)

	b.mu.Lock()
	if b.clients[key] == nil {
		b.clients[key] = map[*boardClient]struct{}{}
	}
	b.clients[key][client] = struct{}{}
	b.mu.Unlock()
	b.metrics.BoardClientConnected()

	go b.writePump(key, client)
	b.readPump(key, client)
}

func (b *Board) writePump(key string, client *boardClient) {
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.mu.Lock()
			b.dropLocked(key, client)
			b.mu.Unlock()
			return
		}
	}
}

// readPump discards inbound frames; its only job is noticing the close.
func (b *Board) readPump(key string, client *boardClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			b.mu.Lock()
			b.dropLocked(key, client)
			b.mu.Unlock()
			return
		}
	}
}

func (b *Board) dropLocked(key string, client *boardClient) {
	if _, present := b.clients[key][client]; !present {
		return
	}
	delete(b.clients[key], client)
	if len(b.clients[key]) == 0 {
		delete(b.clients, key)
	}
	close(client.send)
	_ = client.conn.Close()
	b.metrics.BoardClientDisconnected()
}
