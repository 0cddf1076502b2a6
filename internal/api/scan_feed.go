package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/gorilla/websocket"

	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/service"
	"github.com/wallet-tracker/internal/types"
)

const (
	feedSendBuffer   = 16
	feedWriteTimeout = 10 * time.Second
	feedPongTimeout  = 60 * time.Second
	feedPingInterval = 54 * time.Second
	feedReadLimit    = 512
)

// ScanEvent is pushed to feed subscribers when a scan commits
type ScanEvent struct {
	Type            string            `json:"type"`
	Scan            *types.ScanRecord `json:"scan"`
	PagesRequested  int               `json:"pagesRequested"`
	PagesSkipped    int               `json:"pagesSkipped"`
	DuplicatesFound int               `json:"duplicatesFound"`
	AddressesSeen   uint64            `json:"addressesSeen"` // Approximate distinct addresses since startup
	Timestamp       int64             `json:"timestamp"`
}

// ScanFeed broadcasts committed scans to websocket subscribers
type ScanFeed struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader

	sketchMu sync.Mutex
	sketch   *hyperloglog.Sketch
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewScanFeed creates an empty feed
func NewScanFeed() *ScanFeed {
	return &ScanFeed{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sketch: hyperloglog.New14(),
	}
}

// Clients returns the number of connected subscribers
func (f *ScanFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// ScanCommitted implements service.ScanListener
func (f *ScanFeed) ScanCommitted(ctx context.Context, report *service.RunReport, records []types.WalletRecord) {
	f.sketchMu.Lock()
	for _, record := range records {
		f.sketch.Insert([]byte(record.Address))
	}
	seen := f.sketch.Estimate()
	f.sketchMu.Unlock()

	data, err := json.Marshal(ScanEvent{
		Type:            "scan_committed",
		Scan:            report.Scan,
		PagesRequested:  report.PagesRequested,
		PagesSkipped:    report.PagesSkipped,
		DuplicatesFound: report.DuplicatesFound,
		AddressesSeen:   seen,
		Timestamp:       time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to encode scan event")
		return
	}

	if dropped := f.broadcast(data); dropped > 0 {
		logging.FromContext(ctx).WithField("dropped", dropped).Warn("Scan feed subscribers too slow, event dropped")
	}
}

// broadcast queues data for every client and returns how many were full
func (f *ScanFeed) broadcast(data []byte) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dropped := 0
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	return dropped
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (f *ScanFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("Failed to upgrade scan feed connection")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	logger.WithField("clients", f.Clients()).Debug("Scan feed subscriber connected")

	go c.writePump()
	c.readPump()

	f.remove(c)
	logger.Debug("Scan feed subscriber disconnected")
}

// Close disconnects every subscriber
func (f *ScanFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *ScanFeed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// writePump owns all writes to the connection
func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it returns once the connection fails
func (c *feedClient) readPump() {
	c.conn.SetReadLimit(feedReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
