package cri

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedBuffer     = 64
	feedWriteWait  = 5 * time.Second
	feedPingPeriod = 30 * time.Second
)

// FeedMessage is one score change pushed to stream subscribers.
type FeedMessage struct {
	Type          string    `json:"type"`
	NodeID        string    `json:"node_id"`
	EventType     EventKind `json:"event_type"`
	SkillID       string    `json:"skill_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	OldScore      float64   `json:"old_score"`
	NewScore      float64   `json:"new_score"`
	Change        float64   `json:"change"`
	Timestamp     time.Time `json:"timestamp"`
}

// Feed fans applied events out to websocket subscribers. A subscriber whose
// buffer is full misses messages rather than slowing down the store.
type Feed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type feedClient struct {
	nodeID string
	send   chan FeedMessage
}

// NewFeed creates a feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "cri.feed"),
	}
}

// Listener returns the store listener that publishes into the feed.
func (f *Feed) Listener() Listener {
	return func(_ context.Context, u Update) {
		f.Publish(FeedMessage{
			Type:          "cri_update",
			NodeID:        u.Result.NodeID,
			EventType:     u.Event.Kind,
			SkillID:       u.Event.SkillID,
			TransactionID: u.Event.TransactionID,
			OldScore:      u.Result.OldScore,
			NewScore:      u.Result.NewScore,
			Change:        u.Result.Change,
			Timestamp:     u.Entry.Timestamp,
		})
	}
}

// Publish delivers msg to every matching subscriber without blocking.
func (f *Feed) Publish(msg FeedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		if c.nodeID != "" && c.nodeID != msg.NodeID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			f.logger.Warn("feed subscriber lagging, dropping message", "node_id", msg.NodeID)
		}
	}
}

// Subscribers reports the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) add(nodeID string) *feedClient {
	c := &feedClient{nodeID: nodeID, send: make(chan FeedMessage, feedBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	return c
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams updates until the client
// goes away. The optional node_id query parameter filters the stream.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := f.add(r.URL.Query().Get("node_id"))
	defer f.remove(c)

	// The read loop only exists to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					f.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				f.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
