// Package gateway serves the live event feed over websocket.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"optiontrader/internal/events"

	"github.com/gorilla/websocket"
)

// Envelope is what feed clients receive for each event.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Type    events.Type     `json:"type"`
	TS      string          `json:"ts"`
	TraceID string          `json:"trace_id,omitempty"`
	Data    json.RawMessage `json:"data"`
	Initial bool            `json:"initial,omitempty"`
}

type latestEntry struct {
	Seq  int64
	Data []byte
}

// Hub fans trading events out to websocket clients. It implements
// events.Sink so it can be registered on the event bus next to Redis.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[events.Type]latestEntry
	seq     int64
	replay  *ReplayBuffer

	upgrader websocket.Upgrader
	log      *slog.Logger

	// OnClientsChanged is called with the new client count.
	OnClientsChanged func(n int)
}

// NewHub creates a hub keeping the last replayCap envelopes for catch-up.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[events.Type]latestEntry),
		replay:  NewReplayBuffer(replayCap),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: slog.Default().With("component", "gateway"),
	}
}

// Publish stamps ev with the next sequence number and delivers it to every
// connected client. Slow clients drop messages rather than block the engine.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	data, err := json.Marshal(Envelope{
		Seq:     h.seq,
		Type:    ev.Type,
		TS:      ev.Time.Format(time.RFC3339Nano),
		TraceID: ev.TraceID,
		Data:    ev.Data,
	})
	if err != nil {
		return err
	}

	h.replay.Push(h.seq, data)
	h.latest[ev.Type] = latestEntry{Seq: h.seq, Data: data}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("ws client send buffer full, dropping event", "seq", h.seq)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and registers a feed client. A client that
// passes ?since=<seq> receives every buffered envelope after that seq;
// otherwise it gets the latest envelope of each event type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	h.register(conn, since)
}

func (h *Hub) register(conn *websocket.Conn, since int64) {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 512),
		hub:  h,
	}

	h.mu.Lock()
	var backlog [][]byte
	if since >= 0 {
		backlog = h.replay.Since(since)
	} else {
		backlog = h.snapshot()
	}
	for _, msg := range backlog {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count, "backlog", len(backlog))
	h.clientsChanged(count)

	go c.writePump()
	go c.readPump()
}

// snapshot returns the latest envelope per event type in seq order, marked
// initial. Caller holds h.mu.
func (h *Hub) snapshot() [][]byte {
	entries := make([]latestEntry, 0, len(h.latest))
	for _, e := range h.latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		var env Envelope
		if err := json.Unmarshal(e.Data, &env); err != nil {
			continue
		}
		env.Initial = true
		b, err := json.Marshal(env)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// RemoveClient unregisters c and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", "clients", count)
	h.clientsChanged(count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last published envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.RemoveClient(c)
	}
}

func (h *Hub) clientsChanged(n int) {
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}
}
