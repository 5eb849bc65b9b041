// Package sse streams node change notifications to browsers as Server-Sent
// Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// TreeUpdated is the throttled event that follows node changes.
	TreeUpdated = "tree.updated"

	clientBuffer     = 64
	defaultHeartbeat = 30 * time.Second
	retryMillis      = 3000
)

// Event is one message for every connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Change is a node change. Kind is created, updated, moved or deleted, with
// or without the "node." prefix.
type Change struct {
	Kind    string `json:"-"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// Broker fans events out to SSE clients.
//
// One goroutine owns the client set; every other method hands it an
// operation over an unbuffered channel, so an accepted operation always runs.
type Broker struct {
	treeEvery time.Duration
	heartbeat time.Duration

	ops    chan func(*hub)
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

type hub struct {
	clients  map[chan []byte]struct{}
	seq      uint64
	lastTree time.Time
}

// NewBroker starts a broker that sends at most one tree.updated per
// treeEvery.
func NewBroker(treeEvery time.Duration) *Broker {
	if treeEvery <= 0 {
		treeEvery = 2 * time.Second
	}
	b := &Broker{
		treeEvery: treeEvery,
		heartbeat: defaultHeartbeat,
		ops:       make(chan func(*hub)),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)
	h := &hub{clients: make(map[chan []byte]struct{})}
	for {
		select {
		case <-b.quit:
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// send hands op to the loop. It reports false once the broker is closed.
func (b *Broker) send(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.done:
		return false
	}
}

func (h *hub) broadcast(e Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return
	}
	h.seq++
	msg := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, e.Type, data)
	for ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client
		}
	}
}

// Close stops the broker and closes every client stream.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// Subscribe registers a client. The stream is closed by cancel or by Close;
// on a closed broker it is returned already closed.
func (b *Broker) Subscribe() (stream <-chan []byte, cancel func()) {
	ch := make(chan []byte, clientBuffer)
	if !b.send(func(h *hub) { h.clients[ch] = struct{}{} }) {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		b.send(func(h *hub) {
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		})
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.send(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	return <-n
}

// Publish sends e to every client.
func (b *Broker) Publish(e Event) {
	b.send(func(h *hub) { h.broadcast(e) })
}

// NodeChanged publishes c as a node.* event, followed by tree.updated unless
// one went out less than treeEvery ago.
func (b *Broker) NodeChanged(c Change) {
	kind := c.Kind
	if !strings.HasPrefix(kind, "node.") {
		kind = "node." + kind
	}
	now := time.Now()
	b.send(func(h *hub) {
		h.broadcast(Event{Type: kind, Data: c})
		if now.Sub(h.lastTree) >= b.treeEvery {
			h.lastTree = now
			h.broadcast(Event{Type: TreeUpdated, Data: struct{}{}})
		}
	})
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	events, cancel := b.Subscribe()
	defer cancel()

	rc := http.NewResponseController(w)
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryMillis); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()
	for {
		var msg []byte
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			msg = []byte(": ping\n\n")
		case m, ok := <-events:
			if !ok {
				return
			}
			msg = m
		}
		if _, err := w.Write(msg); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
