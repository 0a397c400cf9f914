package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const subscriberBuffer = 64

// StatusEvent is one SSE message. Log lines carry Msg; published snapshots
// carry their kind in Level and the payload in Data.
type StatusEvent struct {
	Time  string          `json:"t"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"d,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
	}
	return ch, unsub
}

// Close ends every subscription so open streams return.
func (b *StatusBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

// Subscribers returns the number of connected stream clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Publish sends v as the data of a kind event, e.g. a health snapshot.
func (b *StatusBroadcaster) Publish(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.Broadcast("error", "publish "+kind+": "+err.Error())
		return
	}
	b.send(StatusEvent{Level: kind, Msg: kind, Data: data})
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter mirrors log output to the stream, one event per line.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
