// Package sse streams session events to UI clients as Server-Sent Events.
package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second

	// QueueSize bounds the events waiting for Run.
	QueueSize = 256
)

// Event is one message on the stream. Type names the event for the UI,
// e.g. "session_added" or "new_message".
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string

	// writeMu is held for the duration of each write to Writer.
	writeMu sync.Mutex
}

var errClientGone = errors.New("sse client gone")

// Broadcaster manages SSE client connections and message broadcasting.
// Publish never blocks; Run performs the writes.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int

	queue   chan Event
	dropped int64
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		queue:   make(chan Event, QueueSize),
	}
}

// Publish queues ev for delivery. When the queue is full the event is
// dropped so the session loop is never held up by slow clients.
func (b *Broadcaster) Publish(ev Event) {
	select {
	case b.queue <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		log.Warn().Str("type", ev.Type).Msg("SSE queue full, dropping event")
	}
}

// Dropped returns how many events Publish had to drop.
func (b *Broadcaster) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Run delivers queued events until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.queue:
			b.Broadcast(ev)
		}
	}
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.removeClientByID(client.ID)
}

// removeClientByID removes a client by ID. Safe to call twice.
func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	select {
	case <-client.Done:
	default:
		close(client.Done)
	}

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Broadcast writes ev to all connected clients right away.
func (b *Broadcaster) Broadcast(ev Event) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal SSE event")
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, jsonData)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		deadMu sync.Mutex
		dead   []string
	)
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				if !b.writeToClient(c, message) {
					deadMu.Lock()
					dead = append(dead, c.ID)
					deadMu.Unlock()
				}
			}(client)
		}
	}
	wg.Wait()

	for _, clientID := range dead {
		b.removeClientByID(clientID)
	}
}

// writeToClient writes a message to a single client with timeout and
// reports whether the client is still usable. Writes to one client are
// serialised; a write that outlives the timeout finishes in the background
// and only reports into its own buffered channel.
func (b *Broadcaster) writeToClient(client *Client, message string) bool {
	result := make(chan error, 1)

	go func() {
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		select {
		case <-client.Done:
			result <- errClientGone
			return
		default:
		}
		// Bounds a stuck write on a real connection; test writers do not
		// support deadlines.
		_ = http.NewResponseController(client.Writer).SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			result <- err
			return
		}
		client.Flusher.Flush()
		result <- nil
	}()

	select {
	case err := <-result:
		if err == nil {
			return true
		}
		if !errors.Is(err, errClientGone) {
			log.Debug().
				Str("clientId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
		}
		return false
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		return false
	case <-client.Done:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	client.writeMu.Lock()
	fmt.Fprintf(w, "event: connected\ndata: {\"type\":\"connected\",\"clientId\":\"%s\"}\n\n", client.ID)
	client.Flusher.Flush()
	client.writeMu.Unlock()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}

	// The ResponseWriter must not be touched once the handler returns.
	b.RemoveClient(client)
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
}
