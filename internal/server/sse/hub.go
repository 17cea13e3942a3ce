package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"login-management-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

var errHubStopped = errors.New("sse hub stopped")

// Client is a single connected SSE client
type Client chan []byte

// clientBuffer is the per-client backlog before a slow client is dropped
const clientBuffer = 16

// Hub fans outcome events out to every connected client
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	done       chan struct{}
	mu         sync.Mutex
}

// NewHub creates a new Hub; Run must be started before clients register
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		done:       make(chan struct{}),
	}
}

// NewClient returns a buffered client channel
func NewClient() Client {
	return make(Client, clientBuffer)
}

// Run processes registrations and broadcasts until ctx is done. It must run once.
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client. It blocks until Run accepts it or ctx is done.
func (h *Hub) Register(ctx context.Context, client Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes a client. A client the hub already dropped is ignored.
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish broadcasts an outcome. It never blocks; a full queue drops the event.
func (h *Hub) Publish(_ context.Context, outcome models.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	select {
	case h.broadcast <- payload:
		return nil
	default:
		log.Warn("SSE broadcast channel full, outcome dropped")
		return nil
	}
}
