package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"droneaid/internal/logger"

	"github.com/gorilla/websocket"
)

// ErrHubStopped is returned when registering with a hub that is not running.
var ErrHubStopped = errors.New("websocket hub stopped")

const writeWait = 2 * time.Second

// HubService fans dashboard messages out to every connected viewer.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger

	// Lifecycle events bypass the bounded queue and are written before any
	// queued frame.
	pendingMu sync.Mutex
	pending   [][]byte
	notify    chan struct{}

	dropped atomic.Uint64
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		notify:     make(chan struct{}, 1),
		logger:     logger,
	}
}

// Run serves the hub until ctx ends, then closes every client.
func (h *HubService) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case <-h.notify:
			h.flush()

		case message := <-h.broadcast:
			h.flush()
			h.write(message)
		}
	}
}

// flush writes every pending lifecycle event in publish order.
func (h *HubService) flush() {
	h.pendingMu.Lock()
	events := h.pending
	h.pending = nil
	h.pendingMu.Unlock()

	for _, message := range events {
		h.write(message)
	}
}

func (h *HubService) write(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warning("Error sending message to viewer: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *HubService) Register(client *websocket.Conn) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues a message for all viewers. It never blocks; when viewers
// fall behind the message is dropped.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			h.logger.Warning("Viewer queue full, %d message(s) dropped so far", n)
		}
	}
}

// Publish queues a lifecycle event that must reach viewers. Unlike Broadcast
// it is never dropped while the hub runs, and it never blocks. Events
// published after the hub stopped are discarded.
func (h *HubService) Publish(message []byte) {
	select {
	case <-h.done:
		return
	default:
	}

	h.pendingMu.Lock()
	h.pending = append(h.pending, message)
	h.pendingMu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Pending is the number of lifecycle events waiting to be written.
func (h *HubService) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Dropped is the number of messages discarded because the queue was full.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}
