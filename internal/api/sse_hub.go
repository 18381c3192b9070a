package api

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"neurodiff/domain/run"

	"github.com/gin-gonic/gin"
)

// SSEClient is one connected event stream for a run
type SSEClient struct {
	RunID   string
	Channel chan run.StageEvent
}

// SSEHub fans run progress events out to Server-Sent Events clients
type SSEHub struct {
	clients    map[string]map[chan run.StageEvent]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan run.StageEvent
	done       chan struct{}
	closeOnce  sync.Once

	keepAlive time.Duration
}

// NewSSEHub creates a hub and starts its dispatch loop
func NewSSEHub() *SSEHub {
	hub := &SSEHub{
		clients:    make(map[string]map[chan run.StageEvent]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan run.StageEvent, 100),
		done:       make(chan struct{}),
		keepAlive:  30 * time.Second,
	}

	go hub.run()
	return hub
}

// Close stops the dispatch loop
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.RunID] == nil {
				h.clients[client.RunID] = make(map[chan run.StageEvent]bool)
			}
			h.clients[client.RunID][client.Channel] = true
			log.Printf("[SSE] Client registered for run %s (total clients: %d)",
				client.RunID, len(h.clients[client.RunID]))
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.RunID]; exists {
				delete(clients, client.Channel)
				if len(clients) == 0 {
					delete(h.clients, client.RunID)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for _, key := range []string{string(event.RunID), ""} {
				for clientChan := range h.clients[key] {
					select {
					case clientChan <- event:
					default:
						log.Printf("[SSE] Client channel full for run %s, skipping event", event.RunID)
					}
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Publish implements ports.ProgressSink. It never blocks; events are
// dropped when the hub is saturated.
func (h *SSEHub) Publish(event run.StageEvent) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[SSE] Broadcast channel full, dropping event: %s", event.Kind)
	}
}

// HandleSSE streams events for the run named by the :id parameter, or for
// every run when the parameter is absent.
func (h *SSEHub) HandleSSE(c *gin.Context) {
	runID := c.Param("id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan run.StageEvent, 16)
	client := SSEClient{RunID: runID, Channel: clientChan}
	select {
	case h.register <- client:
	default:
		c.JSON(503, gin.H{"error": "event hub busy"})
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		default:
		}
	}()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-clientChan:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("[SSE] Failed to marshal event: %v", err)
				return true
			}
			c.SSEvent(string(event.Kind), string(payload))
			return event.Kind != run.EventRunFinished || runID == ""

		case <-time.After(h.keepAlive):
			c.SSEvent("ping", `{"status":"alive"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// ClientCount returns the number of clients following a run
func (h *SSEHub) ClientCount(runID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[runID])
}
