package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"dynaudio-go-home/internal/amp"
)

// WSHub manages WebSocket connections and fans controller events out to
// them.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan amp.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// devices limits delivery to these ids; nil receives everything.
	devices map[string]bool
}

func (c *wsClient) wants(device string) bool {
	return c.devices == nil || c.devices[device]
}

// parseDeviceFilter reads a comma separated ?device= list.
func parseDeviceFilter(q string) map[string]bool {
	if q == "" {
		return nil
	}
	m := make(map[string]bool)
	for _, id := range strings.Split(q, ",") {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = true
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan amp.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws marshal", "type", event.Type, "err", err)
				continue
			}
			device := event.Device()
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(device) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for delivery without blocking the emitter.
func (h *WSHub) Broadcast(event amp.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

// snapshotMessage is sent once to a new client before any event.
type snapshotMessage struct {
	Type string       `json:"type"`
	Data []DeviceView `json:"data"`
}

func (s *Server) snapshot(filter map[string]bool) []byte {
	views := []DeviceView{}
	for _, c := range s.devices.List() {
		if filter == nil || filter[c.ID()] {
			views = append(views, newDeviceView(c))
		}
	}
	data, _ := json.Marshal(snapshotMessage{Type: "snapshot", Data: views})
	return data
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 64),
		devices: parseDeviceFilter(r.URL.Query().Get("device")),
	}
	client.send <- s.snapshot(client.devices)

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Clients only listen; anything they send is discarded.
	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
