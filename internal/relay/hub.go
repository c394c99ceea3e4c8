// Package relay fans measurement progress out to websocket subscribers.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/gorilla/websocket"
)

const (
	PathProgress = "/ws/progress"

	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second

	broadcastBuffer = 128
	clientBuffer    = 32
)

// Message is the envelope written to subscribers.
type Message struct {
	Type     string                    `json:"type"`
	Progress *engine.Progress          `json:"progress,omitempty"`
	Report   *engine.MeasurementReport `json:"report,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

type client struct {
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub broadcasts messages to every connected subscriber. Slow subscribers
// miss messages instead of holding up the publisher.
type Hub struct {
	mu             sync.Mutex
	clients        map[*client]struct{}
	broadcast      chan Message
	allowedOrigins []string
	logger         util.Logger
	done           <-chan struct{}
}

func NewHub(ctx context.Context, allowedOrigins []string, logger util.Logger) *Hub {
	h := &Hub{
		clients:        make(map[*client]struct{}),
		broadcast:      make(chan Message, broadcastBuffer),
		allowedOrigins: allowedOrigins,
		logger:         logger,
		done:           ctx.Done(),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("relay marshal failed", "type", msg.Type, "error", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues msg for broadcast and never blocks.
func (h *Hub) Publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("relay message dropped", "type", msg.Type)
	}
}

// PublishProgress matches engine.ProgressFunc.
func (h *Hub) PublishProgress(p engine.Progress) {
	h.Publish(Message{Type: "progress", Progress: &p})
}

func (h *Hub) PublishReport(report engine.MeasurementReport) {
	h.Publish(Message{Type: "report", Report: &report})
}

func (h *Hub) PublishError(err error) {
	h.Publish(Message{Type: "error", Error: err.Error()})
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// ServeHTTP upgrades the request and streams messages until either side
// goes away. Subscribers are read-only; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: h.originAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{send: make(chan []byte, clientBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	var cleanupOnce sync.Once
	done := make(chan struct{})
	cleanup := func() {
		cleanupOnce.Do(func() {
			close(done)
			_ = conn.Close()
			h.unregister(c)
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		defer cleanup()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

// ListenAndServe serves the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET "+PathProgress, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
