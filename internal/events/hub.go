package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub broadcasts events as JSON text frames to every connected websocket
// client.
type Hub struct {
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener

	connMu      sync.Mutex
	connections map[*websocket.Conn]struct{}
}

// NewHub creates a hub that is not yet listening. Use it as an http.Handler
// or call Listen.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Listen serves the hub on addr (":0" picks a free port).
func (h *Hub) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/events", h)
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("event hub stopped")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("streaming events on /events")
	return nil
}

// Addr returns the listening address, or "" before Listen.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	h.connMu.Lock()
	h.connections[conn] = struct{}{}
	h.connMu.Unlock()

	// Reads only detect the client going away.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.connMu.Lock()
	delete(h.connections, conn)
	h.connMu.Unlock()
	conn.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return len(h.connections)
}

func (h *Hub) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	h.connMu.Lock()
	defer h.connMu.Unlock()

	for conn := range h.connections {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("dropping event hub client")
			delete(h.connections, conn)
			conn.Close()
		}
	}
	return nil
}

// Close disconnects every client and stops the listener.
func (h *Hub) Close() error {
	h.connMu.Lock()
	for conn := range h.connections {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	h.connections = make(map[*websocket.Conn]struct{})
	h.connMu.Unlock()

	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}
