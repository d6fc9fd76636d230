package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/stressor/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		// Localhost is common during development.
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// WebSocketServer streams execution status to connected clients.
type WebSocketServer struct {
	engine Engine
	logger *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	done chan struct{}
	once sync.Once
}

// NewWebSocketServer creates the status streaming server.
func NewWebSocketServer(engine Engine, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		engine:  engine,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("websocket client connected", slog.Int("totalClients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			ws.clientsMu.Unlock()
			conn.Close()
			ws.logger.Debug("websocket client disconnected")
		}()

		// Read loop keeps the connection alive and detects closure.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("websocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the status broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop closes all client connections. Safe to call repeatedly.
func (ws *WebSocketServer) Stop() {
	ws.once.Do(func() { close(ws.done) })

	ws.clientsMu.Lock()
	for conn := range ws.clients {
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]bool)
	ws.clientsMu.Unlock()
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			status := ws.engine.Status()
			if status == types.StatusIdle {
				continue
			}
			ws.broadcastStatus()
		}
	}
}

func (ws *WebSocketServer) broadcastStatus() {
	ws.clientsMu.RLock()
	hasClients := len(ws.clients) > 0
	ws.clientsMu.RUnlock()
	if !hasClients {
		return
	}

	resp := types.StatusResponse{
		Status:    ws.engine.Status(),
		Execution: ws.engine.Execution(),
		Stats:     ws.engine.Stats(),
		Latency:   ws.engine.Latency(),
		InFlight:  ws.engine.InFlight(),
	}

	data, err := json.Marshal(resp)
	if err != nil {
		ws.logger.Error("failed to marshal status", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Cleaned up by the read loop.
			ws.logger.Debug("failed to write to websocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
