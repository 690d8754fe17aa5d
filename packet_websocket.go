package main

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsClient is one connected browser or tool
type wsClient struct {
	id      string
	binary  bool
	writeMu sync.Mutex // Each connection has its own write mutex
}

// wsPacketMessage is the JSON frame sent for every packet
type wsPacketMessage struct {
	Type string `json:"type"`
	PacketEvent
}

// PacketWebSocketHandler streams decoded packets to WebSocket clients.
// Clients asking for ?format=binary get the 19-byte record per packet.
type PacketWebSocketHandler struct {
	mu         sync.Mutex // guards clients and replay together
	clients    map[*websocket.Conn]*wsClient
	replay     []PacketEvent
	replaySize int

	limiter  *IPRateLimiter
	metrics  *PrometheusMetrics
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewPacketWebSocketHandler creates the /ws handler
func NewPacketWebSocketHandler(cfg WebSocketConfig, metrics *PrometheusMetrics, logger *log.Logger) *PacketWebSocketHandler {
	return &PacketWebSocketHandler{
		clients:    make(map[*websocket.Conn]*wsClient),
		replay:     make([]PacketEvent, 0, cfg.ReplaySize),
		replaySize: cfg.ReplaySize,
		limiter:    NewIPRateLimiter(cfg.ConnectionsPerMinute),
		metrics:    metrics,
		logger:     logger.WithPrefix("WebSocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: cfg.Compression,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the connection and replays the most recent packets
func (h *PacketWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(sourceIP); err == nil {
		sourceIP = host
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "binary" {
		http.Error(w, "format must be json or binary", http.StatusBadRequest)
		return
	}

	if !h.limiter.Allow(sourceIP) {
		h.logger.Warn("connection rate limit exceeded", "ip", sourceIP)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "err", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), binary: format == "binary"}

	// Register and snapshot the replay under one lock so a concurrent
	// broadcast is either in the replay or sent after it, never both.
	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	backlog := append([]PacketEvent(nil), h.replay...)
	client.writeMu.Lock()
	h.mu.Unlock()

	h.logger.Info("client connected", "id", client.id, "ip", sourceIP, "binary", client.binary, "total", clientCount)
	h.metrics.RecordWSConnection()

	for _, ev := range backlog {
		if err := h.write(conn, client, ev); err != nil {
			break
		}
	}
	client.writeMu.Unlock()

	go h.handleClient(conn, client)
}

// Limiter returns the per-IP connection limiter
func (h *PacketWebSocketHandler) Limiter() *IPRateLimiter {
	return h.limiter
}

// handleClient reads until the client goes away, answering pings
func (h *PacketWebSocketHandler) handleClient(conn *websocket.Conn, client *wsClient) {
	defer h.remove(conn)

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				client.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
				client.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *PacketWebSocketHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	client, exists := h.clients[conn]
	delete(h.clients, conn)
	remaining := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	if exists {
		h.metrics.RecordWSDisconnect()
		h.logger.Info("client disconnected", "id", client.id, "remaining", remaining)
	}
}

func (h *PacketWebSocketHandler) write(conn *websocket.Conn, client *wsClient, ev PacketEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	var err error
	if client.binary {
		var rec [subcar.PacketSize]byte
		ev.Packet.PutBinary(rec[:])
		err = conn.WriteMessage(websocket.BinaryMessage, rec[:])
	} else {
		var data []byte
		data, err = json.Marshal(wsPacketMessage{Type: "packet", PacketEvent: ev})
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	if err == nil {
		h.metrics.RecordWSMessageSent()
	}
	return err
}

// HandlePacket broadcasts ev to every client and keeps it for replay
func (h *PacketWebSocketHandler) HandlePacket(ev PacketEvent) {
	h.mu.Lock()
	if h.replaySize > 0 {
		if len(h.replay) == h.replaySize {
			copy(h.replay, h.replay[1:])
			h.replay = h.replay[:len(h.replay)-1]
		}
		h.replay = append(h.replay, ev)
	}
	// Copy client list FIRST, then release lock before writing
	conns := make([]*websocket.Conn, 0, len(h.clients))
	clients := make([]*wsClient, 0, len(h.clients))
	for conn, c := range h.clients {
		conns = append(conns, conn)
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var failed []*websocket.Conn
	for i, conn := range conns {
		c := clients[i]
		c.writeMu.Lock()
		err := h.write(conn, c, ev)
		c.writeMu.Unlock()
		if err != nil {
			h.logger.Warn("failed to send packet", "id", c.id, "err", err)
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		h.remove(conn)
	}
}

// ClientCount returns the number of connected clients
func (h *PacketWebSocketHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *PacketWebSocketHandler) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.remove(conn)
	}
}
