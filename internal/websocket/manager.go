// Package websocket pushes view re-renders to connected browsers.
//
// The Hub owns every connection. A single hub goroutine registers and
// unregisters clients and fans broadcasts out to per-client send buffers;
// each client has a writer goroutine and a background reader that only
// handles control frames. Slow clients whose buffer fills are dropped rather
// than stalling producers.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/view"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub handles all WebSocket connection management and broadcasting.
type Hub struct {
	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	originValidator OriginValidator
	ips             *ipTracker
	proxies         TrustedProxies
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
	isShutdown   atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithMaxConnectionsPerIP caps concurrent connections from one address.
// Zero disables the cap.
func WithMaxConnectionsPerIP(n int) Option {
	return func(h *Hub) { h.ips = newIPTracker(n) }
}

// WithTrustedProxies makes the per-IP cap use forwarding headers from these
// peers. Without it the connection's remote address is used.
func WithTrustedProxies(proxies TrustedProxies) Option {
	return func(h *Hub) { h.proxies = proxies }
}

// NewHub creates a hub and starts its goroutine.
func NewHub(originValidator OriginValidator, logger logging.Logger, opts ...Option) *Hub {
	if originValidator == nil {
		originValidator = AllowedOrigins(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		clients:         make(map[*Client]struct{}),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *Client, 32),
		originValidator: originValidator,
		ips:             newIPTracker(20),
		logger:          logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(hub)
	}

	go hub.runHub()

	return hub
}

// HandleWebSocket upgrades the request and registers the client.
//
// Responses before the upgrade:
//   - 503 when the hub is shut down
//   - 403 when the origin is not allowed
//   - 429 when the client IP has too many connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !h.originValidator.IsAllowedOrigin(origin, r) {
		h.logger.Warn(r.Context(), nil, "websocket connection rejected: origin not allowed",
			"origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ip := clientIP(r, h.proxies)
	if !h.ips.acquire(ip) {
		h.logger.Warn(r.Context(), nil, "websocket connection rejected: too many connections", "ip", ip)
		http.Error(w, "Too Many Connections", http.StatusTooManyRequests)
		return
	}

	// Origins were validated above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.ips.release(ip)
		h.logger.Warn(r.Context(), errors.WebSocketError("accept", ip, "upgrade failed", err), "websocket upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		ip:   ip,
	}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.ips.release(ip)
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	go h.writeToClient(client)
	go h.readFromClient(client)

	h.logger.Debug(r.Context(), "websocket client connected", "ip", ip)
}

// runHub serialises all client set changes and fan-out.
func (h *Hub) runHub() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "client registered", "clients", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)

		case <-h.ctx.Done():
			h.clientsMutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientsMutex.Unlock()
			return
		}
	}
}

// removeClient must only run on the hub goroutine.
func (h *Hub) removeClient(client *Client) {
	h.clientsMutex.Lock()
	_, exists := h.clients[client]
	if exists {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		h.logger.Debug(h.ctx, "client unregistered", "clients", total)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.Warn(h.ctx, nil, "dropping slow websocket client", "ip", client.ip)
			h.removeClient(client)
		}
	}
}

// readFromClient discards data frames and unregisters the client once the
// connection closes.
func (h *Hub) readFromClient(client *Client) {
	ctx := client.conn.CloseRead(h.ctx)
	<-ctx.Done()

	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
		h.ips.release(client.ip)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				h.logger.Debug(h.ctx, "websocket write failed", "ip", client.ip, "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()

			if err != nil {
				h.logger.Debug(h.ctx, "websocket ping failed", "ip", client.ip, "error", err)
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// BroadcastMessage sends a message to all connected clients. It never
// blocks; messages are dropped when the hub is saturated or shut down.
func (h *Hub) BroadcastMessage(message UpdateMessage) {
	if h.isShutdown.Load() {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error(h.ctx, err, "failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.dropped.Add(1)
		h.logger.Warn(h.ctx, nil, "broadcast channel full, dropping message", "target", message.Target)
	}
}

// Publish implements view.Sink.
func (h *Hub) Publish(_ context.Context, u view.Update) {
	msg := UpdateMessage{
		Type:      MessageRender,
		Target:    u.View,
		Content:   u.HTML,
		State:     u.State.String(),
		Sequence:  u.Seq,
		Timestamp: u.Timestamp,
	}
	if u.Err != nil {
		msg.Type = MessageError
		msg.Error = u.Err.Error()
	}
	h.BroadcastMessage(msg)
}

// ConnectedClients returns the number of connected clients
func (h *Hub) ConnectedClients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Stats returns delivered and dropped message counts.
func (h *Hub) Stats() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}

// Shutdown closes every client and stops the hub goroutine. It waits for the
// hub to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()
	})

	select {
	case <-h.done:
		h.logger.Debug(ctx, "websocket hub shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns whether the hub has been shut down
func (h *Hub) IsShutdown() bool {
	return h.isShutdown.Load()
}
