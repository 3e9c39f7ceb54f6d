package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/metrics"
)

const (
	TypeAlertCreated = "alert.created"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	idleTimeout    = 2 * pongWait
	cleanupPeriod  = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// SessionVerifier resolves a session id to its user.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (*entities.User, error)
}

// SettingsReader loads the notification preferences of a user.
type SettingsReader interface {
	GetUserSettings(ctx context.Context, userID string) (*entities.UserSettings, error)
}

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	sessions   SessionVerifier
	settings   SettingsReader
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	userID     string
	lastActive atomic.Int64
}

type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func NewHub(sessions SessionVerifier, settings SettingsReader, allowedOrigins []string, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sessions:   sessions,
		settings:   settings,
		logger:     logger,
		metrics:    m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// same-origin requests carry no Origin header
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			h.mu.Unlock()
			h.incConnections(ctx)
			h.logger.Debugw("Client registered", "user_id", client.userID)

		case client := <-h.unregister:
			if h.remove(client) {
				h.decConnections(ctx)
				h.logger.Debugw("Client unregistered", "user_id", client.userID)
			}

		case <-ticker.C:
			h.cleanupInactiveClients(ctx)
		}
	}
}

// remove drops the client and closes its send channel. It reports false when
// the client was already gone.
func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) bool {
	set, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for client := range set {
			h.removeLocked(client)
		}
	}
}

func (h *Hub) cleanupInactiveClients(ctx context.Context) {
	cutoff := time.Now().Add(-idleTimeout).UnixNano()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for client := range set {
			if client.lastActive.Load() < cutoff {
				h.removeLocked(client)
				h.decConnections(ctx)
				h.logger.Debugw("Cleaned up inactive client", "user_id", client.userID)
			}
		}
	}
}

// ClientCount returns the number of live connections of a user.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendToUser queues a message on every connection of the user. Slow clients
// whose buffer is full are dropped.
func (h *Hub) SendToUser(ctx context.Context, userID, msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	message, err := json.Marshal(Message{
		Type:      msgType,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- message:
		default:
			h.removeLocked(client)
			h.decConnections(ctx)
			h.logger.Warnw("Dropped slow client", "user_id", userID)
		}
	}
	return nil
}

// AlertCreated pushes a new alert to the farm owner when push notifications
// are enabled in their settings.
func (h *Hub) AlertCreated(ctx context.Context, farm *entities.Farm, alert *entities.StressAlert) {
	if h.ClientCount(farm.UserID) == 0 {
		return
	}

	settings, err := h.settings.GetUserSettings(ctx, farm.UserID)
	if err != nil {
		h.logger.Warnw("Failed to load settings for alert push", "user_id", farm.UserID, "error", err)
		return
	}
	if !settings.Notifications.Push {
		return
	}

	if err := h.SendToUser(ctx, farm.UserID, TypeAlertCreated, alert); err != nil {
		h.logger.Errorw("Failed to push alert", "alert_id", alert.ID, "error", err)
	}
}

// HandleWebSocket authenticates the session before upgrading the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := auth.SessionIDFromHandshake(r)
	if sessionID == "" {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	user, err := h.sessions.VerifySession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: user.ID,
	}
	client.touch()

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) incConnections(ctx context.Context) {
	if h.metrics != nil {
		h.metrics.IncrementConnections(ctx)
	}
}

func (h *Hub) decConnections(ctx context.Context) {
	if h.metrics != nil {
		h.metrics.DecrementConnections(ctx)
	}
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// inbound frames only keep the connection alive
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			return
		}
		c.touch()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
