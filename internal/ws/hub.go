package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// ErrHubStopped is returned by SendEvent after Run has returned.
var ErrHubStopped = errors.New("ws: hub stopped")

// Client is one server-side push connection.
type Client struct {
	UserID string
	Send   chan []byte
	Conn   *websocket.Conn
	// Logger is used by the pumps. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// NewClient wraps an upgraded connection for userID.
func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Send:   make(chan []byte, 256),
		Conn:   conn,
	}
}

// BroadcastMessage delivers Data to every connection of each listed user.
type BroadcastMessage struct {
	UserIDs []string
	Data    []byte
}

// Hub is the server side of the push channel: it fans frames out to the
// connections of each user. All map mutation happens on the Run goroutine.
type Hub struct {
	Clients    map[string]map[*Client]bool // userID -> clients
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan BroadcastMessage
	mu         sync.RWMutex
	done       chan struct{} // closed when Run returns
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan BroadcastMessage, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.Clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.Clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.Register:
			h.mu.Lock()
			if h.Clients[client.UserID] == nil {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			h.mu.Unlock()
			h.logger.Debug("push client registered", "user_id", client.UserID)
		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for _, userID := range msg.UserIDs {
				for client := range h.Clients[userID] {
					select {
					case client.Send <- msg.Data:
					default:
						h.logger.Warn("dropping slow push client", "user_id", userID)
						h.removeLocked(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.Clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.Clients, client.UserID)
	}
}

// Join registers a client. It reports false once the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters a client. Safe to call after the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Online reports whether userID has at least one registered connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[userID]) > 0
}

// SendEvent encodes an event frame and queues it for the given users.
func (h *Hub) SendEvent(ctx context.Context, event string, payload any, userIDs ...string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: encode frame: %w", err)
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.Broadcast <- BroadcastMessage{UserIDs: userIDs, Data: frame}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WritePump copies queued frames to the connection and keeps it alive with
// pings. It returns when Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes inbound frames and hands them to handle until the
// connection fails. The caller unregisters the client afterwards.
func (c *Client) ReadPump(handle func(models.Frame)) error {
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger().Debug("push client sent malformed frame", "user_id", c.UserID, "error", err)
			continue
		}
		handle(frame)
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
