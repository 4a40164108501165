// Package ws is the client side of the push channel: one websocket per
// authenticated session, carrying JSON frames {"event": ..., "data": ...}.
//
// A Manager owns the connection lifecycle. Connect is idempotent for the
// same credential and replaces the connection when the credential changes.
// Dropped connections are redialed with exponential backoff until
// Disconnect is called or the context passed to Connect ends. Event
// handlers run on the connection's read goroutine in arrival order.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB payload cap
	sendBufferSize = 64
)

var (
	// ErrNotConnected is returned by Emit while no connection is up.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrSendBufferFull is returned by Emit when the outbound queue is full.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

// Config holds configuration for creating a Manager.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string
	// Dialer is used to open connections. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
	// MinBackoff and MaxBackoff bound the reconnect delay. Defaults 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// StableAfter resets the backoff when a connection stayed up this long.
	// Default one minute.
	StableAfter time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Manager maintains the push connection for one session.
type Manager struct {
	url         string
	dialer      *websocket.Dialer
	minBackoff  time.Duration
	maxBackoff  time.Duration
	stableAfter time.Duration
	logger      *slog.Logger

	// lifecycle serializes Connect and Disconnect so that at most one run
	// loop exists at a time.
	lifecycle sync.Mutex
	token     string
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	handlers  map[string]map[uint64]Handler
	nextID    uint64
	out       chan []byte   // outbound queue of the live connection, nil when down
	connected chan struct{} // closed while a connection is up
}

// NewManager creates a Manager. It does not connect.
func NewManager(config Config) (*Manager, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("ws: URL is required")
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	minBackoff := config.MinBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = max(30*time.Second, minBackoff)
	}
	stableAfter := config.StableAfter
	if stableAfter <= 0 {
		stableAfter = time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		url:         config.URL,
		dialer:      dialer,
		minBackoff:  minBackoff,
		maxBackoff:  maxBackoff,
		stableAfter: stableAfter,
		logger:      logger,
		handlers:    make(map[string]map[uint64]Handler),
		connected:   make(chan struct{}),
	}, nil
}

// Connect starts maintaining a connection authenticated by token. Calling
// it again with the same token while running is a no-op; a different token
// tears the current connection down and starts over. Dialing happens in the
// background; use WaitConnected to block until the socket is up.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("ws: token is required")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.cancel != nil && m.token == token {
		select {
		case <-m.done:
		default:
			return nil
		}
	}
	m.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.token = token
	m.cancel = cancel
	m.done = done
	go func() {
		defer close(done)
		m.run(runCtx, token)
	}()
	return nil
}

// Disconnect tears the connection down and stops reconnecting.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopLocked()
	m.token = ""
}

// On registers a handler for an event name and returns a function that
// removes it.
func (m *Manager) On(event string, handler Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]Handler)
	}
	m.handlers[event][id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

// Emit queues an event for the live connection. It never blocks.
func (m *Manager) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: encode frame: %w", err)
	}

	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	select {
	case out <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// EmitTyping sends typing or stop_typing for a conversation.
func (m *Manager) EmitTyping(conversationID, recipientID string, typing bool) error {
	event := models.EventStopTyping
	if typing {
		event = models.EventTyping
	}
	return m.Emit(event, models.TypingSignal{ConversationID: conversationID, RecipientID: recipientID})
}

// Connected reports whether a connection is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out != nil
}

// WaitConnected blocks until a connection is up or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	ch := m.connected
	m.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *Manager) run(ctx context.Context, token string) {
	backoff := m.minBackoff
	for {
		started := time.Now()
		err := m.serve(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > m.stableAfter {
			backoff = m.minBackoff
		}
		m.logger.Warn("push channel disconnected, reconnecting",
			"url", m.url,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, m.maxBackoff)
	}
}

// serve runs one connection until it fails or ctx ends.
func (m *Manager) serve(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, response, err := m.dialer.DialContext(ctx, m.url, header)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		if response != nil {
			return fmt.Errorf("ws: dial %s: %s: %w", m.url, response.Status, err)
		}
		return fmt.Errorf("ws: dial %s: %w", m.url, err)
	}

	out := make(chan []byte, sendBufferSize)
	m.setLive(out)
	defer m.setLive(nil)
	m.logger.Info("push channel connected", "url", m.url)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.readPump(conn) })
	group.Go(func() error { return m.writePump(groupCtx, conn, out) })
	group.Go(func() error {
		<-groupCtx.Done()
		return conn.Close()
	})
	return group.Wait()
}

func (m *Manager) setLive(out chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if out != nil {
		m.out = out
		close(m.connected)
		return
	}
	if m.out != nil {
		m.out = nil
		m.connected = make(chan struct{})
	}
}

func (m *Manager) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Debug("push channel dropped malformed frame", "error", err)
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
				time.Now().Add(writeWait))
			return nil
		case payload := <-out:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("ws: write: %w", err)
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ws: ping: %w", err)
			}
		}
	}
}

func (m *Manager) dispatch(frame models.Frame) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers[frame.Event]))
	for _, h := range m.handlers[frame.Event] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	if len(handlers) == 0 {
		m.logger.Debug("push channel event without handler", "event", frame.Event)
		return
	}
	for _, h := range handlers {
		h(frame.Data)
	}
}
