// Package chat ties the directory, timeline, typing coordinator, REST
// transport and push channel into one client session.
//
// A Session is the only writer of its conversation directory and open
// timeline. REST fetches run without the session lock; their results are
// applied under it, after checking that the conversation they were issued
// for is still the open one. Push events are applied as they arrive and are
// deduplicated by message id, so pull and push may interleave in any order.
//
// The surrounding UI calls the lifecycle hooks explicitly:
//
//	s.OpenConversation(ctx, id)   // history fetch, unread clear, read receipt
//	s.InputChanged()              // typing signal
//	s.SendText(ctx, text)         // send pipeline
//	s.CloseConversation()         // timeline reset
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Vasu1712/scenyx-messaging/internal/api"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/storage/memory"
	"github.com/Vasu1712/scenyx-messaging/internal/typing"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

var (
	ErrEmptyMessage        = errors.New("chat: message is empty")
	ErrNoImage             = errors.New("chat: no image to send")
	ErrNoOpenConversation  = errors.New("chat: no conversation is open")
	ErrUnknownConversation = errors.New("chat: conversation is not in the directory")
	// ErrStaleResponse is returned by OpenConversation when another
	// conversation was opened, or the conversation closed, before its
	// history arrived. Nothing was applied.
	ErrStaleResponse = errors.New("chat: response arrived for a conversation that is no longer open")
	ErrClosed        = errors.New("chat: session closed")
)

// Transport is the request/response collaborator. *api.Client implements it.
type Transport interface {
	Conversations(ctx context.Context, page, limit int) (*models.ConversationPage, error)
	CreateOrGetConversation(ctx context.Context, userID string) (*models.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error)
	SendText(ctx context.Context, request api.SendTextRequest) (*models.Message, error)
	SendImage(ctx context.Context, request api.SendImageRequest) (*models.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context) (int, error)
}

// PushChannel is the persistent event connection. *ws.Manager implements it.
type PushChannel interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	On(event string, handler ws.Handler) func()
	EmitTyping(conversationID, recipientID string, typing bool) error
}

var (
	_ Transport   = (*api.Client)(nil)
	_ PushChannel = (*ws.Manager)(nil)
)

// Change tells observers which part of the session state moved.
type Change int

const (
	ChangeDirectory Change = iota
	ChangeTimeline
	ChangeTyping
	ChangeSending
)

func (c Change) String() string {
	switch c {
	case ChangeDirectory:
		return "directory"
	case ChangeTimeline:
		return "timeline"
	case ChangeTyping:
		return "typing"
	case ChangeSending:
		return "sending"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Config configures a Session.
type Config struct {
	// SelfID is the id of the signed-in user. Required.
	SelfID string
	// Tokens, when set, is updated by SetCredential so the REST transport
	// sharing it follows credential changes.
	Tokens *api.TokenStore
	// OptimisticSends renders outbound messages before the server confirms
	// them. Off by default: sends appear once confirmed.
	OptimisticSends bool
	// TypingWindow and PeerTypingTimeout configure the typing coordinator.
	TypingWindow      time.Duration
	PeerTypingTimeout time.Duration
	// PageSize and HistorySize are the conversation and message page
	// limits. Zero uses the transport defaults.
	PageSize    int
	HistorySize int
	// RequestTimeout bounds every transport call. Zero means no timeout
	// beyond the caller's context.
	RequestTimeout time.Duration
	// Clock drives typing timers and local timestamps. Nil means the real clock.
	Clock  clock.WithDelayedExecution
	Logger *slog.Logger
}

// Session is one signed-in user's messaging state.
type Session struct {
	selfID         string
	tokens         *api.TokenStore
	optimistic     bool
	pageSize       int
	historySize    int
	requestTimeout time.Duration
	clock          clock.WithDelayedExecution
	logger         *slog.Logger
	transport      Transport
	push           PushChannel
	directory      *memory.DirectoryStore
	timeline       *memory.TimelineStore
	typing         *typing.Coordinator

	// background outlives individual calls; read receipts and the push
	// connection run under it until Close.
	background     context.Context
	stopBackground context.CancelFunc
	receipts       sync.WaitGroup

	observersMu    sync.RWMutex
	observers      map[uint64]func(Change)
	nextObserverID uint64

	mu            sync.Mutex
	openID        string
	openGen       uint64
	cancelFetch   context.CancelFunc
	readRequested map[string]struct{}
	sending       int
	subscriptions []func()
	closed        bool
}

// NewSession creates a session. Nothing is fetched or connected until Start.
func NewSession(config Config, transport Transport, push PushChannel) (*Session, error) {
	if config.SelfID == "" {
		return nil, fmt.Errorf("chat: SelfID is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if push == nil {
		return nil, fmt.Errorf("chat: push channel is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", config.SelfID)

	background, stop := context.WithCancel(context.Background())
	s := &Session{
		selfID:         config.SelfID,
		tokens:         config.Tokens,
		optimistic:     config.OptimisticSends,
		pageSize:       config.PageSize,
		historySize:    config.HistorySize,
		requestTimeout: config.RequestTimeout,
		clock:          clk,
		logger:         logger,
		transport:      transport,
		push:           push,
		directory:      memory.NewDirectoryStore(config.SelfID),
		timeline:       memory.NewTimelineStore(),
		background:     background,
		stopBackground: stop,
		observers:      make(map[uint64]func(Change)),
		readRequested:  make(map[string]struct{}),
	}
	s.typing = typing.NewCoordinator(push, typing.Config{
		Window:      config.TypingWindow,
		PeerTimeout: config.PeerTypingTimeout,
		Clock:       clk,
		Logger:      logger,
		OnPeerChange: func(string, bool) {
			s.notify(ChangeTyping)
		},
	})
	return s, nil
}

// SelfID returns the signed-in user's id.
func (s *Session) SelfID() string {
	return s.selfID
}

// Start subscribes to push events, connects the push channel with token and
// loads the conversation directory.
func (s *Session) Start(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.subscriptions == nil {
		s.subscriptions = []func(){
			s.push.On(models.EventNewMessage, s.handleNewMessage),
			s.push.On(models.EventUserTyping, s.handleUserTyping),
			s.push.On(models.EventUserStopTyping, s.handleUserStopTyping),
		}
	}
	s.mu.Unlock()

	if err := s.SetCredential(token); err != nil {
		return err
	}
	return s.LoadConversations(ctx)
}

// SetCredential switches the session credential. The push channel redials
// only when the token actually changed.
func (s *Session) SetCredential(token string) error {
	if s.tokens != nil {
		s.tokens.Set(token)
	}
	if err := s.push.Connect(s.background, token); err != nil {
		return fmt.Errorf("chat: connect push channel: %w", err)
	}
	return nil
}

// Close tears the session down: push handlers are removed, the connection
// is closed, in-flight work is cancelled and all state is forgotten.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.openGen++
	s.openID = ""
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	subscriptions := s.subscriptions
	s.subscriptions = nil
	s.mu.Unlock()

	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
	s.push.Disconnect()
	s.stopBackground()
	s.receipts.Wait()

	s.typing.Reset()
	s.directory.Reset()
	s.timeline.Reset()
	s.logger.Info("chat session closed")
	return nil
}

// OnChange registers an observer called after every state change. Observers
// run without session locks held and may call any accessor. The returned
// function removes the observer.
func (s *Session) OnChange(fn func(Change)) func() {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.nextObserverID++
	id := s.nextObserverID
	s.observers[id] = fn
	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Session) notify(change Change) {
	s.observersMu.RLock()
	observers := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// Conversations returns the directory in display order.
func (s *Session) Conversations() []models.Conversation {
	return s.directory.List()
}

// Conversation returns one directory entry.
func (s *Session) Conversation(conversationID string) (models.Conversation, bool) {
	return s.directory.Get(conversationID)
}

// UnreadTotal returns the global unread badge count.
func (s *Session) UnreadTotal() int {
	return s.directory.UnreadTotal()
}

// OpenConversationID returns the open conversation, or "" when none is open.
func (s *Session) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// Messages returns the open conversation's timeline.
func (s *Session) Messages() []models.Message {
	return s.timeline.Messages()
}

// PeerTyping reports whether the partner in the open conversation is typing.
func (s *Session) PeerTyping() bool {
	id := s.OpenConversationID()
	if id == "" {
		return false
	}
	return s.typing.PeerTyping(id)
}

// PeerTypingIn reports the partner typing flag of any conversation.
func (s *Session) PeerTypingIn(conversationID string) bool {
	return s.typing.PeerTyping(conversationID)
}

// Sending reports whether a send request is in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending > 0
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout > 0 {
		return context.WithTimeout(ctx, s.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// decode logs and drops malformed push payloads.
func (s *Session) decode(event string, data json.RawMessage, out any) bool {
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Debug("dropping malformed push event", "event", event, "error", err)
		return false
	}
	return true
}

func (s *Session) handleNewMessage(data json.RawMessage) {
	var msg models.Message
	if !s.decode(models.EventNewMessage, data, &msg) {
		return
	}
	s.applyMessage(msg)
}

func (s *Session) handleUserTyping(data json.RawMessage) {
	var signal models.TypingSignal
	if !s.decode(models.EventUserTyping, data, &signal) || signal.ConversationID == "" {
		return
	}
	s.typing.PeerStarted(signal.ConversationID)
}

func (s *Session) handleUserStopTyping(data json.RawMessage) {
	var signal models.TypingSignal
	if !s.decode(models.EventUserStopTyping, data, &signal) || signal.ConversationID == "" {
		return
	}
	s.typing.PeerStopped(signal.ConversationID)
}

// applyMessage merges a server copy of a message, pushed or confirmed, into
// the timeline (when its conversation is open) and the directory.
func (s *Session) applyMessage(msg models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	timelineChanged := false
	if msg.ConversationID != "" && msg.ConversationID == s.openID {
		timelineChanged = s.timeline.Reconcile(msg)
	}
	known := s.directory.Bump(msg, s.openID)
	s.mu.Unlock()

	if !known {
		s.logger.Debug("message for conversation outside the directory",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
		)
	}
	if known {
		s.notify(ChangeDirectory)
	}
	if timelineChanged {
		s.notify(ChangeTimeline)
		s.checkRead()
	}
}
