package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Vasu1712/scenyx-messaging/internal/api"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

const self = "me"

var (
	base       = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errOffline = errors.New("dial tcp: network is unreachable")
)

func at(minutes int) *time.Time {
	t := base.Add(time.Duration(minutes) * time.Minute)
	return &t
}

func conversation(id, partner string, minutes int) models.Conversation {
	return models.Conversation{
		ID:            id,
		Participants:  []models.Participant{{ID: self}, {ID: partner}},
		LastMessageAt: at(minutes),
		UpdatedAt:     base,
	}
}

func message(conversationID, id, sender string, minutes int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         models.Sender{ID: sender},
		Kind:           models.KindText,
		Content:        "hello " + id,
		CreatedAt:      *at(minutes),
	}
}

// fakeTransport serves canned pages. Hooks, when set, replace the default
// behavior of a call.
type fakeTransport struct {
	mu            sync.Mutex
	conversations []models.Conversation
	unread        int
	history       map[string][]models.Message
	markedRead    []string
	sentText      []api.SendTextRequest
	sentImages    []api.SendImageRequest
	createOrGet   map[string]models.Conversation

	onMessages func(ctx context.Context, conversationID string) (*models.MessagePage, error)
	onSend     func(ctx context.Context, request api.SendTextRequest) (*models.Message, error)
	onMarkRead func(ctx context.Context, messageID string) error
	failLoad   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		history:     make(map[string][]models.Message),
		createOrGet: make(map[string]models.Conversation),
	}
}

func (f *fakeTransport) Conversations(ctx context.Context, page, limit int) (*models.ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad != nil {
		return nil, f.failLoad
	}
	return &models.ConversationPage{
		Conversations: append([]models.Conversation(nil), f.conversations...),
		UnreadCount:   f.unread,
	}, nil
}

func (f *fakeTransport) CreateOrGetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.createOrGet[userID]
	if !ok {
		return nil, &api.APIError{StatusCode: 404, Message: "user not found"}
	}
	return &conv, nil
}

func (f *fakeTransport) Messages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	f.mu.Lock()
	hook := f.onMessages
	msgs := append([]models.Message(nil), f.history[conversationID]...)
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, conversationID)
	}
	return &models.MessagePage{Messages: msgs}, nil
}

func (f *fakeTransport) SendText(ctx context.Context, request api.SendTextRequest) (*models.Message, error) {
	f.mu.Lock()
	f.sentText = append(f.sentText, request)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, request)
	}
	return &models.Message{
		ID:             "srv-" + request.ClientID,
		ConversationID: request.ConversationID,
		Sender:         models.Sender{ID: self},
		Kind:           models.KindText,
		Content:        request.Content,
		ClientID:       request.ClientID,
		CreatedAt:      *at(30),
	}, nil
}

func (f *fakeTransport) SendImage(ctx context.Context, request api.SendImageRequest) (*models.Message, error) {
	data, err := io.ReadAll(request.Image)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sentImages = append(f.sentImages, request)
	f.mu.Unlock()
	return &models.Message{
		ID:             "img-" + string(data),
		ConversationID: request.ConversationID,
		Sender:         models.Sender{ID: self},
		Kind:           models.KindImage,
		ImageURL:       "/media/" + string(data),
		ClientID:       request.ClientID,
		CreatedAt:      *at(31),
	}, nil
}

func (f *fakeTransport) MarkRead(ctx context.Context, messageID string) error {
	f.mu.Lock()
	f.markedRead = append(f.markedRead, messageID)
	hook := f.onMarkRead
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, messageID)
	}
	return nil
}

func (f *fakeTransport) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeTransport) readReceipts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markedRead...)
}

func (f *fakeTransport) textRequests() []api.SendTextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.SendTextRequest(nil), f.sentText...)
}

type emission struct {
	conversationID string
	recipientID    string
	typing         bool
}

// fakePush delivers events synchronously on the caller's goroutine.
type fakePush struct {
	mu           sync.Mutex
	handlers     map[string]map[int]ws.Handler
	nextID       int
	tokens       []string
	disconnected int
	emitted      []emission
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[string]map[int]ws.Handler)}
}

func (p *fakePush) Connect(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
	return nil
}

func (p *fakePush) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected++
}

func (p *fakePush) On(event string, handler ws.Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]ws.Handler)
	}
	p.handlers[event][id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[event], id)
	}
}

func (p *fakePush) EmitTyping(conversationID, recipientID string, typing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitted = append(p.emitted, emission{conversationID, recipientID, typing})
	return nil
}

func (p *fakePush) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	p.mu.Lock()
	handlers := make([]ws.Handler, 0, len(p.handlers[event]))
	for _, h := range p.handlers[event] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (p *fakePush) emissions() []emission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]emission(nil), p.emitted...)
}

func (p *fakePush) handlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hs := range p.handlers {
		n += len(hs)
	}
	return n
}

type harness struct {
	session   *Session
	transport *fakeTransport
	push      *fakePush
	clock     *testingclock.FakeClock
}

func newHarness(t *testing.T, configure func(*Config, *fakeTransport)) *harness {
	t.Helper()
	transport := newFakeTransport()
	push := newFakePush()
	clk := testingclock.NewFakeClock(base)
	config := Config{SelfID: self, Clock: clk, TypingWindow: 2 * time.Second}
	if configure != nil {
		configure(&config, transport)
	}
	session, err := NewSession(config, transport, push)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, session.Start(context.Background(), "tok-1"))
	return &harness{session: session, transport: transport, push: push, clock: clk}
}

func conversationIDs(list []models.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func messageIDs(list []models.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}
