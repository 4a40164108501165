package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-messaging/internal/api"
	"github.com/Vasu1712/scenyx-messaging/internal/api/dms"
	"github.com/Vasu1712/scenyx-messaging/internal/middleware"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/storage/memory"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

var e2eSecret = []byte("e2e-secret")

type liveBackend struct {
	url string
	hub *ws.Hub
}

func newLiveBackend(t *testing.T, users ...string) *liveBackend {
	t.Helper()
	store := memory.NewDMStore()
	for _, u := range users {
		store.AddUser(models.Participant{ID: u, Username: u})
	}
	hub := ws.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := httptest.NewServer(dms.NewRouter(&dms.DMHandler{Store: store, Hub: hub}, dms.RouterConfig{Secret: e2eSecret}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &liveBackend{url: server.URL, hub: hub}
}

// session signs userID in against the backend and waits until its push
// connection is registered.
func (b *liveBackend) session(t *testing.T, userID string) *Session {
	t.Helper()
	token, err := middleware.IssueToken(e2eSecret, userID, time.Hour)
	require.NoError(t, err)

	tokens := api.NewTokenStore(token)
	client, err := api.NewClient(api.Config{BaseURL: b.url, Tokens: tokens})
	require.NoError(t, err)
	push, err := ws.NewManager(ws.Config{URL: "ws" + strings.TrimPrefix(b.url, "http") + "/ws", MinBackoff: 10 * time.Millisecond})
	require.NoError(t, err)

	s, err := NewSession(Config{
		SelfID:            userID,
		Tokens:            tokens,
		TypingWindow:      time.Second,
		PeerTypingTimeout: 5 * time.Second,
		RequestTimeout:    5 * time.Second,
	}, client, push)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, token))
	require.NoError(t, push.WaitConnected(ctx))
	require.Eventually(t, func() bool { return b.hub.Online(userID) }, 5*time.Second, time.Millisecond)
	return s
}

func TestSessionsAgainstLiveBackend(t *testing.T) {
	backend := newLiveBackend(t, "ana", "bo")
	ctx := context.Background()
	ana := backend.session(t, "ana")
	bo := backend.session(t, "bo")

	conv, err := ana.StartConversation(ctx, "bo")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, ana.OpenConversationID())
	require.NoError(t, bo.LoadConversations(ctx))
	require.Len(t, bo.Conversations(), 1)

	// Typing reaches the peer and ends when the message is sent.
	ana.InputChanged()
	require.Eventually(t, func() bool { return bo.PeerTypingIn(conv.ID) }, 5*time.Second, 5*time.Millisecond)

	sent, err := ana.SendText(ctx, "  hello bo  ")
	require.NoError(t, err)
	assert.Equal(t, "hello bo", sent.Content)
	require.Eventually(t, func() bool { return !bo.PeerTypingIn(conv.ID) }, 5*time.Second, 5*time.Millisecond)

	// Bo is not looking at the conversation, so it counts as unread.
	require.Eventually(t, func() bool { return bo.UnreadTotal() == 1 }, 5*time.Second, 5*time.Millisecond)
	c, ok := bo.Conversation(conv.ID)
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, sent.ID, c.LastMessage.ID)

	// The confirmation and the broadcast of the same message collapse.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{sent.ID}, messageIDs(ana.Messages()))

	// Opening loads history, clears the counter and sends a read receipt.
	require.NoError(t, bo.OpenConversation(ctx, conv.ID))
	assert.Equal(t, []string{sent.ID}, messageIDs(bo.Messages()))
	assert.Zero(t, bo.UnreadTotal())
	require.Eventually(t, func() bool {
		n, err := bo.RefreshUnreadCount(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Replies arrive live in the open timeline of the other side.
	reply, err := bo.SendText(ctx, "hi ana")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := messageIDs(ana.Messages())
		return len(ids) == 2 && ids[1] == reply.ID
	}, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, ana.UnreadTotal())
}
