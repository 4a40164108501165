package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, c *Client) models.Frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var frame models.Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return models.Frame{}
	}
}

func TestHubDeliversToEveryConnectionOfAUser(t *testing.T) {
	hub, _ := runHub(t)
	phone := NewClient("ana", nil)
	laptop := NewClient("ana", nil)
	other := NewClient("bo", nil)
	for _, c := range []*Client{phone, laptop, other} {
		require.True(t, hub.Join(c))
	}
	assert.True(t, hub.Online("ana"))

	require.NoError(t, hub.SendEvent(context.Background(), models.EventUserTyping,
		models.TypingSignal{ConversationID: "c1"}, "ana"))

	for _, c := range []*Client{phone, laptop} {
		frame := receive(t, c)
		assert.Equal(t, models.EventUserTyping, frame.Event)
	}
	select {
	case <-other.Send:
		t.Fatal("frame delivered to the wrong user")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubLeaveClosesSend(t *testing.T) {
	hub, _ := runHub(t)
	c := NewClient("ana", nil)
	require.True(t, hub.Join(c))

	hub.Leave(c)
	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return !hub.Online("ana") }, time.Second, time.Millisecond)

	hub.Leave(c) // second leave is a no-op
}

func TestHubStopped(t *testing.T) {
	hub, cancel := runHub(t)
	c := NewClient("ana", nil)
	require.True(t, hub.Join(c))

	cancel()
	_, ok := <-c.Send
	assert.False(t, ok, "stopping the hub closes client queues")

	assert.False(t, hub.Join(NewClient("bo", nil)))
	hub.Leave(c)
	err := hub.SendEvent(context.Background(), models.EventNewMessage, models.Message{}, "ana")
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestClientReadPumpLogsMalformedFrames(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	frames := make(chan models.Frame, 4)

	var upgrader websocket.Upgrader
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		client := NewClient("ana", conn)
		client.Logger = logger
		_ = client.ReadPump(func(frame models.Frame) { frames <- frame })
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{}}`)))

	select {
	case frame := <-frames:
		assert.Equal(t, models.EventTyping, frame.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame not handled")
	}
	assert.Contains(t, logs.String(), "push client sent malformed frame")
	assert.Contains(t, logs.String(), "user_id=ana")
}
