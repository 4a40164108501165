package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

const self = "me"

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) *time.Time {
	t := base.Add(time.Duration(minutes) * time.Minute)
	return &t
}

func conv(id, partner string, lastMessageAt *time.Time) models.Conversation {
	return models.Conversation{
		ID: id,
		Participants: []models.Participant{
			{ID: self, Username: "me"},
			{ID: partner, Username: partner},
		},
		LastMessageAt: lastMessageAt,
		UpdatedAt:     base,
	}
}

func ids(list []models.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func inbound(conversationID, id string, minutes int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         models.Sender{ID: "someone"},
		Kind:           models.KindText,
		Content:        "hi",
		CreatedAt:      *at(minutes),
	}
}

func TestDirectoryLoadSortsByActivity(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{
		conv("cx", "X", at(0)),
		conv("cy", "Y", at(5)),
	}, 3)

	assert.Equal(t, []string{"cy", "cx"}, ids(d.List()))
	assert.Equal(t, 3, d.UnreadTotal())
}

func TestDirectoryLoadFallsBackToUpdatedAt(t *testing.T) {
	d := NewDirectoryStore(self)
	fresh := conv("fresh", "F", nil)
	fresh.UpdatedAt = base.Add(time.Hour)
	d.Load([]models.Conversation{
		conv("old", "O", at(10)),
		fresh,
	}, 0)

	assert.Equal(t, []string{"fresh", "old"}, ids(d.List()))
}

func TestDirectoryLoadDeduplicatesByPartner(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{
		conv("stale", "X", at(1)),
		conv("other", "Y", at(2)),
		conv("latest", "X", at(9)),
	}, 0)

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, []string{"latest", "other"}, ids(list))
	_, ok := d.Get("stale")
	assert.False(t, ok)
}

func TestDirectoryLoadStableForEqualActivity(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{
		conv("a", "A", at(1)),
		conv("b", "B", at(1)),
		conv("c", "C", at(1)),
	}, 0)

	assert.Equal(t, []string{"a", "b", "c"}, ids(d.List()))
}

func TestDirectoryLoadSkipsSelfOnlyConversations(t *testing.T) {
	d := NewDirectoryStore(self)
	selfOnly := models.Conversation{ID: "solo", Participants: []models.Participant{{ID: self}, {ID: self}}}
	d.Load([]models.Conversation{selfOnly, conv("a", "A", at(1))}, 0)

	assert.Equal(t, []string{"a"}, ids(d.List()))
}

func TestDirectoryBumpMovesToFront(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{
		conv("A", "a", at(3)),
		conv("B", "b", at(2)),
		conv("C", "c", at(1)),
	}, 0)

	require.True(t, d.Bump(inbound("C", "m1", 4), ""))

	assert.Equal(t, []string{"C", "A", "B"}, ids(d.List()))
	c, _ := d.Get("C")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "m1", c.LastMessage.ID)
	assert.Equal(t, *at(4), *c.LastMessageAt)
}

func TestDirectoryBumpUnreadSuppressedForOpenConversation(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1)), conv("B", "b", at(2))}, 0)

	d.Bump(inbound("A", "m1", 3), "A")
	a, _ := d.Get("A")
	assert.Equal(t, 0, a.UnreadCount)
	assert.Equal(t, 0, d.UnreadTotal())

	d.Bump(inbound("A", "m2", 4), "B")
	a, _ = d.Get("A")
	assert.Equal(t, 1, a.UnreadCount)
	assert.Equal(t, 1, d.UnreadTotal())
}

func TestDirectoryBumpOutboundDoesNotCountUnread(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1))}, 0)

	msg := inbound("A", "m1", 2)
	msg.Sender = models.Sender{ID: self}
	d.Bump(msg, "")

	a, _ := d.Get("A")
	assert.Equal(t, 0, a.UnreadCount)
}

func TestDirectoryBumpUnknownConversation(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1))}, 0)

	assert.False(t, d.Bump(inbound("nope", "m1", 2), ""))
	assert.Equal(t, []string{"A"}, ids(d.List()))
	assert.Equal(t, 0, d.UnreadTotal())
}

func TestDirectoryUpsert(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(2)), conv("B", "b", at(1))}, 0)

	assert.False(t, d.Upsert(conv("B", "b", at(1))))
	assert.Equal(t, []string{"A", "B"}, ids(d.List()))

	assert.True(t, d.Upsert(conv("N", "n", nil)))
	assert.Equal(t, []string{"N", "A", "B"}, ids(d.List()))
}

func TestDirectoryClearUnread(t *testing.T) {
	d := NewDirectoryStore(self)
	a := conv("A", "a", at(1))
	a.UnreadCount = 4
	d.Load([]models.Conversation{a}, 2)

	assert.Equal(t, 4, d.ClearUnread("A"))
	got, _ := d.Get("A")
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, 0, d.UnreadTotal(), "total is floored at zero")

	assert.Equal(t, 0, d.ClearUnread("A"))
	assert.Equal(t, 0, d.ClearUnread("missing"))
}

func TestDirectoryListReturnsCopies(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1))}, 0)

	list := d.List()
	list[0].UnreadCount = 99
	got, _ := d.Get("A")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestDirectoryReset(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1))}, 5)
	d.Reset()

	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0, d.UnreadTotal())
}

func TestDirectoryBumpIgnoresRedelivery(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1)), conv("B", "b", at(2))}, 0)

	msg := inbound("A", "m1", 3)
	require.True(t, d.Bump(msg, ""))
	require.True(t, d.Bump(msg, ""))

	a, _ := d.Get("A")
	assert.Equal(t, 1, a.UnreadCount)
	assert.Equal(t, 1, d.UnreadTotal())
}

func TestDirectoryBumpIgnoresLateRedelivery(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1)), conv("B", "b", at(2))}, 0)

	m1, m2 := inbound("A", "m1", 3), inbound("A", "m2", 4)
	require.True(t, d.Bump(m1, "B"))
	require.True(t, d.Bump(m2, "B"))
	require.True(t, d.Bump(m1, "B"))

	a, _ := d.Get("A")
	assert.Equal(t, 2, a.UnreadCount)
	assert.Equal(t, 2, d.UnreadTotal())
	assert.Equal(t, "m2", a.LastMessage.ID)
	assert.Equal(t, *at(4), *a.LastMessageAt)
}

func TestDirectoryBumpKeepsNewerPreview(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1)), conv("B", "b", at(2))}, 0)

	require.True(t, d.Bump(inbound("B", "b2", 5), ""))
	own := models.Message{ID: "mine", ConversationID: "B", Sender: models.Sender{ID: self}, CreatedAt: *at(3)}
	require.True(t, d.Bump(own, ""))

	b, _ := d.Get("B")
	assert.Equal(t, "b2", b.LastMessage.ID)
	assert.Equal(t, 1, b.UnreadCount)
	assert.Equal(t, []string{"B", "A"}, ids(d.List()))
}

func TestDirectoryLoadForgetsSeenMessages(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(1))}, 0)
	require.True(t, d.Bump(inbound("A", "m1", 3), ""))
	require.True(t, d.Bump(inbound("A", "m2", 4), ""))

	d.Load([]models.Conversation{conv("A", "a", at(1))}, 0)
	require.True(t, d.Bump(inbound("A", "m1", 3), ""))

	a, _ := d.Get("A")
	assert.Equal(t, 1, a.UnreadCount)
	assert.Equal(t, "m1", a.LastMessage.ID)
}

func TestDirectoryUpsertSamePartnerReplacesInPlace(t *testing.T) {
	d := NewDirectoryStore(self)
	d.Load([]models.Conversation{conv("A", "a", at(2)), conv("B", "b", at(1))}, 0)

	assert.False(t, d.Upsert(conv("B2", "b", nil)))
	assert.Equal(t, []string{"A", "B2"}, ids(d.List()))
	_, ok := d.Get("B")
	assert.False(t, ok)
}
