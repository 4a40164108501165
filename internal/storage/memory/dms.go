package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrInvalidPair    = errors.New("a conversation needs two distinct users")
)

// Media is an uploaded image held by the DM store.
type Media struct {
	ContentType string
	Data        []byte
}

type dmConversation struct {
	id            string
	participants  [2]string // sorted
	messages      []models.Message
	lastMessageAt *time.Time
	updatedAt     time.Time
	unread        map[string]int // userID -> unread count
}

func (c *dmConversation) other(userID string) (string, bool) {
	switch userID {
	case c.participants[0]:
		return c.participants[1], true
	case c.participants[1]:
		return c.participants[0], true
	}
	return "", false
}

// DMStore is the server side of direct messaging: users, two-party
// conversations, their messages, per-user unread counters and uploaded
// media, all held in memory.
type DMStore struct {
	mu            sync.RWMutex
	users         map[string]models.Participant
	conversations map[string]*dmConversation // dmID -> conversation
	userIndex     map[string][]string        // userID -> []dmID
	messageIndex  map[string]string          // messageID -> dmID
	media         map[string]Media
	now           func() time.Time
}

func NewDMStore() *DMStore {
	return &DMStore{
		users:         make(map[string]models.Participant),
		conversations: make(map[string]*dmConversation),
		userIndex:     make(map[string][]string),
		messageIndex:  make(map[string]string),
		media:         make(map[string]Media),
		now:           time.Now,
	}
}

// AddUser registers or replaces a user profile.
func (s *DMStore) AddUser(user models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// User returns a registered user.
func (s *DMStore) User(userID string) (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return u, ok
}

// StartOrGetConversation returns the conversation between two users,
// creating it on first use. The pair is unordered.
func (s *DMStore) StartOrGetConversation(user1, user2 string) (models.Conversation, error) {
	if user1 == "" || user2 == "" || user1 == user2 {
		return models.Conversation{}, ErrInvalidPair
	}
	pair := [2]string{user1, user2}
	if pair[1] < pair[0] {
		pair[0], pair[1] = pair[1], pair[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user2]; !ok {
		return models.Conversation{}, ErrNotFound
	}
	for _, dmID := range s.userIndex[user1] {
		conv := s.conversations[dmID]
		if conv.participants == pair {
			return s.viewLocked(conv, user1), nil
		}
	}

	dmID := uuid.NewString()
	conv := &dmConversation{
		id:           dmID,
		participants: pair,
		updatedAt:    s.now(),
		unread:       make(map[string]int),
	}
	s.conversations[dmID] = conv
	s.userIndex[user1] = append(s.userIndex[user1], dmID)
	s.userIndex[user2] = append(s.userIndex[user2], dmID)
	return s.viewLocked(conv, user1), nil
}

// GetConversations returns one page of userID's conversations, most recent
// activity first, together with the user's total unread count.
func (s *DMStore) GetConversations(userID string, page, limit int) ([]models.Conversation, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*dmConversation, 0, len(s.userIndex[userID]))
	total := 0
	for _, dmID := range s.userIndex[userID] {
		conv := s.conversations[dmID]
		all = append(all, conv)
		total += conv.unread[userID]
	}
	sort.SliceStable(all, func(i, j int) bool {
		return activity(all[i]).After(activity(all[j]))
	})

	start, end := pageBounds(len(all), page, limit)
	result := make([]models.Conversation, 0, end-start)
	for _, conv := range all[start:end] {
		result = append(result, s.viewLocked(conv, userID))
	}
	return result, total
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *DMStore) IsParticipant(dmID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return false
	}
	_, ok = conv.other(userID)
	return ok
}

// Recipient returns the other participant of a conversation.
func (s *DMStore) Recipient(dmID, senderID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return "", ErrNotFound
	}
	other, ok := conv.other(senderID)
	if !ok {
		return "", ErrNotParticipant
	}
	return other, nil
}

// AddMessage stores msg in its conversation, assigning the id and creation
// time. The recipient's unread counter grows by one.
func (s *DMStore) AddMessage(msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	recipient, ok := conv.other(msg.SenderID())
	if !ok {
		return models.Message{}, ErrNotParticipant
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()
	msg.IsRead = false
	msg.State = models.StateConfirmed
	if u, ok := s.users[msg.SenderID()]; ok {
		msg.Sender = models.Sender(u)
	}

	conv.messages = append(conv.messages, msg)
	at := msg.CreatedAt
	conv.lastMessageAt = &at
	conv.updatedAt = at
	conv.unread[recipient]++
	s.messageIndex[msg.ID] = conv.id
	return msg, nil
}

// GetMessages returns a page of history in chronological order. Page 1
// holds the newest limit messages.
func (s *DMStore) GetMessages(dmID string, page, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return nil, ErrNotFound
	}

	n := len(conv.messages)
	start, end := pageBounds(n, page, limit)
	// Pages count back from the newest message.
	from, to := n-end, n-start
	return append([]models.Message(nil), conv.messages[from:to]...), nil
}

// MarkRead marks a message read on behalf of its recipient, together with
// every earlier message the recipient received in the same conversation.
// Marking an already read message is a no-op.
func (s *DMStore) MarkRead(messageID, userID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dmID, ok := s.messageIndex[messageID]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	conv := s.conversations[dmID]
	if _, ok := conv.other(userID); !ok {
		return models.Message{}, ErrNotParticipant
	}
	target := -1
	for i := range conv.messages {
		if conv.messages[i].ID == messageID {
			target = i
			break
		}
	}
	if target < 0 {
		return models.Message{}, ErrNotFound
	}
	if conv.messages[target].SenderID() == userID {
		return conv.messages[target], nil
	}

	unread := 0
	for i := range conv.messages {
		m := &conv.messages[i]
		if m.SenderID() == userID || m.IsRead {
			continue
		}
		if i <= target {
			m.IsRead = true
			continue
		}
		unread++
	}
	conv.unread[userID] = unread
	return conv.messages[target], nil
}

// UnreadCount returns userID's unread total across conversations.
func (s *DMStore) UnreadCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, dmID := range s.userIndex[userID] {
		total += s.conversations[dmID].unread[userID]
	}
	return total
}

// PutMedia stores an uploaded image and returns its id.
func (s *DMStore) PutMedia(media Media) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.media[id] = media
	return id
}

// GetMedia returns an uploaded image.
func (s *DMStore) GetMedia(id string) (Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.media[id]
	return m, ok
}

func (s *DMStore) viewLocked(conv *dmConversation, userID string) models.Conversation {
	out := models.Conversation{
		ID:          conv.id,
		UpdatedAt:   conv.updatedAt,
		UnreadCount: conv.unread[userID],
	}
	for _, id := range conv.participants {
		p, ok := s.users[id]
		if !ok {
			p = models.Participant{ID: id}
		}
		out.Participants = append(out.Participants, p)
	}
	if conv.lastMessageAt != nil {
		at := *conv.lastMessageAt
		out.LastMessageAt = &at
	}
	if n := len(conv.messages); n > 0 {
		last := conv.messages[n-1]
		out.LastMessage = &last
	}
	return out
}

func activity(conv *dmConversation) time.Time {
	if conv.lastMessageAt != nil {
		return *conv.lastMessageAt
	}
	return conv.updatedAt
}

// pageBounds converts a 1-based page into slice bounds over n items.
func pageBounds(n, page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		return 0, n
	}
	start := min((page-1)*limit, n)
	end := min(start+limit, n)
	return start, end
}
