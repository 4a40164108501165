package memory

import (
	"sort"
	"sync"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// DirectoryStore holds the client's ordered, partner-deduplicated list of
// conversations together with the global unread badge counter.
//
// The list is kept most-recent-activity-first. Ties keep fetch order.
type DirectoryStore struct {
	mu            sync.RWMutex
	selfID        string
	conversations []*models.Conversation // ordered, most recent first
	byID          map[string]*models.Conversation
	seen          map[string]*recentIDs // conversationID -> recently bumped message ids
	unreadTotal   int
}

// seenPerConversation bounds the message ids remembered for redelivery
// detection in each conversation.
const seenPerConversation = 256

// recentIDs is a fixed-size set that forgets its oldest id first.
type recentIDs struct {
	set   map[string]struct{}
	order []string
}

func (r *recentIDs) has(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *recentIDs) add(id string) {
	if r.has(id) {
		return
	}
	if len(r.order) == seenPerConversation {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.set[id] = struct{}{}
	r.order = append(r.order, id)
}

// NewDirectoryStore creates an empty directory for the user selfID.
func NewDirectoryStore(selfID string) *DirectoryStore {
	return &DirectoryStore{
		selfID: selfID,
		byID:   make(map[string]*models.Conversation),
		seen:   make(map[string]*recentIDs),
	}
}

// Load replaces the directory wholesale with a fetched page.
//
// Conversations sharing a partner collapse to the one with the most recent
// activity; on equal activity the earlier entry in the page wins.
// Conversations with no partner other than self are dropped.
func (s *DirectoryStore) Load(conversations []models.Conversation, unreadTotal int) {
	byPartner := make(map[string]*models.Conversation, len(conversations))
	partners := make([]string, 0, len(conversations))

	for _, conv := range conversations {
		partner, ok := conv.Partner(s.selfID)
		if !ok {
			continue
		}
		existing, seen := byPartner[partner.ID]
		if !seen {
			c := conv.Clone()
			byPartner[partner.ID] = &c
			partners = append(partners, partner.ID)
			continue
		}
		if conv.ActivityAt().After(existing.ActivityAt()) {
			*existing = conv.Clone()
		}
	}

	list := make([]*models.Conversation, 0, len(partners))
	for _, partnerID := range partners {
		list = append(list, byPartner[partnerID])
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ActivityAt().After(list[j].ActivityAt())
	})

	index := make(map[string]*models.Conversation, len(list))
	for _, c := range list {
		index[c.ID] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = list
	s.byID = index
	s.seen = make(map[string]*recentIDs)
	s.unreadTotal = max(unreadTotal, 0)
}

// Upsert adds a conversation returned by create-or-get. A new conversation
// is prepended; an existing one keeps its position. An entry with the same
// partner but a different id is replaced in place so the directory keeps
// one conversation per partner. Reports whether the conversation was added.
func (s *DirectoryStore) Upsert(conv models.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[conv.ID]; ok {
		return false
	}
	c := conv.Clone()
	if partner, ok := c.Partner(s.selfID); ok {
		for i, existing := range s.conversations {
			if p, _ := existing.Partner(s.selfID); p.ID != partner.ID {
				continue
			}
			delete(s.byID, existing.ID)
			s.conversations[i] = &c
			s.byID[c.ID] = &c
			return false
		}
	}
	s.conversations = append([]*models.Conversation{&c}, s.conversations...)
	s.byID[c.ID] = &c
	return true
}

// Bump records a new message on its conversation and moves that
// conversation to the front. The unread counters grow only when the message
// is inbound and openID is not the conversation. A message already bumped,
// or already the conversation's last message, changes nothing. A message
// older than the current last message counts as unread but leaves the
// preview and position alone. Unknown conversations are ignored; Bump
// reports whether the conversation was found.
func (s *DirectoryStore) Bump(msg models.Message, openID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		return false
	}
	if msg.ID != "" {
		if conv.LastMessage != nil && conv.LastMessage.ID == msg.ID {
			return true
		}
		recent := s.seen[conv.ID]
		if recent == nil {
			recent = &recentIDs{set: make(map[string]struct{})}
			s.seen[conv.ID] = recent
		}
		if recent.has(msg.ID) {
			return true
		}
		recent.add(msg.ID)
	}

	if msg.IsInbound(s.selfID) && msg.ConversationID != openID {
		conv.UnreadCount++
		s.unreadTotal++
	}
	if conv.LastMessageAt != nil && msg.CreatedAt.Before(*conv.LastMessageAt) {
		return true
	}

	last := msg
	conv.LastMessage = &last
	at := msg.CreatedAt
	conv.LastMessageAt = &at
	s.moveToFrontLocked(conv)
	return true
}

// ClearUnread zeroes a conversation's counter and subtracts what was
// cleared from the global total. It returns the amount cleared.
func (s *DirectoryStore) ClearUnread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok || conv.UnreadCount == 0 {
		return 0
	}
	cleared := conv.UnreadCount
	conv.UnreadCount = 0
	s.unreadTotal = max(s.unreadTotal-cleared, 0)
	return cleared
}

// SetUnreadTotal reseeds the global badge counter from the server.
func (s *DirectoryStore) SetUnreadTotal(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreadTotal = max(total, 0)
}

// UnreadTotal returns the global badge counter.
func (s *DirectoryStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadTotal
}

// Get returns a copy of the conversation with the given id.
func (s *DirectoryStore) Get(conversationID string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return conv.Clone(), true
}

// List returns copies of all conversations in display order.
func (s *DirectoryStore) List() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out
}

// Len returns the number of conversations.
func (s *DirectoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Reset empties the directory. Used on logout.
func (s *DirectoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.byID = make(map[string]*models.Conversation)
	s.seen = make(map[string]*recentIDs)
	s.unreadTotal = 0
}

func (s *DirectoryStore) moveToFrontLocked(conv *models.Conversation) {
	for i, c := range s.conversations {
		if c != conv {
			continue
		}
		if i == 0 {
			return
		}
		copy(s.conversations[1:i+1], s.conversations[:i])
		s.conversations[0] = conv
		return
	}
}
