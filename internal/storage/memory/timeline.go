package memory

import (
	"sync"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// TimelineStore holds the ordered messages of the open conversation.
// Order is insertion order; timestamps never reorder entries.
type TimelineStore struct {
	mu             sync.RWMutex
	conversationID string
	messages       []models.Message
	ids            map[string]struct{} // server ids present in messages
}

// NewTimelineStore creates an empty timeline.
func NewTimelineStore() *TimelineStore {
	return &TimelineStore{ids: make(map[string]struct{})}
}

// Load replaces the timeline with a fetched history page in server order.
// Duplicate ids inside the page keep their first occurrence.
func (s *TimelineStore) Load(conversationID string, messages []models.Message) {
	list := make([]models.Message, 0, len(messages))
	ids := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if m.ID != "" {
			if _, dup := ids[m.ID]; dup {
				continue
			}
			ids[m.ID] = struct{}{}
		}
		m.State = models.StateConfirmed
		list = append(list, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.messages = list
	s.ids = ids
}

// Rebase loads a history page and then re-attaches entries already in the
// timeline that the page does not contain: pushes that raced the fetch and
// local echoes still awaiting confirmation. Re-attached entries keep their
// delivery state and relative order.
func (s *TimelineStore) Rebase(conversationID string, history []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	carried := s.messages
	s.conversationID = conversationID
	s.messages = make([]models.Message, 0, len(history)+len(carried))
	s.ids = make(map[string]struct{}, len(history)+len(carried))
	for _, m := range history {
		s.appendLocked(m)
	}
	for _, m := range carried {
		if m.State != models.StateConfirmed {
			s.messages = append(s.messages, m)
			continue
		}
		s.appendLocked(m)
	}
}

// AppendIfNew appends msg unless a message with the same id is already
// present. It is the only dedup gate between fetch, push and send results.
func (s *TimelineStore) AppendIfNew(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg)
}

// AppendPending appends a local echo that has no server id yet.
func (s *TimelineStore) AppendPending(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.State = models.StatePending
	s.messages = append(s.messages, msg)
}

// Reconcile applies a server copy of a message that may correspond to a
// pending local echo. When msg carries the ClientID of a pending entry, that
// entry is replaced in place, or dropped if msg's id is already present.
// Otherwise msg goes through the regular dedup gate. Reports whether the
// timeline changed.
func (s *TimelineStore) Reconcile(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.localIndexLocked(msg.ClientID)
	if i < 0 {
		return s.appendLocked(msg)
	}
	if _, dup := s.ids[msg.ID]; dup {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return true
	}
	msg.State = models.StateConfirmed
	s.messages[i] = msg
	if msg.ID != "" {
		s.ids[msg.ID] = struct{}{}
	}
	return true
}

// MarkFailed flags the pending entry with the given client id as failed.
func (s *TimelineStore) MarkFailed(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.localIndexLocked(clientID)
	if i < 0 {
		return false
	}
	s.messages[i].State = models.StateFailed
	return true
}

// Discard removes the unconfirmed entry with the given client id.
func (s *TimelineStore) Discard(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.localIndexLocked(clientID)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// MarkRead sets isRead on the message with the given id.
func (s *TimelineStore) MarkRead(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].IsRead = true
			return true
		}
	}
	return false
}

// Last returns the most recently appended message.
func (s *TimelineStore) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Messages returns a copy of the timeline.
func (s *TimelineStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}

// Len returns the number of entries, pending ones included.
func (s *TimelineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ConversationID returns the conversation the timeline was loaded for.
func (s *TimelineStore) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// Reset clears the timeline when the conversation is closed.
func (s *TimelineStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.messages = nil
	s.ids = make(map[string]struct{})
}

func (s *TimelineStore) appendLocked(msg models.Message) bool {
	if msg.ID != "" {
		if _, dup := s.ids[msg.ID]; dup {
			return false
		}
		s.ids[msg.ID] = struct{}{}
	}
	msg.State = models.StateConfirmed
	s.messages = append(s.messages, msg)
	return true
}

// localIndexLocked finds the unconfirmed entry carrying clientID.
func (s *TimelineStore) localIndexLocked(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ClientID == clientID && m.State != models.StateConfirmed {
			return i
		}
	}
	return -1
}
