package models

import "time"

// Participant is one side of a two-party conversation.
type Participant struct {
	ID             string `json:"_id"`
	Username       string `json:"username,omitempty"`
	FullName       string `json:"fullName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// DisplayName prefers the full name and falls back to the username.
func (p Participant) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}

// Conversation is a two-party thread summary as held in the directory.
type Conversation struct {
	ID            string        `json:"_id"`
	Participants  []Participant `json:"participants"` // Always 2 for DM
	LastMessage   *Message      `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	UnreadCount   int           `json:"unreadCount"`
}

// Partner returns the participant that is not selfID.
func (c Conversation) Partner(selfID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

// ActivityAt is the recency key used for ordering: lastMessageAt when the
// conversation has messages, updatedAt otherwise.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil && !c.LastMessageAt.IsZero() {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}

// Clone returns a copy that shares no pointers with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}
