package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind distinguishes text messages from image messages.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// DeliveryState tracks a locally created message through its send.
// Messages received from the server are always StateConfirmed.
type DeliveryState int

const (
	StateConfirmed DeliveryState = iota
	StatePending
	StateFailed
)

// Sender identifies who sent a message. The backend sends either the bare
// user id or a populated user object under the same "senderId" key.
type Sender struct {
	ID             string `json:"_id"`
	Username       string `json:"username,omitempty"`
	FullName       string `json:"fullName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// UnmarshalJSON accepts both `"senderId": "u1"` and `"senderId": {"_id": "u1", ...}`.
func (s *Sender) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Sender{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = Sender{ID: id}
		return nil
	}
	type plain Sender
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("models: decode sender: %w", err)
	}
	*s = Sender(p)
	return nil
}

// MarshalJSON writes the bare id unless profile fields are populated.
func (s Sender) MarshalJSON() ([]byte, error) {
	if s.Username == "" && s.FullName == "" && s.ProfilePicture == "" {
		return json.Marshal(s.ID)
	}
	type plain Sender
	return json.Marshal(plain(s))
}

// Message is a single entry in a conversation.
type Message struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"conversationId"`
	Sender         Sender      `json:"senderId"`
	Kind           MessageKind `json:"messageType"`
	Content        string      `json:"content,omitempty"`
	ImageURL       string      `json:"imageUrl,omitempty"`
	IsRead         bool        `json:"isRead"`
	CreatedAt      time.Time   `json:"createdAt"`

	// ClientID is the correlation id assigned to a locally originated send.
	// The server echoes it back on the confirmation and the broadcast.
	ClientID string `json:"clientId,omitempty"`

	State DeliveryState `json:"-"`
}

// SenderID is shorthand for m.Sender.ID.
func (m Message) SenderID() string {
	return m.Sender.ID
}

// IsInbound reports whether the message was sent by someone other than selfID.
func (m Message) IsInbound(selfID string) bool {
	return m.Sender.ID != selfID
}

// Pending reports whether the message is a local echo awaiting confirmation.
func (m Message) Pending() bool {
	return m.State == StatePending
}

// Preview is the one-line summary shown in the conversation list.
func (m Message) Preview() string {
	if m.Kind == KindImage {
		return "Sent a photo"
	}
	return m.Content
}
