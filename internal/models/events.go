package models

import "encoding/json"

// Push event names. The first three are delivered by the server, the last
// two are emitted by the client.
const (
	EventNewMessage     = "new_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
)

// Frame is the envelope of every push channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TypingSignal is the payload of typing events in both directions.
// RecipientID is only set on client emissions.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId,omitempty"`
}

// Envelope is the REST response wrapper used by the backend.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConversationPage is the payload of the conversation list endpoint.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	UnreadCount   int            `json:"unreadCount"`
}

// MessagePage is the payload of the message history endpoint.
type MessagePage struct {
	Messages []Message `json:"messages"`
}

// UnreadCount is the payload of the unread counter endpoint.
type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
}
