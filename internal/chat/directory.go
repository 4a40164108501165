package chat

import (
	"context"
	"fmt"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// LoadConversations fetches the first conversation page and replaces the
// directory with it. The server's unread total seeds the badge counter.
// On failure the previous directory is left untouched.
func (s *Session) LoadConversations(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	page, err := s.transport.Conversations(reqCtx, 1, s.pageSize)
	if err != nil {
		return fmt.Errorf("chat: load conversations: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.directory.Load(page.Conversations, page.UnreadCount)
	// The open conversation is being read; the fetched page may still count it.
	if s.openID != "" {
		s.directory.ClearUnread(s.openID)
	}
	s.mu.Unlock()

	s.logger.Debug("conversations loaded", "count", s.directory.Len(), "unread_total", page.UnreadCount)
	s.notify(ChangeDirectory)
	return nil
}

// RefreshUnreadCount reseeds the global badge from the server without
// reloading the directory.
func (s *Session) RefreshUnreadCount(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	total, err := s.transport.UnreadCount(reqCtx)
	if err != nil {
		return 0, fmt.Errorf("chat: refresh unread count: %w", err)
	}
	s.directory.SetUnreadTotal(total)
	s.notify(ChangeDirectory)
	return total, nil
}

// StartConversation creates or fetches the conversation with partnerID,
// adds it to the directory if it is new, and opens it.
func (s *Session) StartConversation(ctx context.Context, partnerID string) (models.Conversation, error) {
	if s.isClosed() {
		return models.Conversation{}, ErrClosed
	}
	reqCtx, cancel := s.requestContext(ctx)
	conv, err := s.transport.CreateOrGetConversation(reqCtx, partnerID)
	cancel()
	if err != nil {
		return models.Conversation{}, fmt.Errorf("chat: start conversation with %s: %w", partnerID, err)
	}

	if s.directory.Upsert(*conv) {
		s.notify(ChangeDirectory)
	}
	if err := s.OpenConversation(ctx, conv.ID); err != nil {
		return *conv, err
	}
	return *conv, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
