package chat

import (
	"context"
	"fmt"
)

// OpenConversation makes conversationID the open conversation: the timeline
// is reset, the conversation's unread counter is cleared, and its history is
// fetched. A fetch still running for a previously opened conversation is
// cancelled.
//
// If the conversation is closed or another one is opened before the
// history arrives, the result is discarded and ErrStaleResponse returned.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("chat: open conversation: id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	previous := s.openID
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.openGen++
	gen := s.openGen
	s.openID = conversationID
	s.timeline.Reset()
	s.readRequested = make(map[string]struct{})
	s.directory.ClearUnread(conversationID)
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.mu.Unlock()

	if previous != "" && previous != conversationID {
		s.typing.Stop(previous)
	}
	s.notify(ChangeTimeline)
	s.notify(ChangeDirectory)

	reqCtx, cancelRequest := s.requestContext(fetchCtx)
	page, err := s.transport.Messages(reqCtx, conversationID, 1, s.historySize)
	cancelRequest()

	s.mu.Lock()
	if s.openGen != gen {
		s.mu.Unlock()
		cancel()
		s.logger.Debug("discarding stale history", "conversation_id", conversationID)
		return ErrStaleResponse
	}
	s.cancelFetch = nil
	cancel()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("chat: load history for %s: %w", conversationID, err)
	}
	s.timeline.Rebase(conversationID, page.Messages)
	s.mu.Unlock()

	s.notify(ChangeTimeline)
	s.checkRead()
	return nil
}

// CloseConversation resets the timeline and ends any local typing burst.
// History still in flight for the closed conversation is discarded.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	id := s.openID
	if id == "" {
		s.mu.Unlock()
		return
	}
	s.openGen++
	s.openID = ""
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.timeline.Reset()
	s.readRequested = make(map[string]struct{})
	s.mu.Unlock()

	s.typing.Stop(id)
	s.notify(ChangeTimeline)
}

// InputChanged reports a local edit in the open conversation's composer.
// It is a no-op when nothing is open or the open conversation's partner
// is not known yet.
func (s *Session) InputChanged() {
	id := s.OpenConversationID()
	if id == "" {
		return
	}
	recipientID := s.recipientOf(id)
	if recipientID == "" {
		return
	}
	s.typing.InputChanged(id, recipientID)
}

func (s *Session) recipientOf(conversationID string) string {
	conv, ok := s.directory.Get(conversationID)
	if !ok {
		return ""
	}
	partner, _ := conv.Partner(s.selfID)
	return partner.ID
}
