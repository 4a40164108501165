package chat

// checkRead issues a read receipt for the last message of the open
// timeline when it is inbound and unread. Each message id is requested at
// most once while its conversation stays open; a failed request is
// forgotten so the next timeline change retries it.
func (s *Session) checkRead() {
	s.mu.Lock()
	if s.closed || s.openID == "" {
		s.mu.Unlock()
		return
	}
	last, ok := s.timeline.Last()
	if !ok || last.ID == "" || last.IsRead || !last.IsInbound(s.selfID) {
		s.mu.Unlock()
		return
	}
	if _, requested := s.readRequested[last.ID]; requested {
		s.mu.Unlock()
		return
	}
	s.readRequested[last.ID] = struct{}{}
	gen := s.openGen
	conversationID := s.openID
	s.receipts.Add(1)
	s.mu.Unlock()

	go s.markRead(gen, conversationID, last.ID)
}

func (s *Session) markRead(gen uint64, conversationID, messageID string) {
	defer s.receipts.Done()

	ctx, cancel := s.requestContext(s.background)
	err := s.transport.MarkRead(ctx, messageID)
	cancel()

	s.mu.Lock()
	current := s.openGen == gen
	if err != nil {
		if current {
			delete(s.readRequested, messageID)
		}
		s.mu.Unlock()
		s.logger.Debug("mark read failed",
			"conversation_id", conversationID,
			"message_id", messageID,
			"error", err,
		)
		return
	}
	changed := current && s.timeline.MarkRead(messageID)
	s.mu.Unlock()

	if changed {
		s.notify(ChangeTimeline)
	}
}
