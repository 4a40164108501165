package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/Vasu1712/scenyx-messaging/internal/api"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// Image is an image attachment to send.
type Image struct {
	FileName    string
	ContentType string
	Data        io.Reader
}

type sendTarget struct {
	conversationID string
	recipientID    string
}

// SendText sends text to the open conversation. Empty or whitespace-only
// text is rejected with ErrEmptyMessage before any request is made. On
// failure the timeline and directory are left as they were (apart from a
// failed optimistic entry) and the caller keeps its input.
func (s *Session) SendText(ctx context.Context, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	target, err := s.sendTarget()
	if err != nil {
		return models.Message{}, err
	}
	local := models.Message{Kind: models.KindText, Content: content}
	return s.send(ctx, target, local, func(ctx context.Context, clientID string) (*models.Message, error) {
		return s.transport.SendText(ctx, api.SendTextRequest{
			ConversationID: target.conversationID,
			RecipientID:    target.recipientID,
			Content:        content,
			ClientID:       clientID,
		})
	})
}

// SendImage uploads an image to the open conversation.
func (s *Session) SendImage(ctx context.Context, image Image) (models.Message, error) {
	if image.Data == nil {
		return models.Message{}, ErrNoImage
	}
	target, err := s.sendTarget()
	if err != nil {
		return models.Message{}, err
	}
	local := models.Message{Kind: models.KindImage}
	return s.send(ctx, target, local, func(ctx context.Context, clientID string) (*models.Message, error) {
		return s.transport.SendImage(ctx, api.SendImageRequest{
			ConversationID: target.conversationID,
			RecipientID:    target.recipientID,
			ClientID:       clientID,
			FileName:       image.FileName,
			ContentType:    image.ContentType,
			Image:          image.Data,
		})
	})
}

// DiscardFailed removes a failed optimistic entry from the timeline.
func (s *Session) DiscardFailed(clientID string) bool {
	s.mu.Lock()
	removed := s.timeline.Discard(clientID)
	s.mu.Unlock()
	if removed {
		s.notify(ChangeTimeline)
	}
	return removed
}

func (s *Session) sendTarget() (sendTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sendTarget{}, ErrClosed
	}
	if s.openID == "" {
		return sendTarget{}, ErrNoOpenConversation
	}
	conv, ok := s.directory.Get(s.openID)
	if !ok {
		return sendTarget{}, ErrUnknownConversation
	}
	partner, ok := conv.Partner(s.selfID)
	if !ok {
		return sendTarget{}, ErrUnknownConversation
	}
	return sendTarget{conversationID: conv.ID, recipientID: partner.ID}, nil
}

func (s *Session) send(
	ctx context.Context,
	target sendTarget,
	local models.Message,
	request func(ctx context.Context, clientID string) (*models.Message, error),
) (models.Message, error) {
	clientID := uuid.NewString()
	s.typing.Stop(target.conversationID)

	s.mu.Lock()
	s.sending++
	echoed := false
	if s.optimistic && s.openID == target.conversationID {
		local.ConversationID = target.conversationID
		local.Sender = models.Sender{ID: s.selfID}
		local.ClientID = clientID
		local.CreatedAt = s.clock.Now()
		s.timeline.AppendPending(local)
		echoed = true
	}
	s.mu.Unlock()

	s.notify(ChangeSending)
	if echoed {
		s.notify(ChangeTimeline)
	}
	defer func() {
		s.mu.Lock()
		s.sending--
		s.mu.Unlock()
		s.notify(ChangeSending)
	}()

	reqCtx, cancel := s.requestContext(ctx)
	msg, err := request(reqCtx, clientID)
	cancel()
	if err != nil {
		if echoed {
			s.mu.Lock()
			failed := s.timeline.MarkFailed(clientID)
			s.mu.Unlock()
			if failed {
				s.notify(ChangeTimeline)
			}
		}
		s.logger.Debug("send failed",
			"conversation_id", target.conversationID,
			"client_id", clientID,
			"error", err,
		)
		return models.Message{}, fmt.Errorf("chat: send %s message: %w", local.Kind, err)
	}

	confirmed := *msg
	if confirmed.ClientID == "" {
		confirmed.ClientID = clientID
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = target.conversationID
	}
	s.applyMessage(confirmed)
	return confirmed, nil
}
