// Package dms serves the direct-messaging backend: REST endpoints under
// /api/messages, uploaded media under /media and the push channel at /ws.
package dms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Vasu1712/scenyx-messaging/internal/middleware"
	"github.com/Vasu1712/scenyx-messaging/internal/models"
	"github.com/Vasu1712/scenyx-messaging/internal/storage/memory"
	"github.com/Vasu1712/scenyx-messaging/internal/ws"
)

const maxUploadBytes = 10 << 20

type DMHandler struct {
	Store  *memory.DMStore
	Hub    *ws.Hub
	Logger *slog.Logger

	upgrader websocket.Upgrader
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}{Success: status < 300, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.Envelope{Success: false, Message: message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, memory.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "Not authorized to access this conversation")
	case errors.Is(err, memory.ErrInvalidPair):
		writeError(w, http.StatusBadRequest, "Cannot start a conversation with yourself")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pageParams(r *http.Request, defaultLimit int) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	return page, limit
}

func currentUser(r *http.Request) string {
	userID, _ := middleware.UserID(r.Context())
	return userID
}

func (h *DMHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *DMHandler) StartOrGetConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	conv, err := h.Store.StartOrGetConversation(currentUser(r), req.UserID)
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *DMHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r, 20)
	convs, unread := h.Store.GetConversations(currentUser(r), page, limit)
	writeJSON(w, http.StatusOK, models.ConversationPage{Conversations: convs, UnreadCount: unread})
}

func (h *DMHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	dmID := mux.Vars(r)["id"]
	if !h.Store.IsParticipant(dmID, currentUser(r)) {
		writeError(w, http.StatusForbidden, "Not authorized to view this conversation")
		return
	}
	page, limit := pageParams(r, 50)
	msgs, err := h.Store.GetMessages(dmID, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessagePage{Messages: msgs})
}

// SendMessage accepts a JSON text message or a multipart image upload.
func (h *DMHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID := currentUser(r)
	msg := models.Message{Sender: models.Sender{ID: senderID}}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Image file is required")
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(contentType, "image/") {
			writeError(w, http.StatusBadRequest, "Only image uploads are allowed")
			return
		}
		mediaID := h.Store.PutMedia(memory.Media{ContentType: contentType, Data: data})
		msg.ConversationID = r.FormValue("conversationId")
		msg.ClientID = r.FormValue("clientId")
		msg.Kind = models.KindImage
		msg.ImageURL = "/media/" + mediaID
	} else {
		var req struct {
			ConversationID string `json:"conversationId"`
			Content        string `json:"content"`
			MessageType    string `json:"messageType"`
			ClientID       string `json:"clientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "Message content is required")
			return
		}
		msg.ConversationID = req.ConversationID
		msg.ClientID = req.ClientID
		msg.Kind = models.KindText
		msg.Content = req.Content
	}

	recipientID, err := h.Store.Recipient(msg.ConversationID, senderID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	saved, err := h.Store.AddMessage(msg)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := h.Hub.SendEvent(r.Context(), models.EventNewMessage, saved, recipientID, senderID); err != nil {
		h.logger().Warn("new_message broadcast failed", "message_id", saved.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *DMHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Store.MarkRead(mux.Vars(r)["id"], currentUser(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *DMHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.UnreadCount{UnreadCount: h.Store.UnreadCount(currentUser(r))})
}

func (h *DMHandler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	media, ok := h.Store.GetMedia(mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", media.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(media.Data)
}

// ServeWS upgrades an authenticated request to a push connection. Typing
// frames from the client are relayed to the other participant.
func (h *DMHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := ws.NewClient(userID, conn)
	client.Logger = h.logger()
	if !h.Hub.Join(client) {
		conn.Close()
		return
	}
	h.logger().Info("push client connected", "user_id", userID)

	go client.WritePump()
	go func() {
		defer h.Hub.Leave(client)
		err := client.ReadPump(func(frame models.Frame) {
			h.relayTyping(userID, frame)
		})
		h.logger().Debug("push client disconnected", "user_id", userID, "error", err)
	}()
}

func (h *DMHandler) relayTyping(userID string, frame models.Frame) {
	var relayed string
	switch frame.Event {
	case models.EventTyping:
		relayed = models.EventUserTyping
	case models.EventStopTyping:
		relayed = models.EventUserStopTyping
	default:
		return
	}
	var signal models.TypingSignal
	if err := json.Unmarshal(frame.Data, &signal); err != nil {
		return
	}
	recipientID, err := h.Store.Recipient(signal.ConversationID, userID)
	if err != nil {
		return
	}
	payload := models.TypingSignal{ConversationID: signal.ConversationID}
	if err := h.Hub.SendEvent(context.Background(), relayed, payload, recipientID); err != nil {
		h.logger().Debug("typing relay failed", "user_id", userID, "error", err)
	}
}
