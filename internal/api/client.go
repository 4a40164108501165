// Package api is the REST transport for the messaging backend: paged
// conversation and message fetches, create-or-get, text and image sends,
// read receipts and the unread counter.
//
// Every response is wrapped in a {success, message, data} envelope. Non-2xx
// responses are returned as *APIError carrying the envelope message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/Vasu1712/scenyx-messaging/internal/models"
)

// Default page sizes used when callers pass zero.
const (
	DefaultConversationLimit = 20
	DefaultMessageLimit      = 50
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8080".
	BaseURL string
	// Tokens supplies the bearer credential for every request.
	Tokens *TokenStore
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to the messaging REST endpoints.
type Client struct {
	baseURL    string
	tokens     *TokenStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	tokens := config.Tokens
	if tokens == nil {
		tokens = NewTokenStore("")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Tokens returns the credential store used by the client.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// SendTextRequest is the body of a text send.
type SendTextRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	ClientID       string `json:"clientId,omitempty"`
}

// SendImageRequest describes an image send. Image is streamed into the
// multipart body under the "image" field.
type SendImageRequest struct {
	ConversationID string
	RecipientID    string
	ClientID       string
	FileName       string
	ContentType    string
	Image          io.Reader
}

// Conversations fetches one page of the conversation list together with
// the server's global unread count.
func (c *Client) Conversations(ctx context.Context, page, limit int) (*models.ConversationPage, error) {
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	var out models.ConversationPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/conversations", pageQuery(page, limit), nil, &out); err != nil {
		return nil, fmt.Errorf("api: list conversations: %w", err)
	}
	return &out, nil
}

// CreateOrGetConversation returns the conversation with userID, creating it
// on the server if needed.
func (c *Client) CreateOrGetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("api: create conversation: user id is required")
	}
	body := map[string]string{"userId": userID}
	var out models.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/conversations", nil, body, &out); err != nil {
		return nil, fmt.Errorf("api: create conversation: %w", err)
	}
	return &out, nil
}

// Messages fetches one page of history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("api: list messages: conversation id is required")
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	path := "/api/messages/conversations/" + url.PathEscape(conversationID) + "/messages"
	var out models.MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, pageQuery(page, limit), nil, &out); err != nil {
		return nil, fmt.Errorf("api: list messages: %w", err)
	}
	return &out, nil
}

// SendText sends a text message and returns the server's copy.
func (c *Client) SendText(ctx context.Context, request SendTextRequest) (*models.Message, error) {
	request.MessageType = string(models.KindText)
	var out models.Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/messages", nil, request, &out); err != nil {
		return nil, fmt.Errorf("api: send text: %w", err)
	}
	return &out, nil
}

// SendImage uploads an image message as multipart form data.
func (c *Client) SendImage(ctx context.Context, request SendImageRequest) (*models.Message, error) {
	if request.Image == nil {
		return nil, fmt.Errorf("api: send image: image is required")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"conversationId", request.ConversationID},
		{"recipientId", request.RecipientID},
		{"messageType", string(models.KindImage)},
		{"clientId", request.ClientID},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("api: send image: %w", err)
		}
	}
	name := request.FileName
	if name == "" {
		name = "image"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	contentType := request.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("api: send image: %w", err)
	}
	if _, err := io.Copy(part, request.Image); err != nil {
		return nil, fmt.Errorf("api: send image: read image: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("api: send image: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/messages/messages", nil, form.FormDataContentType(), &buf)
	if err != nil {
		return nil, fmt.Errorf("api: send image: %w", err)
	}
	var out models.Message
	if err := unwrap(body, &out); err != nil {
		return nil, fmt.Errorf("api: send image: %w", err)
	}
	return &out, nil
}

// MarkRead marks a message read. Marking an already-read message is a
// no-op on the server.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	path := "/api/messages/messages/" + url.PathEscape(messageID) + "/read"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, nil, nil); err != nil {
		return fmt.Errorf("api: mark read: %w", err)
	}
	return nil
}

// UnreadCount returns the server's global unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out models.UnreadCount
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/unread-count", nil, nil, &out); err != nil {
		return 0, fmt.Errorf("api: unread count: %w", err)
	}
	return out.UnreadCount, nil
}

func pageQuery(page, limit int) url.Values {
	if page <= 0 {
		page = 1
	}
	return url.Values{
		"page":  []string{strconv.Itoa(page)},
		"limit": []string{strconv.Itoa(limit)},
	}
}

// doJSON sends requestBody as JSON and decodes the envelope data into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, requestBody, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	body, err := c.do(ctx, method, path, query, contentType, reader)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return unwrap(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	var envelope models.Envelope
	if jsonErr := json.Unmarshal(responseBody, &envelope); jsonErr == nil && envelope.Message != "" {
		apiErr.Message = envelope.Message
	} else {
		apiErr.Message = http.StatusText(response.StatusCode)
	}
	c.logger.Debug("api request failed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"message", apiErr.Message,
	)
	return nil, apiErr
}

// unwrap decodes the envelope's data field into out.
func unwrap(body []byte, out any) error {
	var envelope models.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("decode response: empty data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
