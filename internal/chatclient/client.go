// Package chatclient talks to the petbnb API: REST through resty and the live
// message feed over a websocket.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/chat"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

const defaultTimeout = 15 * time.Second

// Client implements chat.Gateway, chat.AttachmentUploader,
// chat.SessionProvider and chat.BookingLookup against one API base URL.
type Client struct {
	baseURL string
	http    *resty.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu     sync.RWMutex
	token  string
	userID int64
}

var (
	_ chat.Gateway            = (*Client)(nil)
	_ chat.AttachmentUploader = (*Client)(nil)
	_ chat.SessionProvider    = (*Client)(nil)
	_ chat.BookingLookup      = (*Client)(nil)
)

type Account struct {
	ID    int64       `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

type apiError struct {
	Error string `json:"error"`
}

func New(baseURL string, log zerolog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "petchat/1.0").
			SetTimeout(defaultTimeout),
		dialer: &websocket.Dialer{HandshakeTimeout: defaultTimeout},
		log:    log.With().Str("component", "chat_client").Logger(),
	}
}

// SetToken installs a bearer token obtained elsewhere. The user id is
// resolved lazily through /auth/me.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
	c.userID = 0
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Login(ctx context.Context, email, password string) (*Account, error) {
	var result struct {
		Token string  `json:"token"`
		User  Account `json:"user"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&result).
		Post("/api/auth/login")
	if err := check("login", resp, err); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = result.Token
	c.userID = result.User.ID
	c.mu.Unlock()
	return &result.User, nil
}

func (c *Client) Me(ctx context.Context) (*Account, error) {
	var result struct {
		User Account `json:"user"`
	}
	resp, err := c.request(ctx).SetResult(&result).Get("/api/auth/me")
	if err := check("fetch account", resp, err); err != nil {
		return nil, err
	}
	return &result.User, nil
}

// UserID implements chat.SessionProvider.
func (c *Client) UserID(ctx context.Context) (int64, error) {
	c.mu.RLock()
	token, userID := c.token, c.userID
	c.mu.RUnlock()
	if token == "" {
		return 0, chat.ErrNotAuthenticated
	}
	if userID != 0 {
		return userID, nil
	}

	account, err := c.Me(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	if c.token == token {
		c.userID = account.ID
	}
	c.mu.Unlock()
	return account.ID, nil
}

// GetConversations lists conversations for the signed-in user. userID is
// implied by the token.
func (c *Client) GetConversations(ctx context.Context, _ int64, role models.Role) ([]models.ConversationSummary, error) {
	var result struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	req := c.request(ctx).SetResult(&result)
	if role != "" {
		req.SetQueryParam("role", string(role))
	}
	resp, err := req.Get("/api/v1/conversations")
	if err := check("list conversations", resp, err); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, sitterID int64) (*models.Conversation, error) {
	var result struct {
		Conversation models.Conversation `json:"conversation"`
	}
	resp, err := c.request(ctx).
		SetBody(map[string]int64{"sitter_id": sitterID}).
		SetResult(&result).
		Post("/api/v1/conversations")
	if err := check("create conversation", resp, err); err != nil {
		return nil, err
	}
	return &result.Conversation, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var result struct {
		Messages []models.Message `json:"messages"`
	}
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(conversationID, 10)).
		SetResult(&result).
		Get("/api/v1/conversations/{id}/messages")
	if err := check("load messages", resp, err); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, input chat.SendInput) (*models.Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	body := struct {
		Content       string                  `json:"content"`
		AttachmentURL *string                 `json:"attachment_url,omitempty"`
		Metadata      *models.MessageMetadata `json:"metadata,omitempty"`
	}{
		Content:       input.Content,
		AttachmentURL: input.AttachmentURL,
		Metadata:      input.Metadata,
	}
	var result struct {
		Message models.Message `json:"message"`
	}
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(input.ConversationID, 10)).
		SetBody(body).
		SetResult(&result).
		Post("/api/v1/conversations/{id}/messages")
	if err := check("send message", resp, err); err != nil {
		return nil, err
	}
	return &result.Message, nil
}

// MarkAsRead marks the conversation read for the token's user.
func (c *Client) MarkAsRead(ctx context.Context, conversationID, _ int64) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(conversationID, 10)).
		Post("/api/v1/conversations/{id}/read")
	return check("mark as read", resp, err)
}

// Upload implements chat.AttachmentUploader through the attachments endpoint.
func (c *Client) Upload(ctx context.Context, f *attachment.File, conversationID int64) (*attachment.Uploaded, error) {
	if err := attachment.ValidateFile(f); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrValidation, err)
	}
	if f.Body == nil {
		return nil, fmt.Errorf("%w: attachment has no content", chat.ErrValidation)
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind attachment: %w", err)
	}

	var result struct {
		Attachment attachment.Uploaded `json:"attachment"`
	}
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(conversationID, 10)).
		SetMultipartField("file", f.Name, attachment.MediaType(f.ContentType), f.Body).
		SetResult(&result).
		Post("/api/v1/conversations/{id}/attachments")
	if err := check("upload attachment", resp, err); err != nil {
		return nil, err
	}
	return &result.Attachment, nil
}

// GetBooking implements chat.BookingLookup.
func (c *Client) GetBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	var result struct {
		Booking models.Booking `json:"booking"`
	}
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(bookingID, 10)).
		SetResult(&result).
		Get("/api/v1/bookings/{id}")
	if err := check("fetch booking", resp, err); err != nil {
		return nil, err
	}
	return &result.Booking, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	q := u.Query()
	q.Set("token", c.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// check turns a transport failure or an error status into a chat sentinel.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, chat.ErrNetwork, err)
	}
	if !resp.IsError() {
		return nil
	}

	message := resp.Status()
	var body apiError
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		message = body.Error
	}
	return fmt.Errorf("%s: %w: %s", op, statusError(resp.StatusCode()), message)
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return chat.ErrNotAuthenticated
	case http.StatusForbidden:
		return chat.ErrForbidden
	case http.StatusNotFound:
		return chat.ErrNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return chat.ErrValidation
	default:
		return chat.ErrNetwork
	}
}
