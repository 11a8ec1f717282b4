package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/middleware"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
	chatws "github.com/yuhueng/petbnb-pwa-sub001/internal/websocket"
	"github.com/yuhueng/petbnb-pwa-sub001/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, role models.Role) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, actorID int64, sitterID int64) (*models.Conversation, error)
	ConversationForParticipant(ctx context.Context, actorID int64, conversationID int64) (*models.Conversation, error)
	ListMessages(ctx context.Context, actorID int64, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, actorID int64, input services.SendMessageInput) (*services.ChatDelivery, error)
	MarkAsRead(ctx context.Context, actorID int64, conversationID int64) (int64, error)
	UploadAttachment(ctx context.Context, actorID int64, conversationID int64, file *attachment.File) (*attachment.Uploaded, error)
}

type ChatHandler struct {
	service            chatApplicationService
	hub                *chatws.Hub
	jwtSecret          string
	maxAttachmentBytes int64
	log                zerolog.Logger
}

type createConversationRequest struct {
	SitterID int64 `json:"sitter_id"`
}

type sendMessageRequest struct {
	Content       string                  `json:"content"`
	AttachmentURL *string                 `json:"attachment_url"`
	Metadata      *models.MessageMetadata `json:"metadata"`
}

func NewChatHandler(
	service chatApplicationService,
	hub *chatws.Hub,
	jwtSecret string,
	maxAttachmentBytes int64,
	log zerolog.Logger,
) *ChatHandler {
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = attachment.MaxFileSize
	}
	return &ChatHandler{
		service:            service,
		hub:                hub,
		jwtSecret:          jwtSecret,
		maxAttachmentBytes: maxAttachmentBytes,
		log:                log.With().Str("component", "chat_handler").Logger(),
	}
}

// ListConversations returns the caller's conversations. ?role=owner|sitter
// narrows them to the side the caller is on.
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	role := models.Role(strings.TrimSpace(c.Query("role")))
	if role != "" && !role.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "role must be owner or sitter"})
	}

	conversations, err := h.service.ListConversations(c.Context(), userID, role)
	if err != nil {
		return mapChatError(c, err)
	}
	if conversations == nil {
		conversations = []models.ConversationSummary{}
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.SitterID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sitter_id must be a positive integer"})
	}

	conversation, err := h.service.CreateConversation(c.Context(), userID, req.SitterID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, conversationID, status, msg := parseConversationRequest(c)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	messages, err := h.service.ListMessages(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, conversationID, status, msg := parseConversationRequest(c)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Metadata != nil && req.Metadata.Kind == models.MetadataBookingRequest {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"error": "booking requests are created through /bookings"})
	}

	delivery, err := h.service.SendMessage(c.Context(), userID, services.SendMessageInput{
		ConversationID: conversationID,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, conversationID, status, msg := parseConversationRequest(c)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	updated, err := h.service.MarkAsRead(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

// UploadAttachment stores a multipart "file" for the conversation and returns
// the URL plus file metadata to send with the next message.
func (h *ChatHandler) UploadAttachment(c *fiber.Ctx) error {
	userID, conversationID, status, msg := parseConversationRequest(c)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	file, status, msg := readFormAttachment(c, "file", h.maxAttachmentBytes)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	uploaded, err := h.service.UploadAttachment(c.Context(), userID, conversationID, file)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attachment": uploaded})
}

// parseConversationRequest reads the caller and the :id route parameter. A
// non-empty message means the request should be rejected with status.
func parseConversationRequest(c *fiber.Ctx) (int64, int64, int, string) {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return 0, 0, fiber.StatusUnauthorized, "Invalid token"
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return 0, 0, fiber.StatusBadRequest, "Invalid conversation id"
	}
	return userID, conversationID, 0, ""
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDStr, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := chatws.NewClient(h.hub, conn, userID, h.service, h.log)
	go client.WritePump()
	client.ReadPump(ctx)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		if bearer, ok := middleware.BearerToken(c.Get("Authorization")); ok {
			tokenString = bearer
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrSitterNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Sitter not found"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, attachment.ErrFileTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, attachment.ErrInvalidFile):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage service is not configured"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
