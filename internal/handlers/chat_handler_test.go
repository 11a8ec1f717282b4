package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
	chatws "github.com/yuhueng/petbnb-pwa-sub001/internal/websocket"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type stubChatService struct {
	conversationsResult []models.ConversationSummary
	conversationsErr    error
	createResult        *models.Conversation
	createErr           error
	messagesResult      []models.Message
	messagesErr         error
	sendErr             error
	markResult          int64
	markErr             error
	uploadResult        *attachment.Uploaded
	uploadErr           error
	lastActorID         int64
	lastRole            models.Role
	lastSitterID        int64
	lastConversationID  int64
	lastSendInput       services.SendMessageInput
	lastUpload          *attachment.File
}

func (s *stubChatService) ListConversations(_ context.Context, actorID int64, role models.Role) ([]models.ConversationSummary, error) {
	s.lastActorID = actorID
	s.lastRole = role
	return s.conversationsResult, s.conversationsErr
}

func (s *stubChatService) CreateConversation(_ context.Context, actorID int64, sitterID int64) (*models.Conversation, error) {
	s.lastActorID = actorID
	s.lastSitterID = sitterID
	return s.createResult, s.createErr
}

func (s *stubChatService) ConversationForParticipant(_ context.Context, actorID int64, conversationID int64) (*models.Conversation, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	return s.createResult, s.createErr
}

func (s *stubChatService) ListMessages(_ context.Context, actorID int64, conversationID int64) ([]models.Message, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	return s.messagesResult, s.messagesErr
}

func (s *stubChatService) SendMessage(_ context.Context, actorID int64, input services.SendMessageInput) (*services.ChatDelivery, error) {
	s.lastActorID = actorID
	s.lastSendInput = input
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &services.ChatDelivery{
		Message: &models.Message{
			ID:             77,
			ConversationID: input.ConversationID,
			SenderID:       actorID,
			Content:        input.Content,
			AttachmentURL:  input.AttachmentURL,
			Metadata:       input.Metadata,
			CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}, nil
}

func (s *stubChatService) MarkAsRead(_ context.Context, actorID int64, conversationID int64) (int64, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	return s.markResult, s.markErr
}

func (s *stubChatService) UploadAttachment(_ context.Context, actorID int64, conversationID int64, file *attachment.File) (*attachment.Uploaded, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	s.lastUpload = file
	return s.uploadResult, s.uploadErr
}

// newActorApp returns an app whose requests carry the given token claims.
func newActorApp(role string, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	return app
}

func newTestChatHandler(service *stubChatService) *ChatHandler {
	return NewChatHandler(service, chatws.NewHub(nil, zerolog.Nop()), "secret", 0, zerolog.Nop())
}

func multipartBody(t *testing.T, field string, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("WriteField %s: %v", name, err)
		}
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("part.Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestListConversationsForwardsRoleFilter(t *testing.T) {
	service := &stubChatService{
		conversationsResult: []models.ConversationSummary{
			{
				Conversation:     models.Conversation{ID: 17, OwnerID: 42, SitterID: 8},
				OtherParticipant: models.Participant{ID: 8, Name: "Sam"},
				LastMessage: &models.Message{
					ID:             3,
					ConversationID: 17,
					SenderID:       8,
					Content:        "See you tomorrow",
					CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				},
				UnreadCount: 2,
			},
		},
	}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Get("/api/v1/conversations", handler.ListConversations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations?role=owner", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastActorID != 42 || service.lastRole != models.RoleOwner {
		t.Fatalf("unexpected actor context: %d %q", service.lastActorID, service.lastRole)
	}

	var body struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.Conversations[0].UnreadCount != 2 {
		t.Fatalf("unexpected response: %+v", body.Conversations)
	}
	if body.Conversations[0].OtherParticipant.Name != "Sam" {
		t.Fatalf("expected other participant, got %+v", body.Conversations[0].OtherParticipant)
	}
}

func TestListConversationsWithoutFilterReturnsEmptyArray(t *testing.T) {
	service := &stubChatService{}
	handler := newTestChatHandler(service)

	app := newActorApp("sitter", "8")
	app.Get("/api/v1/conversations", handler.ListConversations)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if service.lastRole != "" {
		t.Fatalf("expected no role filter, got %q", service.lastRole)
	}
	if !strings.Contains(string(raw), `"conversations":[]`) {
		t.Fatalf("expected empty array, got %s", raw)
	}
}

func TestListConversationsRejectsUnknownRole(t *testing.T) {
	handler := newTestChatHandler(&stubChatService{})

	app := newActorApp("owner", "42")
	app.Get("/api/v1/conversations", handler.ListConversations)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations?role=coach", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateConversationReturnsCreatedConversation(t *testing.T) {
	service := &stubChatService{
		createResult: &models.Conversation{ID: 9, OwnerID: 42, SitterID: 7},
	}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations", handler.CreateConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"sitter_id":7}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastSitterID != 7 {
		t.Fatalf("expected sitter id 7, got %d", service.lastSitterID)
	}
}

func TestCreateConversationMapsUnknownSitter(t *testing.T) {
	service := &stubChatService{createErr: services.ErrSitterNotFound}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations", handler.CreateConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"sitter_id":404}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetMessagesReturnsHistory(t *testing.T) {
	service := &stubChatService{
		messagesResult: []models.Message{
			{ID: 5, ConversationID: 11, SenderID: 7, Content: "Hi", CreatedAt: time.Now().UTC()},
			{ID: 6, ConversationID: 11, SenderID: 42, Content: "Hello", CreatedAt: time.Now().UTC()},
		},
	}
	handler := newTestChatHandler(service)

	app := newActorApp("sitter", "7")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 11 || service.lastActorID != 7 {
		t.Fatalf("unexpected forwarded ids: conversation=%d actor=%d", service.lastConversationID, service.lastActorID)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].ID != 5 {
		t.Fatalf("unexpected response body: %+v", body.Messages)
	}
}

func TestGetMessagesReturnsNotFound(t *testing.T) {
	service := &stubChatService{messagesErr: services.ErrNotFound}
	handler := newTestChatHandler(service)

	app := newActorApp("sitter", "7")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/99/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetMessagesRejectsInvalidConversationID(t *testing.T) {
	service := &stubChatService{}
	handler := newTestChatHandler(service)

	app := newActorApp("sitter", "7")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 0 {
		t.Fatalf("service should not be called, got conversation %d", service.lastConversationID)
	}
}

func TestSendMessageCarriesTextAndAttachmentTogether(t *testing.T) {
	service := &stubChatService{}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/messages", strings.NewReader(`{
		"content": "Rex after his walk",
		"attachment_url": "https://cdn.example/chat/11/rex.png",
		"metadata": {"type": "file_attachment", "fileName": "rex.png", "fileSize": 2048, "isImage": true}
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	input := service.lastSendInput
	if input.ConversationID != 11 || input.Content != "Rex after his walk" {
		t.Fatalf("unexpected send input: %+v", input)
	}
	if input.AttachmentURL == nil || input.Metadata == nil || input.Metadata.File == nil || !input.Metadata.File.IsImage {
		t.Fatalf("attachment did not travel with the text: %+v", input)
	}

	var body struct {
		Message models.Message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Message.ID != 77 || body.Message.SenderID != 42 {
		t.Fatalf("unexpected message: %+v", body.Message)
	}
}

func TestSendMessageRejectsClientBookingRequests(t *testing.T) {
	service := &stubChatService{}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/messages", strings.NewReader(`{
		"content": "fake booking",
		"metadata": {"type": "booking_request", "bookingId": 3}
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastActorID != 0 {
		t.Fatal("service should not be called")
	}
}

func TestSendMessageMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "empty", err: services.ErrInvalidInput, status: http.StatusBadRequest},
		{name: "not participant", err: services.ErrForbidden, status: http.StatusForbidden},
		{name: "unexpected", err: io.ErrUnexpectedEOF, status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestChatHandler(&stubChatService{sendErr: tc.err})
			app := newActorApp("owner", "42")
			app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/messages", strings.NewReader(`{"content":"  "}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestMarkAsReadReturnsUpdatedCount(t *testing.T) {
	service := &stubChatService{markResult: 3}
	handler := newTestChatHandler(service)

	app := newActorApp("sitter", "7")
	app.Post("/api/v1/conversations/:id/read", handler.MarkAsRead)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.Updated != 3 {
		t.Fatalf("unexpected response: %d %+v", resp.StatusCode, body)
	}
}

func TestUploadAttachmentSniffsMultipartFile(t *testing.T) {
	service := &stubChatService{
		uploadResult: &attachment.Uploaded{
			URL:      "https://cdn.example/chat/11/01HX.png",
			Metadata: models.FileAttachment{FileName: "rex.png", FileSize: int64(len(pngHeader)), IsImage: true},
		},
	}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations/:id/attachments", handler.UploadAttachment)

	body, contentType := multipartBody(t, "file", "rex.png", pngHeader, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/attachments", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastUpload == nil || service.lastUpload.ContentType != "image/png" {
		t.Fatalf("expected sniffed png, got %+v", service.lastUpload)
	}
	if service.lastUpload.Size != int64(len(pngHeader)) || service.lastConversationID != 11 {
		t.Fatalf("unexpected upload forwarding: %+v conversation=%d", service.lastUpload, service.lastConversationID)
	}

	var decoded struct {
		Attachment attachment.Uploaded `json:"attachment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.Attachment.Metadata.IsImage || decoded.Attachment.URL == "" {
		t.Fatalf("unexpected attachment: %+v", decoded.Attachment)
	}
}

func TestUploadAttachmentMapsValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "too large", err: attachment.ErrFileTooLarge, status: http.StatusRequestEntityTooLarge},
		{name: "unsupported", err: attachment.ErrUnsupportedType, status: http.StatusBadRequest},
		{name: "no storage", err: services.ErrStorageUnavailable, status: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestChatHandler(&stubChatService{uploadErr: tc.err})
			app := newActorApp("owner", "42")
			app.Post("/api/v1/conversations/:id/attachments", handler.UploadAttachment)

			body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello"), nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/attachments", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestUploadAttachmentRequiresFile(t *testing.T) {
	service := &stubChatService{}
	handler := newTestChatHandler(service)

	app := newActorApp("owner", "42")
	app.Post("/api/v1/conversations/:id/attachments", handler.UploadAttachment)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/11/attachments", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastUpload != nil {
		t.Fatal("service should not be called")
	}
}

func TestWebSocketAuthRequiresUpgrade(t *testing.T) {
	handler := newTestChatHandler(&stubChatService{})

	app := fiber.New()
	app.Get("/api/v1/ws", handler.WebSocketAuth, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=abc", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}
