package handlers

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

const maxAvatarSizeBytes = 5 * 1024 * 1024

type profileApplicationService interface {
	GetProfile(ctx context.Context, userID int64) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID int64, input repository.UpdateProfileInput) (*models.Profile, error)
	UploadAvatar(ctx context.Context, userID int64, file *attachment.File) (*models.Profile, error)
}

type ProfileHandler struct {
	service profileApplicationService
}

func NewProfileHandler(service profileApplicationService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type updateProfileRequest struct {
	FullName   *string  `json:"full_name"`
	Bio        *string  `json:"bio"`
	City       *string  `json:"city"`
	HourlyRate *float64 `json:"hourly_rate"`
}

func (h *ProfileHandler) GetMyProfile(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	profile, err := h.service.GetProfile(c.Context(), userID)
	if err != nil {
		return mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

// GetProfile is the public view of another user, used for chat headers and
// sitter pages.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	if _, err := parseProfileUserID(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	userID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	profile, err := h.service.GetProfile(c.Context(), userID)
	if err != nil {
		return mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateUpdateProfileRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	profile, err := h.service.UpdateProfile(c.Context(), userID, repository.UpdateProfileInput{
		FullName:   trimOptional(req.FullName),
		Bio:        trimOptional(req.Bio),
		City:       trimOptional(req.City),
		HourlyRate: req.HourlyRate,
	})
	if err != nil {
		return mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *ProfileHandler) UploadAvatar(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	file, status, msg := readFormAttachment(c, "avatar", maxAvatarSizeBytes)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	profile, err := h.service.UploadAvatar(c.Context(), userID, file)
	if err != nil {
		return mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{
		"avatar_url": profile.AvatarURL,
		"profile":    profile,
	})
}

func mapProfileError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, attachment.ErrFileTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, attachment.ErrInvalidFile):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "avatar must be a png, jpeg, gif, or webp image"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage service is not configured"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process profile request"})
	}
}

// readFormAttachment loads a multipart file into memory so it can be sniffed
// and uploaded. A non-empty message means the request should be rejected
// with the returned status.
func readFormAttachment(c *fiber.Ctx, field string, maxBytes int64) (*attachment.File, int, string) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, fiber.StatusBadRequest, field + " file is required"
	}
	if fileHeader.Size > maxBytes {
		return nil, fiber.StatusRequestEntityTooLarge, field + " file is too large"
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fiber.StatusInternalServerError, "Failed to open " + field + " file"
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fiber.StatusInternalServerError, "Failed to read " + field + " file"
	}
	if int64(len(data)) > maxBytes {
		return nil, fiber.StatusRequestEntityTooLarge, field + " file is too large"
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if attachment.MediaType(contentType) == "application/octet-stream" {
		contentType = ""
	}
	return attachment.FromBytes(fileHeader.Filename, contentType, data), 0, ""
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func parseProfileUserID(c *fiber.Ctx) (int64, error) {
	userIDValue := c.Locals("user_id")
	userIDStr, ok := userIDValue.(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}

// parseActorRole returns the active role carried by the token.
func parseActorRole(c *fiber.Ctx) (models.Role, bool) {
	role, ok := c.Locals("role").(string)
	if !ok {
		return "", false
	}
	parsed := models.Role(role)
	return parsed, parsed.Valid()
}
