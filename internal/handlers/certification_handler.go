package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

const signedURLTTLSeconds = 3600

type certificationApplicationService interface {
	CreateCertification(ctx context.Context, sitterID int64, role models.Role, input services.CreateCertificationInput) (*models.Certification, error)
	ListForSitter(ctx context.Context, sitterID int64) ([]models.Certification, error)
	GetDownloadURL(ctx context.Context, certificationID int64) (string, error)
}

type CertificationHandler struct {
	service certificationApplicationService
}

// certificationResponse leaves out the storage URL; files are fetched through
// a signed download link.
type certificationResponse struct {
	ID        int64     `json:"id"`
	SitterID  int64     `json:"sitter_id"`
	Title     string    `json:"title"`
	Issuer    *string   `json:"issuer"`
	CreatedAt time.Time `json:"created_at"`
}

func NewCertificationHandler(service certificationApplicationService) *CertificationHandler {
	return &CertificationHandler{service: service}
}

func (h *CertificationHandler) CreateCertification(c *fiber.Ctx) error {
	role, ok := parseActorRole(c)
	if !ok || role != models.RoleSitter {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	sitterID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
	}

	var issuer *string
	if rawIssuer := strings.TrimSpace(c.FormValue("issuer")); rawIssuer != "" {
		issuer = &rawIssuer
	}

	file, status, msg := readFormAttachment(c, "file", attachment.MaxFileSize)
	if msg != "" {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	cert, err := h.service.CreateCertification(c.Context(), sitterID, role, services.CreateCertificationInput{
		Title:  title,
		Issuer: issuer,
		File:   file,
	})
	if err != nil {
		return mapCertificationError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"certification": newCertificationResponse(cert)})
}

func (h *CertificationHandler) ListMine(c *fiber.Ctx) error {
	sitterID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	return h.list(c, sitterID)
}

func (h *CertificationHandler) ListForSitter(c *fiber.Ctx) error {
	if _, err := parseProfileUserID(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sitterID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sitterID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid sitter id"})
	}
	return h.list(c, sitterID)
}

func (h *CertificationHandler) list(c *fiber.Ctx, sitterID int64) error {
	certs, err := h.service.ListForSitter(c.Context(), sitterID)
	if err != nil {
		return mapCertificationError(c, err)
	}

	responses := make([]certificationResponse, 0, len(certs))
	for i := range certs {
		responses = append(responses, *newCertificationResponse(&certs[i]))
	}
	return c.JSON(fiber.Map{"certifications": responses})
}

func (h *CertificationHandler) Download(c *fiber.Ctx) error {
	if _, err := parseProfileUserID(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	certID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || certID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid certification id"})
	}

	signedURL, err := h.service.GetDownloadURL(c.Context(), certID)
	if err != nil {
		return mapCertificationError(c, err)
	}

	return c.JSON(fiber.Map{"download_url": signedURL, "expires_in_seconds": signedURLTTLSeconds})
}

func mapCertificationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, attachment.ErrFileTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, attachment.ErrInvalidFile):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(fiber.Map{"error": "Storage service is not configured"})
	case errors.Is(err, services.ErrSitterNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Sitter not found"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Certification not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to process certification request"})
	}
}

func newCertificationResponse(cert *models.Certification) *certificationResponse {
	if cert == nil {
		return nil
	}
	return &certificationResponse{
		ID:        cert.ID,
		SitterID:  cert.SitterID,
		Title:     cert.Title,
		Issuer:    cert.Issuer,
		CreatedAt: cert.CreatedAt,
	}
}
