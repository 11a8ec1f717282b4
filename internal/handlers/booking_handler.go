package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
)

type BookingHandler struct {
	service bookingApplicationService
}

type bookingApplicationService interface {
	RequestBooking(ctx context.Context, ownerID int64, input services.RequestBookingInput) (*models.BookingRequest, error)
	ListBookings(ctx context.Context, actorID int64, filter repository.BookingListFilter) ([]models.Booking, int, error)
	GetBooking(ctx context.Context, actorID int64, bookingID int64) (*models.Booking, error)
	UpdateStatus(ctx context.Context, actorID int64, bookingID int64, requestedStatus string) (*models.Booking, error)
}

func NewBookingHandler(service bookingApplicationService) *BookingHandler {
	return &BookingHandler{service: service}
}

type requestBookingRequest struct {
	SitterID int64   `json:"sitter_id"`
	StartAt  string  `json:"start_at"`
	EndAt    string  `json:"end_at"`
	Notes    *string `json:"notes"`
}

type updateBookingStatusRequest struct {
	Status string `json:"status"`
}

// RequestBooking lets an owner ask a sitter for a stay. The response carries
// the booking and the chat message that announces it.
func (h *BookingHandler) RequestBooking(c *fiber.Ctx) error {
	role, ok := parseActorRole(c)
	if !ok || role != models.RoleOwner {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req requestBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.SitterID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sitter_id must be a positive integer"})
	}

	startAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_at must be a valid RFC3339 timestamp"})
	}
	endAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_at must be a valid RFC3339 timestamp"})
	}
	if !endAt.After(startAt) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_at must be after start_at"})
	}
	if req.Notes != nil && strings.TrimSpace(*req.Notes) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notes must not be empty"})
	}

	result, err := h.service.RequestBooking(c.Context(), userID, services.RequestBookingInput{
		SitterID: req.SitterID,
		StartAt:  startAt.UTC(),
		EndAt:    endAt.UTC(),
		Notes:    req.Notes,
	})
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// ListBookings lists the caller's bookings on one side, the active role
// unless ?role says otherwise.
func (h *BookingHandler) ListBookings(c *fiber.Ctx) error {
	role, ok := parseActorRole(c)
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role = models.Role(raw)
		if !role.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "role must be owner or sitter"})
		}
	}

	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if timeframe != "" && timeframe != "upcoming" && timeframe != "past" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "timeframe must be upcoming or past"})
	}

	page, limit := parsePage(c.Query("page"), c.Query("limit"))
	bookings, total, err := h.service.ListBookings(c.Context(), userID, repository.BookingListFilter{
		Role:      role,
		Status:    strings.TrimSpace(c.Query("status")),
		Timeframe: timeframe,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return mapBookingError(c, err)
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}

	return c.JSON(fiber.Map{
		"bookings":   bookings,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *BookingHandler) GetBooking(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	bookingID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || bookingID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid booking id"})
	}

	booking, err := h.service.GetBooking(c.Context(), userID, bookingID)
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.JSON(fiber.Map{"booking": booking})
}

func (h *BookingHandler) UpdateStatus(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	bookingID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || bookingID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid booking id"})
	}

	var req updateBookingStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	booking, err := h.service.UpdateStatus(c.Context(), userID, bookingID, req.Status)
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.JSON(fiber.Map{"booking": booking})
}

func mapBookingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidStatus):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Sitter already has an accepted booking in that window"})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrSitterNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Sitter not found"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Booking not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process booking request"})
	}
}
