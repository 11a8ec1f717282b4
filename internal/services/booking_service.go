package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/metrics"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
)

type profileReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Profile, error)
}

type bookingStore interface {
	GetByID(ctx context.Context, bookingID int64) (*models.Booking, error)
	List(ctx context.Context, filter repository.BookingListFilter) ([]models.Booking, int, error)
	UpdateStatusIfCurrent(ctx context.Context, bookingID int64, currentStatus string, nextStatus string) (*models.Booking, error)
}

type BookingService struct {
	db          txStarter
	bookingRepo bookingStore
	userRepo    userReader
	profileRepo profileReader
	publisher   Publisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

func NewBookingService(
	db txStarter,
	bookingRepo bookingStore,
	userRepo userReader,
	profileRepo profileReader,
	m *metrics.Metrics,
	log zerolog.Logger,
) *BookingService {
	if m == nil {
		m = metrics.Noop()
	}
	return &BookingService{
		db:          db,
		bookingRepo: bookingRepo,
		userRepo:    userRepo,
		profileRepo: profileRepo,
		metrics:     m,
		log:         log.With().Str("component", "booking_service").Logger(),
		now:         time.Now,
	}
}

func (s *BookingService) SetPublisher(p Publisher) {
	s.publisher = p
}

type RequestBookingInput struct {
	SitterID int64
	StartAt  time.Time
	EndAt    time.Time
	Notes    *string
}

// RequestBooking creates a pending stay and announces it in the owner/sitter
// conversation as a booking_request message, all in one transaction.
func (s *BookingService) RequestBooking(
	ctx context.Context,
	ownerID int64,
	input RequestBookingInput,
) (*models.BookingRequest, error) {
	if input.SitterID <= 0 || ownerID == input.SitterID {
		return nil, ErrInvalidInput
	}
	if !input.EndAt.After(input.StartAt) {
		return nil, ErrInvalidInput
	}
	if input.StartAt.Before(s.now().Add(-1 * time.Minute)) {
		return nil, ErrInvalidInput
	}

	var notes *string
	if input.Notes != nil {
		if trimmed := strings.TrimSpace(*input.Notes); trimmed != "" {
			notes = &trimmed
		}
	}

	if _, err := s.userRepo.GetByID(ctx, input.SitterID); err != nil {
		if isNoRows(err) {
			return nil, ErrSitterNotFound
		}
		return nil, err
	}

	price := 0.0
	profile, err := s.profileRepo.GetByUserID(ctx, input.SitterID)
	if err != nil && !isNoRows(err) {
		return nil, err
	}
	if err == nil && profile.HourlyRate != nil {
		price = quotePrice(*profile.HourlyRate, input.StartAt, input.EndAt)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txBookingRepo := repository.NewBookingRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	booking, err := txBookingRepo.Create(ctx, repository.CreateBookingInput{
		OwnerID:    ownerID,
		SitterID:   input.SitterID,
		StartAt:    input.StartAt.UTC(),
		EndAt:      input.EndAt.UTC(),
		Notes:      notes,
		TotalPrice: price,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := txConversationRepo.CreateOrGet(ctx, ownerID, input.SitterID)
	if err != nil {
		return nil, err
	}

	message, err := txMessageRepo.Create(ctx, repository.CreateMessageInput{
		ConversationID: conversation.ID,
		SenderID:       ownerID,
		Content:        bookingRequestText(booking),
		Metadata:       models.BookingRequestMeta(booking.ID),
	})
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.Touch(ctx, conversation.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.metrics.MessagesSent.WithLabelValues("booking_request").Inc()
	s.metrics.BookingTransitions.WithLabelValues(models.BookingPending).Inc()
	if s.publisher != nil {
		delivery := &ChatDelivery{Conversation: conversation, Message: message, RecipientID: input.SitterID}
		if err := s.publisher.Publish(ctx, delivery); err != nil {
			s.log.Warn().Err(err).Int64("booking_id", booking.ID).Msg("realtime publish failed")
		}
	}

	return &models.BookingRequest{
		Booking:      booking,
		Conversation: conversation,
		Message:      message,
	}, nil
}

func (s *BookingService) GetBooking(ctx context.Context, actorID int64, bookingID int64) (*models.Booking, error) {
	if bookingID <= 0 {
		return nil, ErrInvalidInput
	}
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if booking.OwnerID != actorID && booking.SitterID != actorID {
		return nil, ErrForbidden
	}
	return booking, nil
}

func (s *BookingService) ListBookings(
	ctx context.Context,
	actorID int64,
	filter repository.BookingListFilter,
) ([]models.Booking, int, error) {
	if !filter.Role.Valid() {
		return nil, 0, ErrInvalidInput
	}
	if filter.Status != "" && !isBookingStatus(filter.Status) {
		return nil, 0, ErrInvalidStatus
	}
	switch filter.Timeframe {
	case "", "upcoming", "past":
	default:
		return nil, 0, ErrInvalidInput
	}
	filter.ActorID = actorID
	return s.bookingRepo.List(ctx, filter)
}

// UpdateStatus applies a transition requested by either side. Accepting takes
// a per-sitter advisory lock so two overlapping stays cannot both be accepted.
func (s *BookingService) UpdateStatus(
	ctx context.Context,
	actorID int64,
	bookingID int64,
	requestedStatus string,
) (*models.Booking, error) {
	nextStatus, err := normalizeRequestedStatus(requestedStatus)
	if err != nil {
		return nil, err
	}

	booking, err := s.GetBooking(ctx, actorID, bookingID)
	if err != nil {
		return nil, err
	}
	if err := validateStatusTransition(actorID, booking, nextStatus, s.now()); err != nil {
		return nil, err
	}

	var updated *models.Booking
	if nextStatus == models.BookingAccepted {
		updated, err = s.accept(ctx, booking)
	} else {
		updated, err = s.bookingRepo.UpdateStatusIfCurrent(ctx, bookingID, booking.Status, nextStatus)
	}
	if err != nil {
		if isNoRows(err) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	s.metrics.BookingTransitions.WithLabelValues(nextStatus).Inc()
	return updated, nil
}

func (s *BookingService) accept(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", booking.SitterID); err != nil {
		return nil, err
	}

	txBookingRepo := repository.NewBookingRepository(tx)
	current, err := txBookingRepo.GetByIDForUpdate(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.BookingPending {
		return nil, ErrInvalidStateTransition
	}

	hasConflict, err := txBookingRepo.HasConflict(ctx, current.SitterID, current.StartAt, current.EndAt, current.ID)
	if err != nil {
		return nil, err
	}
	if hasConflict {
		return nil, ErrConflict
	}

	updated, err := txBookingRepo.UpdateStatusIfCurrent(ctx, current.ID, models.BookingPending, models.BookingAccepted)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func normalizeRequestedStatus(status string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "accept", "accepted":
		return models.BookingAccepted, nil
	case "decline", "declined":
		return models.BookingDeclined, nil
	case "complete", "completed":
		return models.BookingCompleted, nil
	case "cancel", "cancelled", "canceled":
		return models.BookingCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

func isBookingStatus(status string) bool {
	switch status {
	case models.BookingPending, models.BookingAccepted, models.BookingDeclined,
		models.BookingCancelled, models.BookingCompleted:
		return true
	}
	return false
}

// validateStatusTransition decides by which side of the booking the actor is
// on, not by their active role.
func validateStatusTransition(actorID int64, booking *models.Booking, nextStatus string, now time.Time) error {
	switch actorID {
	case booking.SitterID:
		switch nextStatus {
		case models.BookingAccepted, models.BookingDeclined:
			if booking.Status != models.BookingPending {
				return ErrInvalidStateTransition
			}
		case models.BookingCompleted:
			if booking.Status != models.BookingAccepted {
				return ErrInvalidStateTransition
			}
			if booking.EndAt.After(now.UTC()) {
				return ErrInvalidStateTransition
			}
		default:
			return ErrForbidden
		}
		return nil
	case booking.OwnerID:
		if nextStatus != models.BookingCancelled {
			return ErrForbidden
		}
		if booking.Status != models.BookingPending && booking.Status != models.BookingAccepted {
			return ErrInvalidStateTransition
		}
		return nil
	default:
		return ErrForbidden
	}
}

// quotePrice charges whole started hours at the sitter's hourly rate.
func quotePrice(hourlyRate float64, startAt time.Time, endAt time.Time) float64 {
	hours := math.Ceil(endAt.Sub(startAt).Hours())
	return math.Round(hourlyRate*hours*100) / 100
}

func bookingRequestText(booking *models.Booking) string {
	return fmt.Sprintf(
		"Booking request: %s to %s",
		booking.StartAt.UTC().Format("Jan 2, 2006 3:04 PM"),
		booking.EndAt.UTC().Format("Jan 2, 2006 3:04 PM"),
	)
}
