package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type CreateBookingInput struct {
	OwnerID    int64
	SitterID   int64
	StartAt    time.Time
	EndAt      time.Time
	Notes      *string
	TotalPrice float64
}

type BookingListFilter struct {
	ActorID   int64
	Role      models.Role
	Status    string
	Timeframe string
	Limit     int
	Offset    int
}

type BookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, owner_id, sitter_id, start_at, end_at, status, notes, total_price, created_at, updated_at`

func (r *BookingRepository) Create(ctx context.Context, input CreateBookingInput) (*models.Booking, error) {
	query := `
		INSERT INTO bookings (owner_id, sitter_id, start_at, end_at, status, notes, total_price)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING ` + bookingColumns
	return scanBooking(r.db.QueryRow(
		ctx,
		query,
		input.OwnerID,
		input.SitterID,
		input.StartAt,
		input.EndAt,
		input.Notes,
		input.TotalPrice,
	))
}

func (r *BookingRepository) GetByID(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
}

func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
}

func (r *BookingRepository) List(ctx context.Context, filter BookingListFilter) ([]models.Booking, int, error) {
	actorColumn := "owner_id"
	if filter.Role == models.RoleSitter {
		actorColumn = "sitter_id"
	}

	args := []any{filter.ActorID}
	whereParts := []string{fmt.Sprintf("%s = $1", actorColumn)}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	switch strings.TrimSpace(filter.Timeframe) {
	case "upcoming":
		whereParts = append(whereParts, "end_at > NOW()")
	case "past":
		whereParts = append(whereParts, "end_at <= NOW()")
	}
	where := strings.Join(whereParts, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM bookings
		WHERE %s
		ORDER BY start_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, bookingColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	bookings := make([]models.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, *booking)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return bookings, total, nil
}

func (r *BookingRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	bookingID int64,
	currentStatus string,
	nextStatus string,
) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + bookingColumns
	return scanBooking(r.db.QueryRow(ctx, query, bookingID, currentStatus, nextStatus))
}

// HasConflict reports whether the sitter already holds an accepted stay that
// overlaps [startAt, endAt).
func (r *BookingRepository) HasConflict(
	ctx context.Context,
	sitterID int64,
	startAt time.Time,
	endAt time.Time,
	excludedBookingID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM bookings
			WHERE sitter_id = $1
			  AND id <> $4
			  AND status = 'accepted'
			  AND start_at < $3
			  AND end_at > $2
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, sitterID, startAt, endAt, excludedBookingID).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var booking models.Booking
	err := row.Scan(
		&booking.ID,
		&booking.OwnerID,
		&booking.SitterID,
		&booking.StartAt,
		&booking.EndAt,
		&booking.Status,
		&booking.Notes,
		&booking.TotalPrice,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}
