package models

import "time"

const (
	BookingPending   = "pending"
	BookingAccepted  = "accepted"
	BookingDeclined  = "declined"
	BookingCancelled = "cancelled"
	BookingCompleted = "completed"
)

type Booking struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"owner_id"`
	SitterID   int64     `json:"sitter_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Status     string    `json:"status"`
	Notes      *string   `json:"notes"`
	TotalPrice float64   `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BookingRequest is returned when an owner asks a sitter for a stay: the booking
// row plus the conversation and chat message that carry it.
type BookingRequest struct {
	Booking      *Booking      `json:"booking"`
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message"`
}

type Certification struct {
	ID        int64     `json:"id"`
	SitterID  int64     `json:"sitter_id"`
	Title     string    `json:"title"`
	Issuer    *string   `json:"issuer"`
	FileURL   string    `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
