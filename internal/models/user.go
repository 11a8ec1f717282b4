package models

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleSitter Role = "sitter"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleSitter
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Profile struct {
	UserID     int64     `json:"user_id"`
	FullName   *string   `json:"full_name"`
	AvatarURL  *string   `json:"avatar_url"`
	Bio        *string   `json:"bio"`
	City       *string   `json:"city"`
	HourlyRate *float64  `json:"hourly_rate"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Participant is the denormalized view of the other side of a conversation.
type Participant struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
