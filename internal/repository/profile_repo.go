package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type UpdateProfileInput struct {
	FullName   *string
	Bio        *string
	City       *string
	HourlyRate *float64
}

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `user_id, full_name, avatar_url, bio, city, hourly_rate, created_at, updated_at`

func (r *ProfileRepository) CreateEmpty(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *ProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	return r.scanOne(ctx, query, userID)
}

func (r *ProfileRepository) UpdatePartial(ctx context.Context, userID int64, input UpdateProfileInput) (*models.Profile, error) {
	args := []any{userID}
	setParts := make([]string, 0, 5)

	add := func(column string, value any) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if input.FullName != nil {
		add("full_name", strings.TrimSpace(*input.FullName))
	}
	if input.Bio != nil {
		add("bio", strings.TrimSpace(*input.Bio))
	}
	if input.City != nil {
		add("city", strings.TrimSpace(*input.City))
	}
	if input.HourlyRate != nil {
		add("hourly_rate", *input.HourlyRate)
	}
	if len(setParts) == 0 {
		return r.GetByUserID(ctx, userID)
	}
	setParts = append(setParts, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE profiles
		SET %s
		WHERE user_id = $1
		RETURNING %s
	`, strings.Join(setParts, ", "), profileColumns)
	return r.scanOne(ctx, query, args...)
}

func (r *ProfileRepository) UpdateAvatar(ctx context.Context, userID int64, avatarURL string) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET avatar_url = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + profileColumns
	return r.scanOne(ctx, query, userID, avatarURL)
}

func (r *ProfileRepository) scanOne(ctx context.Context, query string, args ...any) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&profile.UserID,
		&profile.FullName,
		&profile.AvatarURL,
		&profile.Bio,
		&profile.City,
		&profile.HourlyRate,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
