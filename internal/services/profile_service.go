package services

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
)

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Profile, error)
	UpdatePartial(ctx context.Context, userID int64, input repository.UpdateProfileInput) (*models.Profile, error)
	UpdateAvatar(ctx context.Context, userID int64, avatarURL string) (*models.Profile, error)
}

type ProfileService struct {
	profileRepo    ProfileStore
	storageService StorageService
	log            zerolog.Logger
}

func NewProfileService(profileRepo ProfileStore, storageService StorageService, log zerolog.Logger) *ProfileService {
	return &ProfileService{
		profileRepo:    profileRepo,
		storageService: storageService,
		log:            log.With().Str("component", "profile_service").Logger(),
	}
}

func (s *ProfileService) GetProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	profile, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return profile, nil
}

func (s *ProfileService) UpdateProfile(ctx context.Context, userID int64, input repository.UpdateProfileInput) (*models.Profile, error) {
	if input.HourlyRate != nil && *input.HourlyRate < 0 {
		return nil, ErrInvalidInput
	}
	profile, err := s.profileRepo.UpdatePartial(ctx, userID, input)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return profile, nil
}

// UploadAvatar stores a new image and points the profile at it. The previous
// avatar is removed best-effort.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID int64, file *attachment.File) (*models.Profile, error) {
	if s.storageService == nil {
		return nil, ErrStorageUnavailable
	}
	if file == nil || file.Body == nil {
		return nil, ErrInvalidInput
	}
	if err := attachment.ValidateFile(file); err != nil {
		return nil, err
	}
	if !attachment.IsImageType(file.ContentType) {
		return nil, attachment.ErrUnsupportedType
	}

	current, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := file.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind avatar: %w", err)
	}
	avatarURL, err := s.storageService.UploadFile(
		ctx,
		file.Body,
		file.Size,
		attachment.MediaType(file.ContentType),
		attachment.NewObjectName(file),
		fmt.Sprintf("avatars/%d", userID),
	)
	if err != nil {
		return nil, err
	}

	updated, err := s.profileRepo.UpdateAvatar(ctx, userID, avatarURL)
	if err != nil {
		if cleanupErr := s.storageService.DeleteFile(ctx, avatarURL); cleanupErr != nil {
			s.log.Warn().Err(cleanupErr).Str("url", avatarURL).Msg("avatar cleanup failed")
		}
		return nil, err
	}

	if current.AvatarURL != nil && *current.AvatarURL != "" && *current.AvatarURL != avatarURL {
		if err := s.storageService.DeleteFile(ctx, *current.AvatarURL); err != nil {
			s.log.Warn().Err(err).Str("url", *current.AvatarURL).Msg("old avatar cleanup failed")
		}
	}

	return updated, nil
}
