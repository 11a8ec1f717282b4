package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
)

type certificationStore interface {
	Create(ctx context.Context, input repository.CreateCertificationInput) (*models.Certification, error)
	ListBySitterID(ctx context.Context, sitterID int64) ([]models.Certification, error)
	GetByID(ctx context.Context, certificationID int64) (*models.Certification, error)
}

type CertificationService struct {
	certificationRepo certificationStore
	userRepo          userReader
	storageService    StorageService
}

type CreateCertificationInput struct {
	Title  string
	Issuer *string
	File   *attachment.File
}

func NewCertificationService(
	certificationRepo certificationStore,
	userRepo userReader,
	storageService StorageService,
) *CertificationService {
	return &CertificationService{
		certificationRepo: certificationRepo,
		userRepo:          userRepo,
		storageService:    storageService,
	}
}

// CreateCertification uploads a sitter's certificate and records it. The
// upload is removed again when the insert fails.
func (s *CertificationService) CreateCertification(
	ctx context.Context,
	sitterID int64,
	role models.Role,
	input CreateCertificationInput,
) (*models.Certification, error) {
	if s.storageService == nil {
		return nil, ErrStorageUnavailable
	}
	if role != models.RoleSitter {
		return nil, ErrForbidden
	}
	if sitterID <= 0 || input.File == nil || input.File.Body == nil {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrInvalidInput
	}

	var issuer *string
	if input.Issuer != nil {
		trimmed := strings.TrimSpace(*input.Issuer)
		if trimmed != "" {
			issuer = &trimmed
		}
	}

	if err := attachment.ValidateFile(input.File); err != nil {
		return nil, err
	}
	if _, err := input.File.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind certification: %w", err)
	}

	fileURL, err := s.storageService.UploadFile(
		ctx,
		input.File.Body,
		input.File.Size,
		attachment.MediaType(input.File.ContentType),
		attachment.NewObjectName(input.File),
		fmt.Sprintf("certifications/%d", sitterID),
	)
	if err != nil {
		return nil, err
	}

	cert, err := s.certificationRepo.Create(ctx, repository.CreateCertificationInput{
		SitterID: sitterID,
		Title:    title,
		Issuer:   issuer,
		FileURL:  fileURL,
	})
	if err != nil {
		cleanupErr := s.storageService.DeleteFile(ctx, fileURL)
		if cleanupErr != nil {
			return nil, errors.Join(err, fmt.Errorf("cleanup failed: %w", cleanupErr))
		}
		return nil, err
	}

	return cert, nil
}

func (s *CertificationService) ListForSitter(ctx context.Context, sitterID int64) ([]models.Certification, error) {
	if sitterID <= 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.userRepo.GetByID(ctx, sitterID); err != nil {
		if isNoRows(err) {
			return nil, ErrSitterNotFound
		}
		return nil, err
	}
	return s.certificationRepo.ListBySitterID(ctx, sitterID)
}

// GetDownloadURL returns a short-lived link to the certificate file. Any
// signed-in user may view a sitter's certificates.
func (s *CertificationService) GetDownloadURL(ctx context.Context, certificationID int64) (string, error) {
	if s.storageService == nil {
		return "", ErrStorageUnavailable
	}
	cert, err := s.certificationRepo.GetByID(ctx, certificationID)
	if err != nil {
		if isNoRows(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.storageService.GetSignedURL(ctx, cert.FileURL)
}
