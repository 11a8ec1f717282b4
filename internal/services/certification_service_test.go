package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
)

type stubCertificationRepo struct {
	createResult *models.Certification
	createErr    error
	listResult   []models.Certification
	getResult    *models.Certification
	lastCreate   repository.CreateCertificationInput
}

func (r *stubCertificationRepo) Create(_ context.Context, input repository.CreateCertificationInput) (*models.Certification, error) {
	r.lastCreate = input
	return r.createResult, r.createErr
}

func (r *stubCertificationRepo) ListBySitterID(_ context.Context, _ int64) ([]models.Certification, error) {
	return r.listResult, nil
}

func (r *stubCertificationRepo) GetByID(_ context.Context, id int64) (*models.Certification, error) {
	if r.getResult == nil || r.getResult.ID != id {
		return nil, pgx.ErrNoRows
	}
	return r.getResult, nil
}

type stubStorage struct {
	uploadURL      string
	uploadErr      error
	signedURL      string
	deleteErr      error
	lastBody       string
	lastType       string
	lastFilename   string
	lastFolder     string
	deletedURLs    []string
	lastSignedFrom string
}

func (s *stubStorage) UploadFile(_ context.Context, body io.Reader, _ int64, contentType string, filename string, folder string) (string, error) {
	data, _ := io.ReadAll(body)
	s.lastBody = string(data)
	s.lastType = contentType
	s.lastFilename = filename
	s.lastFolder = folder
	return s.uploadURL, s.uploadErr
}

func (s *stubStorage) DeleteFile(_ context.Context, fileURL string) error {
	s.deletedURLs = append(s.deletedURLs, fileURL)
	return s.deleteErr
}

func (s *stubStorage) GetSignedURL(_ context.Context, fileURL string) (string, error) {
	s.lastSignedFrom = fileURL
	return s.signedURL, nil
}

func pdfFile() *attachment.File {
	return attachment.FromBytes("first-aid.pdf", "application/pdf", []byte("%PDF-1.4 pet first aid"))
}

func TestCertificationServiceCreateUploadsAndStores(t *testing.T) {
	repo := &stubCertificationRepo{createResult: &models.Certification{ID: 1, SitterID: 7, FileURL: "https://storage/c.pdf"}}
	storage := &stubStorage{uploadURL: "https://storage/c.pdf"}
	service := NewCertificationService(repo, &stubUserRepo{}, storage)

	issuer := " Red Cross "
	cert, err := service.CreateCertification(context.Background(), 7, models.RoleSitter, CreateCertificationInput{
		Title:  " Pet First Aid ",
		Issuer: &issuer,
		File:   pdfFile(),
	})
	if err != nil {
		t.Fatalf("CreateCertification: %v", err)
	}
	if cert.ID != 1 {
		t.Fatalf("expected certification id 1, got %d", cert.ID)
	}
	if storage.lastFolder != "certifications/7" {
		t.Fatalf("expected per-sitter folder, got %q", storage.lastFolder)
	}
	if !strings.HasSuffix(storage.lastFilename, ".pdf") || storage.lastType != "application/pdf" {
		t.Fatalf("unexpected object %q (%s)", storage.lastFilename, storage.lastType)
	}
	if storage.lastBody != "%PDF-1.4 pet first aid" {
		t.Fatalf("unexpected body %q", storage.lastBody)
	}
	if repo.lastCreate.Title != "Pet First Aid" || repo.lastCreate.Issuer == nil || *repo.lastCreate.Issuer != "Red Cross" {
		t.Fatalf("expected trimmed fields, got %+v", repo.lastCreate)
	}
}

func TestCertificationServiceRejectsOwnersAndBadFiles(t *testing.T) {
	storage := &stubStorage{uploadURL: "https://storage/c.pdf"}
	service := NewCertificationService(&stubCertificationRepo{}, &stubUserRepo{}, storage)
	ctx := context.Background()

	if _, err := service.CreateCertification(ctx, 7, models.RoleOwner, CreateCertificationInput{Title: "x", File: pdfFile()}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	zip := attachment.FromBytes("a.zip", "application/zip", []byte("PK"))
	if _, err := service.CreateCertification(ctx, 7, models.RoleSitter, CreateCertificationInput{Title: "x", File: zip}); !errors.Is(err, attachment.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := service.CreateCertification(ctx, 7, models.RoleSitter, CreateCertificationInput{Title: "  ", File: pdfFile()}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if storage.lastFolder != "" {
		t.Fatalf("nothing should have been uploaded, got folder %q", storage.lastFolder)
	}

	noStorage := NewCertificationService(&stubCertificationRepo{}, &stubUserRepo{}, nil)
	if _, err := noStorage.CreateCertification(ctx, 7, models.RoleSitter, CreateCertificationInput{Title: "x", File: pdfFile()}); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestCertificationServiceSurfacesCleanupFailure(t *testing.T) {
	createErr := errors.New("insert failed")
	deleteErr := errors.New("delete failed")
	storage := &stubStorage{uploadURL: "https://storage/c.pdf", deleteErr: deleteErr}
	service := NewCertificationService(&stubCertificationRepo{createErr: createErr}, &stubUserRepo{}, storage)

	_, err := service.CreateCertification(context.Background(), 7, models.RoleSitter, CreateCertificationInput{Title: "x", File: pdfFile()})
	if !errors.Is(err, createErr) {
		t.Fatalf("expected wrapped create error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cleanup failed") || !strings.Contains(err.Error(), "delete failed") {
		t.Fatalf("expected cleanup failure surfaced, got %v", err)
	}
	if len(storage.deletedURLs) != 1 || storage.deletedURLs[0] != "https://storage/c.pdf" {
		t.Fatalf("expected uploaded file cleanup to be attempted, got %v", storage.deletedURLs)
	}
}

func TestCertificationServiceDownloadURL(t *testing.T) {
	repo := &stubCertificationRepo{getResult: &models.Certification{ID: 4, SitterID: 7, FileURL: "https://storage/c.pdf"}}
	storage := &stubStorage{signedURL: "https://signed/c.pdf"}
	service := NewCertificationService(repo, &stubUserRepo{}, storage)

	url, err := service.GetDownloadURL(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetDownloadURL: %v", err)
	}
	if url != "https://signed/c.pdf" || storage.lastSignedFrom != "https://storage/c.pdf" {
		t.Fatalf("unexpected signed url %q from %q", url, storage.lastSignedFrom)
	}
	if _, err := service.GetDownloadURL(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type stubProfileStore struct {
	profile    *models.Profile
	lastAvatar string
}

func (s *stubProfileStore) GetByUserID(_ context.Context, _ int64) (*models.Profile, error) {
	if s.profile == nil {
		return nil, pgx.ErrNoRows
	}
	copied := *s.profile
	return &copied, nil
}

func (s *stubProfileStore) UpdatePartial(_ context.Context, _ int64, input repository.UpdateProfileInput) (*models.Profile, error) {
	if s.profile == nil {
		return nil, pgx.ErrNoRows
	}
	if input.HourlyRate != nil {
		s.profile.HourlyRate = input.HourlyRate
	}
	copied := *s.profile
	return &copied, nil
}

func (s *stubProfileStore) UpdateAvatar(_ context.Context, _ int64, avatarURL string) (*models.Profile, error) {
	s.lastAvatar = avatarURL
	s.profile.AvatarURL = &avatarURL
	copied := *s.profile
	return &copied, nil
}

func TestProfileServiceUploadAvatarReplacesOldFile(t *testing.T) {
	old := "https://storage/avatars/7/old.png"
	store := &stubProfileStore{profile: &models.Profile{UserID: 7, AvatarURL: &old}}
	storage := &stubStorage{uploadURL: "https://storage/avatars/7/new.png"}
	service := NewProfileService(store, storage, zerolog.Nop())

	png := attachment.FromBytes("me.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
	profile, err := service.UploadAvatar(context.Background(), 7, png)
	if err != nil {
		t.Fatalf("UploadAvatar: %v", err)
	}
	if profile.AvatarURL == nil || *profile.AvatarURL != "https://storage/avatars/7/new.png" {
		t.Fatalf("unexpected avatar %+v", profile.AvatarURL)
	}
	if storage.lastFolder != "avatars/7" {
		t.Fatalf("unexpected folder %q", storage.lastFolder)
	}
	if len(storage.deletedURLs) != 1 || storage.deletedURLs[0] != old {
		t.Fatalf("expected old avatar removed, got %v", storage.deletedURLs)
	}
}

func TestProfileServiceRejectsNonImageAvatarAndNegativeRate(t *testing.T) {
	store := &stubProfileStore{profile: &models.Profile{UserID: 7}}
	service := NewProfileService(store, &stubStorage{}, zerolog.Nop())
	ctx := context.Background()

	if _, err := service.UploadAvatar(ctx, 7, pdfFile()); !errors.Is(err, attachment.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	rate := -5.0
	if _, err := service.UpdateProfile(ctx, 7, repository.UpdateProfileInput{HourlyRate: &rate}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := NewProfileService(&stubProfileStore{}, nil, zerolog.Nop()).GetProfile(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
