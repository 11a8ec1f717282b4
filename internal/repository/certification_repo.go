package repository

import (
	"context"

	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

type CreateCertificationInput struct {
	SitterID int64
	Title    string
	Issuer   *string
	FileURL  string
}

type CertificationRepository struct {
	db DBTX
}

func NewCertificationRepository(db DBTX) *CertificationRepository {
	return &CertificationRepository{db: db}
}

func (r *CertificationRepository) Create(ctx context.Context, input CreateCertificationInput) (*models.Certification, error) {
	query := `
		INSERT INTO certifications (sitter_id, title, issuer, file_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, sitter_id, title, issuer, file_url, created_at
	`
	var cert models.Certification
	err := r.db.QueryRow(ctx, query, input.SitterID, input.Title, input.Issuer, input.FileURL).Scan(
		&cert.ID,
		&cert.SitterID,
		&cert.Title,
		&cert.Issuer,
		&cert.FileURL,
		&cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *CertificationRepository) ListBySitterID(ctx context.Context, sitterID int64) ([]models.Certification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sitter_id, title, issuer, file_url, created_at
		FROM certifications
		WHERE sitter_id = $1
		ORDER BY created_at DESC, id DESC
	`, sitterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	certs := make([]models.Certification, 0)
	for rows.Next() {
		var cert models.Certification
		if err := rows.Scan(
			&cert.ID,
			&cert.SitterID,
			&cert.Title,
			&cert.Issuer,
			&cert.FileURL,
			&cert.CreatedAt,
		); err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *CertificationRepository) GetByID(ctx context.Context, certificationID int64) (*models.Certification, error) {
	var cert models.Certification
	err := r.db.QueryRow(ctx, `
		SELECT id, sitter_id, title, issuer, file_url, created_at
		FROM certifications
		WHERE id = $1
	`, certificationID).Scan(
		&cert.ID,
		&cert.SitterID,
		&cert.Title,
		&cert.Issuer,
		&cert.FileURL,
		&cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
