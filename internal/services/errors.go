package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrSitterNotFound         = errors.New("sitter not found")
	ErrStorageUnavailable     = errors.New("storage service is not configured")
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// txStarter is satisfied by *pgxpool.Pool.
type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
