package chat

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("conversation not found")
	ErrForbidden        = errors.New("forbidden")
	ErrValidation       = errors.New("validation failed")
	ErrNetwork          = errors.New("network error")
	ErrSendInFlight     = errors.New("a message is already being sent")
)
