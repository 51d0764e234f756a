package service

import "errors"

var (
	// ErrInvalidInput covers requests rejected before anything is persisted
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for missing sessions and for sessions owned by someone else
	ErrNotFound = errors.New("not found")
	// ErrSessionProtected is returned when deleting a protected session
	ErrSessionProtected = errors.New("session is protected")
	// ErrFileTooLarge is returned by uploads over the configured limit
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedType is returned for images in a format we do not accept
	ErrUnsupportedType = errors.New("unsupported file type")
)
