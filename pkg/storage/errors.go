package storage

import "errors"

// Storage error types.
var (
	ErrNotFound       = errors.New("file not found")
	ErrValidation     = errors.New("invalid request")
	ErrHeaderTooLarge = errors.New("header exceeds record header size")
	ErrClosed         = errors.New("storage closed")
)
