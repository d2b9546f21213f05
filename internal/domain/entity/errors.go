package entity

import "errors"

var (
	// Chat request errors
	ErrMissingModel = errors.New("model is required")
	ErrNoMessages   = errors.New("messages must not be empty")

	// File errors
	ErrInvalidFilePurpose = errors.New("Purpose must be 'batch'")
)
