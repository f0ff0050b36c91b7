package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound       = errors.New("domain: not found")
	ErrInvalidEvent   = errors.New("domain: invalid change event")
	ErrInvalidChannel = errors.New("domain: invalid channel")
)
