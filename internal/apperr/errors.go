// Package apperr defines sentinel errors shared across Raido components.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoSession    = errors.New("no active session")
	ErrUnauthorized = errors.New("unauthorized")
)
