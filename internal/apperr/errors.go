package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrTransport    = errors.New("transport failure")
	ErrUnauthorized = errors.New("unauthorized")
)
