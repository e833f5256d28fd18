package auth

import "errors"

var (
	ErrUnauthorized   = errors.New("auth: caller is not the administrator")
	ErrZeroID         = errors.New("auth: identity must not be zero")
	ErrAlreadyGranted = errors.New("auth: identity is already authenticated")
	ErrNotGranted     = errors.New("auth: identity is not authenticated")
)
