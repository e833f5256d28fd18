package score

import "errors"

var (
	ErrUnauthorized  = errors.New("score: caller is not the administrator")
	ErrInvalidAmount = errors.New("score: amount must be a non-negative 256-bit integer")
	ErrScoreOverflow = errors.New("score: bucket total overflows 256 bits")
)
