package borrowerapp

import "errors"

var (
	ErrUnauthorized    = errors.New("borrowerapp: caller is not the administrator")
	ErrZeroID          = errors.New("borrowerapp: borrower app id must not be zero")
	ErrBlankName       = errors.New("borrowerapp: borrower app name cannot be null")
	ErrDuplicateApp    = errors.New("borrowerapp: borrower app already exists")
	ErrAppNotFound     = errors.New("borrowerapp: borrower app not found")
	ErrIndexOutOfRange = errors.New("borrowerapp: borrower app index out of range")
)
