package borrower

import "errors"

var (
	ErrUnauthorized           = errors.New("borrower: caller is not the administrator")
	ErrAppContractNotSet      = errors.New("borrower: BorrowerApp contract is not set")
	ErrAuthContractNotSet     = errors.New("borrower: Auth contract is not set")
	ErrCallerNotRegisteredApp = errors.New("borrower: caller is not a registered borrower app")
	ErrNotAuthenticated       = errors.New("borrower: borrower is not authenticated")
	ErrSignatureInvalid       = errors.New("borrower: signature can not be verified")
	ErrAlreadyRegistered      = errors.New("borrower: borrower is already registered")
	ErrBorrowerNotFound       = errors.New("borrower: borrower is not found")
	ErrIndexOutOfRange        = errors.New("borrower: borrower index is out of range")
)
