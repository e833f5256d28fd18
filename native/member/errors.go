package member

import "errors"

var (
	ErrUnauthorized           = errors.New("member: caller is not the administrator")
	ErrAppContractNotSet      = errors.New("member: BorrowerApp contract is not set")
	ErrBorrowerContractNotSet = errors.New("member: Borrower contract is not set")
	ErrCallerNotRegisteredApp = errors.New("member: caller is not a registered borrower app")
	ErrBorrowerNotFound       = errors.New("member: borrower is not found")
	ErrSignatureInvalid       = errors.New("member: signature can not be verified")
	ErrAlreadyJoined          = errors.New("member: join of borrower app and borrower already exists")
	ErrMembershipNotFound     = errors.New("member: membership not found")
	ErrIndexOutOfRange        = errors.New("member: index is out of range")
)
