package rpc

import (
	"errors"
	"net/http"

	"lendchain/crypto"
	"lendchain/native/auth"
	"lendchain/native/borrower"
	"lendchain/native/borrowerapp"
	nativecommon "lendchain/native/common"
	"lendchain/native/member"
	"lendchain/native/score"
)

type errorClass struct {
	status int
	code   int
	kinds  []error
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, codeUnauthorized, []error{
		borrowerapp.ErrUnauthorized, auth.ErrUnauthorized, borrower.ErrUnauthorized,
		member.ErrUnauthorized, score.ErrUnauthorized,
	}},
	{http.StatusForbidden, codeForbidden, []error{
		borrower.ErrCallerNotRegisteredApp, borrower.ErrNotAuthenticated, borrower.ErrSignatureInvalid,
		member.ErrCallerNotRegisteredApp, member.ErrSignatureInvalid,
	}},
	{http.StatusNotFound, codeNotFound, []error{
		borrowerapp.ErrAppNotFound, borrower.ErrBorrowerNotFound, member.ErrBorrowerNotFound,
		member.ErrMembershipNotFound,
	}},
	{http.StatusConflict, codeConflict, []error{
		borrowerapp.ErrDuplicateApp, borrower.ErrAlreadyRegistered, member.ErrAlreadyJoined,
		auth.ErrAlreadyGranted, auth.ErrNotGranted, score.ErrScoreOverflow,
	}},
	{http.StatusServiceUnavailable, codeModulePaused, []error{nativecommon.ErrModulePaused}},
	{http.StatusServiceUnavailable, codeNotConfigured, []error{
		borrower.ErrAppContractNotSet, borrower.ErrAuthContractNotSet,
		member.ErrAppContractNotSet, member.ErrBorrowerContractNotSet,
	}},
	{http.StatusBadRequest, codeInvalidParams, []error{
		borrowerapp.ErrZeroID, borrowerapp.ErrBlankName, borrowerapp.ErrIndexOutOfRange,
		auth.ErrZeroID, borrower.ErrIndexOutOfRange, member.ErrIndexOutOfRange,
		score.ErrInvalidAmount, crypto.ErrInvalidIdentity, crypto.ErrSignatureInvalid,
		errInvalidParams,
	}},
}

var errInvalidParams = errors.New("invalid params")

// toRPCError maps a handler error onto an HTTP status and JSON-RPC error.
// The message names the error class; data carries the full error text.
func toRPCError(err error) (int, *RPCError) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadRequest, rpcErr
	}
	for _, class := range errorClasses {
		for _, kind := range class.kinds {
			if errors.Is(err, kind) {
				return class.status, &RPCError{Code: class.code, Message: kind.Error(), Data: err.Error()}
			}
		}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
}
