package borrower

import (
	nativecommon "lendchain/native/common"
)

// Borrower is a registered borrower. RegisteredBy is the app that performed
// the registration.
type Borrower struct {
	ID           [20]byte
	RegisteredBy [20]byte
	RegisteredAt uint64
}

// AppDirectory is the view of the app registry used to check callers.
type AppDirectory = nativecommon.Directory

const (
	RefApp  = "borrowerapp"
	RefAuth = "auth"
)
