package member

import (
	"encoding/hex"

	nativecommon "lendchain/native/common"
)

// Membership records that a borrower joined an app.
type Membership struct {
	AppID      [20]byte
	BorrowerID [20]byte
	JoinedAt   uint64
}

// Directory is the membership view of the app and borrower registries.
type Directory = nativecommon.Directory

const (
	RefApp      = "borrowerapp"
	RefBorrower = "borrower"
)

func membershipKey(app, borrower [20]byte) []byte {
	key := make([]byte, 0, 40)
	key = append(key, app[:]...)
	return append(key, borrower[:]...)
}

func byAppPrefix(app [20]byte) string {
	return "members/byApp/" + hex.EncodeToString(app[:])
}

func byBorrowerPrefix(borrower [20]byte) string {
	return "members/byBorrower/" + hex.EncodeToString(borrower[:])
}
