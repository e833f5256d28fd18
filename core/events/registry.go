package events

import (
	"lendchain/core/types"
	"lendchain/crypto"
)

const (
	TypeAppAdded      = "borrowerapp.added"
	TypeAppUpdated    = "borrowerapp.updated"
	TypeBorrowerAdded = "borrower.added"
	TypeMemberJoined  = "member.joined"
	TypeReferenceSet  = "registry.reference.set"
)

func formatID(id [20]byte) string {
	return crypto.FormatIdentity(id)
}

// AppAdded is emitted when the administrator registers a borrower app.
type AppAdded struct {
	ID [20]byte
}

// EventType implements the Event interface.
func (AppAdded) EventType() string { return TypeAppAdded }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e AppAdded) Event() *types.Event {
	return &types.Event{
		Type:       TypeAppAdded,
		Attributes: map[string]string{"id": formatID(e.ID)},
	}
}

// AppUpdated is emitted when a borrower app is renamed.
type AppUpdated struct {
	ID   [20]byte
	Name string
}

// EventType implements the Event interface.
func (AppUpdated) EventType() string { return TypeAppUpdated }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e AppUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAppUpdated,
		Attributes: map[string]string{
			"id":   formatID(e.ID),
			"name": e.Name,
		},
	}
}

// BorrowerAdded is emitted when an app registers a consenting borrower.
type BorrowerAdded struct {
	ID [20]byte
}

// EventType implements the Event interface.
func (BorrowerAdded) EventType() string { return TypeBorrowerAdded }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e BorrowerAdded) Event() *types.Event {
	return &types.Event{
		Type:       TypeBorrowerAdded,
		Attributes: map[string]string{"id": formatID(e.ID)},
	}
}

// MemberJoined is emitted when a borrower joins an app.
type MemberJoined struct {
	AppID      [20]byte
	BorrowerID [20]byte
}

// EventType implements the Event interface.
func (MemberJoined) EventType() string { return TypeMemberJoined }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e MemberJoined) Event() *types.Event {
	return &types.Event{
		Type: TypeMemberJoined,
		Attributes: map[string]string{
			"appId":      formatID(e.AppID),
			"borrowerId": formatID(e.BorrowerID),
		},
	}
}

// ReferenceSet is emitted when a registry's collaborator reference changes.
// Registry names the registry holding the reference, Which names the
// collaborator.
type ReferenceSet struct {
	Registry string
	Which    string
	Address  [20]byte
}

// EventType implements the Event interface.
func (ReferenceSet) EventType() string { return TypeReferenceSet }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e ReferenceSet) Event() *types.Event {
	return &types.Event{
		Type: TypeReferenceSet,
		Attributes: map[string]string{
			"registry": e.Registry,
			"which":    e.Which,
			"address":  formatID(e.Address),
		},
	}
}
