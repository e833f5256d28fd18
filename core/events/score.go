package events

import (
	"math/big"
	"strconv"

	"lendchain/core/types"
)

const (
	TypeScoreAdded  = "score.added"
	TypeAuthGranted = "auth.granted"
	TypeAuthRevoked = "auth.revoked"
)

// ScoreAdded is emitted after the administrator accrues score for a pair.
type ScoreAdded struct {
	AppID      [20]byte
	BorrowerID [20]byte
	Amount     *big.Int
	Period     uint64
}

// EventType implements the Event interface.
func (ScoreAdded) EventType() string { return TypeScoreAdded }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e ScoreAdded) Event() *types.Event {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return &types.Event{
		Type: TypeScoreAdded,
		Attributes: map[string]string{
			"appId":      formatID(e.AppID),
			"borrowerId": formatID(e.BorrowerID),
			"amount":     amount,
			"period":     strconv.FormatUint(e.Period, 10),
		},
	}
}

// AuthGranted is emitted when an identity passes authentication.
type AuthGranted struct {
	ID [20]byte
}

// EventType implements the Event interface.
func (AuthGranted) EventType() string { return TypeAuthGranted }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e AuthGranted) Event() *types.Event {
	return &types.Event{
		Type:       TypeAuthGranted,
		Attributes: map[string]string{"id": formatID(e.ID)},
	}
}

// AuthRevoked is emitted when an identity's authentication is withdrawn.
type AuthRevoked struct {
	ID [20]byte
}

// EventType implements the Event interface.
func (AuthRevoked) EventType() string { return TypeAuthRevoked }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e AuthRevoked) Event() *types.Event {
	return &types.Event{
		Type:       TypeAuthRevoked,
		Attributes: map[string]string{"id": formatID(e.ID)},
	}
}
