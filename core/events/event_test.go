package events

import (
	"math/big"
	"testing"

	"lendchain/crypto"
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(evt Event) { r.events = append(r.events, evt) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Emit(AppAdded{ID: [20]byte{1}})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both recorders to receive the event: %d %d", len(a.events), len(b.events))
	}
}

func TestPayloadAttributes(t *testing.T) {
	app := [20]byte{0xaa}
	borrower := [20]byte{0xbb}

	joined := MemberJoined{AppID: app, BorrowerID: borrower}.Event()
	if joined.Type != TypeMemberJoined {
		t.Fatalf("unexpected type %s", joined.Type)
	}
	if joined.Attr("appId") != crypto.FormatIdentity(app) || joined.Attr("borrowerId") != crypto.FormatIdentity(borrower) {
		t.Fatalf("unexpected attributes %v", joined.Attributes)
	}

	score := ScoreAdded{AppID: app, BorrowerID: borrower, Amount: big.NewInt(29), Period: 7}.Event()
	if score.Attr("amount") != "29" || score.Attr("period") != "7" {
		t.Fatalf("unexpected score attributes %v", score.Attributes)
	}

	ref := ReferenceSet{Registry: "borrower", Which: "auth", Address: app}.Event()
	if ref.Attr("which") != "auth" || ref.Attr("registry") != "borrower" {
		t.Fatalf("unexpected reference attributes %v", ref.Attributes)
	}

	payloads := []Payload{AppAdded{}, AppUpdated{}, BorrowerAdded{}, MemberJoined{}, ScoreAdded{}, ReferenceSet{}, AuthGranted{}, AuthRevoked{}}
	seen := map[string]bool{}
	for _, p := range payloads {
		if p.Event().Type != p.EventType() {
			t.Fatalf("payload type mismatch for %s", p.EventType())
		}
		if seen[p.EventType()] {
			t.Fatalf("duplicate event type %s", p.EventType())
		}
		seen[p.EventType()] = true
	}
}
