package score_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendchain/core/events"
	"lendchain/core/state"
	nativecommon "lendchain/native/common"
	"lendchain/native/score"
	"lendchain/storage"
	statetrie "lendchain/storage/trie"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

var (
	owner    = [20]byte{0x01}
	nonOwner = [20]byte{0x02}
	app      = [20]byte{0xa1}
	borrower = [20]byte{0xb1}
)

func newTestLedger(t *testing.T) (*score.Ledger, *capturingEmitter, *time.Time) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("create trie: %v", err)
	}
	ledger := score.NewLedger(state.NewManager(tr), owner, 1)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	now := time.Unix(1_700_000_000, 0)
	ledger.SetNowFunc(func() time.Time { return now })
	return ledger, emitter, &now
}

func TestPeriodOf(t *testing.T) {
	if score.PeriodSeconds != 2_592_000 {
		t.Fatalf("unexpected period width %d", score.PeriodSeconds)
	}
	if got := score.PeriodOf(time.Unix(2_592_000*3+5, 0)); got != 3 {
		t.Fatalf("unexpected period %d", got)
	}
	if got := score.PeriodOf(time.Unix(2_592_000*3-1, 0)); got != 2 {
		t.Fatalf("unexpected period %d", got)
	}
	if got := score.PeriodOf(time.Unix(-10, 0)); got != 0 {
		t.Fatalf("unexpected period for pre-epoch time %d", got)
	}
	if start := score.PeriodStart(3); start.Unix() != 2_592_000*3 {
		t.Fatalf("unexpected period start %v", start)
	}
}

func TestAddAccumulatesWithinPeriod(t *testing.T) {
	ledger, emitter, now := newTestLedger(t)

	zero, err := ledger.Get(app, borrower, *now)
	if err != nil || zero.Sign() != 0 {
		t.Fatalf("expected zero before add, got %v err=%v", zero, err)
	}
	bucket, err := ledger.Add(owner, app, borrower, big.NewInt(29))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	period := score.PeriodOf(*now)
	if bucket.Period != period || bucket.Total.Cmp(big.NewInt(29)) != 0 {
		t.Fatalf("unexpected bucket %+v", bucket)
	}
	if _, err := ledger.Add(owner, app, borrower, big.NewInt(29)); err != nil {
		t.Fatalf("second add: %v", err)
	}
	total, err := ledger.Get(app, borrower, *now)
	if err != nil || total.Cmp(big.NewInt(58)) != 0 {
		t.Fatalf("expected 58, got %v err=%v", total, err)
	}
	byPeriod, err := ledger.GetByPeriod(app, borrower, period)
	if err != nil || byPeriod.Cmp(big.NewInt(58)) != 0 {
		t.Fatalf("expected 58 by period, got %v err=%v", byPeriod, err)
	}

	if len(emitter.events) != 2 {
		t.Fatalf("expected two events, got %d", len(emitter.events))
	}
	added, ok := emitter.events[0].(events.ScoreAdded)
	if !ok || added.Amount.Cmp(big.NewInt(29)) != 0 || added.Period != period || added.AppID != app || added.BorrowerID != borrower {
		t.Fatalf("unexpected event %#v", emitter.events[0])
	}
}

func TestBucketsDoNotLeakAcrossPeriods(t *testing.T) {
	ledger, _, now := newTestLedger(t)

	if _, err := ledger.Add(owner, app, borrower, big.NewInt(29)); err != nil {
		t.Fatalf("add: %v", err)
	}
	month := time.Duration(score.PeriodSeconds) * time.Second
	for _, ref := range []time.Time{now.Add(month), now.Add(-month)} {
		total, err := ledger.Get(app, borrower, ref)
		if err != nil || total.Sign() != 0 {
			t.Fatalf("expected zero at %v, got %v err=%v", ref, total, err)
		}
	}
	period := score.PeriodOf(*now)
	for _, p := range []uint64{period - 1, period + 1} {
		total, _ := ledger.GetByPeriod(app, borrower, p)
		if total.Sign() != 0 {
			t.Fatalf("expected zero for period %d, got %v", p, total)
		}
	}

	*now = now.Add(month)
	if _, err := ledger.Add(owner, app, borrower, big.NewInt(5)); err != nil {
		t.Fatalf("add next period: %v", err)
	}
	history, err := ledger.History(app, borrower)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Total.Int64() != 29 || history[1].Total.Int64() != 5 || history[1].Period != history[0].Period+1 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestAddValidation(t *testing.T) {
	ledger, emitter, now := newTestLedger(t)

	if _, err := ledger.Add(nonOwner, app, borrower, big.NewInt(1)); !errors.Is(err, score.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := ledger.Add(owner, app, borrower, big.NewInt(-1)); !errors.Is(err, score.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := ledger.Add(owner, app, borrower, nil); !errors.Is(err, score.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := ledger.Add(owner, app, borrower, tooBig); !errors.Is(err, score.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for 2^256, got %v", err)
	}

	maxScore := new(big.Int).Sub(tooBig, big.NewInt(1))
	if _, err := ledger.Add(owner, app, borrower, maxScore); err != nil {
		t.Fatalf("add max: %v", err)
	}
	root := ledger.Root()
	if _, err := ledger.Add(owner, app, borrower, big.NewInt(1)); !errors.Is(err, score.ErrScoreOverflow) {
		t.Fatalf("expected ErrScoreOverflow, got %v", err)
	}
	if ledger.Root() != root {
		t.Fatalf("overflowing add changed state")
	}
	total, _ := ledger.Get(app, borrower, *now)
	if total.Cmp(maxScore) != 0 {
		t.Fatalf("overflowing add changed the bucket: %v", total)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected only the successful add to emit, got %d", len(emitter.events))
	}

	ledger.SetPauses(nativecommon.Pauses{"scores": true})
	if _, err := ledger.Add(owner, app, borrower, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
