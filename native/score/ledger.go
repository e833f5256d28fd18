package score

import (
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendchain/core/events"
	nativecommon "lendchain/native/common"
)

const moduleName = "scores"

type ledgerState interface {
	nativecommon.KVStore
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Apply(fn func() error) error
	Root() ethcommon.Hash
}

// Ledger accumulates administrator-assigned scores per (app, borrower) pair in
// fixed thirty-day buckets. Totals only grow.
type Ledger struct {
	mu      sync.RWMutex
	st      ledgerState
	admin   [20]byte
	version uint64
	address [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() time.Time
}

func NewLedger(st ledgerState, admin [20]byte, version uint64) *Ledger {
	return &Ledger{
		st:      st,
		admin:   admin,
		version: version,
		address: nativecommon.RegistryAddress(moduleName, admin, version),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetEmitter configures the event emitter. Passing nil disables emission.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauses = p
}

// SetNowFunc overrides the clock that selects the bucket written by Add.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		l.nowFn = time.Now
		return
	}
	l.nowFn = now
}

func (l *Ledger) Admin() [20]byte { return l.admin }

func (l *Ledger) Version() uint64 { return l.version }

func (l *Ledger) Address() [20]byte { return l.address }

func (l *Ledger) Root() ethcommon.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.Root()
}

func pairKey(prefix string, app, borrower [20]byte) []byte {
	buf := make([]byte, 0, len(prefix)+40)
	buf = append(buf, prefix...)
	buf = append(buf, app[:]...)
	return append(buf, borrower[:]...)
}

func bucketKey(app, borrower [20]byte, period uint64) []byte {
	return binary.BigEndian.AppendUint64(pairKey("score/bucket/", app, borrower), period)
}

func periodsKey(app, borrower [20]byte) []byte {
	return pairKey("score/periods/", app, borrower)
}

func (l *Ledger) total(app, borrower [20]byte, period uint64) (*big.Int, error) {
	var stored big.Int
	found, err := l.st.KVGet(bucketKey(app, borrower, period), &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(big.Int), nil
	}
	return &stored, nil
}

// Add accrues amount to the current period's bucket for the pair and returns
// the updated bucket. The pair is not checked against the other registries.
func (l *Ledger) Add(caller [20]byte, app, borrower [20]byte, amount *big.Int) (*Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller != l.admin {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	delta, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrInvalidAmount
	}
	period := PeriodOf(l.nowFn())

	var bucket Bucket
	err := l.st.Apply(func() error {
		current, err := l.total(app, borrower, period)
		if err != nil {
			return err
		}
		base, _ := uint256.FromBig(current)
		sum, overflow := new(uint256.Int).AddOverflow(base, delta)
		if overflow {
			return ErrScoreOverflow
		}
		bucket = Bucket{Period: period, Total: sum.ToBig()}
		if err := l.st.KVPut(bucketKey(app, borrower, period), bucket.Total); err != nil {
			return err
		}
		return l.st.KVAppend(periodsKey(app, borrower), binary.BigEndian.AppendUint64(nil, period))
	})
	if err != nil {
		return nil, err
	}
	l.emitter.Emit(events.ScoreAdded{
		AppID:      app,
		BorrowerID: borrower,
		Amount:     new(big.Int).Set(amount),
		Period:     period,
	})
	return &bucket, nil
}

// Get returns the total for the bucket containing referenceTime. Buckets that
// were never written read as zero.
func (l *Ledger) Get(app, borrower [20]byte, referenceTime time.Time) (*big.Int, error) {
	return l.GetByPeriod(app, borrower, PeriodOf(referenceTime))
}

// GetByPeriod returns the total for an explicit bucket index.
func (l *Ledger) GetByPeriod(app, borrower [20]byte, period uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total(app, borrower, period)
}

// History returns every written bucket for the pair in the order the
// buckets were first written.
func (l *Ledger) History(app, borrower [20]byte) ([]Bucket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var raw [][]byte
	if err := l.st.KVGetList(periodsKey(app, borrower), &raw); err != nil {
		return nil, err
	}
	buckets := make([]Bucket, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 8 {
			continue
		}
		period := binary.BigEndian.Uint64(encoded)
		total, err := l.total(app, borrower, period)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, Bucket{Period: period, Total: total})
	}
	return buckets, nil
}
