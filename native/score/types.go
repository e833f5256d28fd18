package score

import (
	"math/big"
	"time"
)

// PeriodSeconds is the width of a score bucket: thirty days.
const PeriodSeconds = 30 * 24 * 60 * 60

// PeriodOf returns the bucket index containing t. Times before the unix epoch
// fall into period zero.
func PeriodOf(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / PeriodSeconds
}

// PeriodStart returns the first instant of period.
func PeriodStart(period uint64) time.Time {
	return time.Unix(int64(period*PeriodSeconds), 0).UTC()
}

// Bucket is the accumulated score of one (app, borrower) pair in one period.
type Bucket struct {
	Period uint64
	Total  *big.Int
}
