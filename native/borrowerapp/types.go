package borrowerapp

import "time"

// App is a registered borrower app. UpdatedAt is the unix time of the last
// Add or Update.
type App struct {
	ID        [20]byte
	Name      string
	UpdatedAt uint64
}

// UpdatedTime returns UpdatedAt as a time.Time in UTC.
func (a *App) UpdatedTime() time.Time {
	return time.Unix(int64(a.UpdatedAt), 0).UTC()
}
