package model

import "time"

// Dataset is an immutable snapshot of all pools known at fetch time.
// A new fetch builds a new Dataset; existing snapshots are never mutated,
// so any reader holding one stays consistent across cache swaps.
type Dataset struct {
	Pools     []Pool    `json:"pools"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Age returns how long ago the snapshot was fetched.
func (d *Dataset) Age(now time.Time) time.Duration {
	if d == nil || d.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(d.FetchedAt)
}
