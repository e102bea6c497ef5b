package common

import "time"

// FreshnessHistory is how long a history download is trusted before the
// series is checked again for gaps.
const FreshnessHistory = 24 * time.Hour

// IsFreshAt returns true if updated is within ttl of now.
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
