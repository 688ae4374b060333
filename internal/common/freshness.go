// Package common provides shared utilities for pricecache
package common

import "time"

// FreshnessPriceSeries is the default maximum age of a cached series before a
// read triggers a live refetch.
const FreshnessPriceSeries = 24 * time.Hour

// IsFreshAt evaluates freshness against an explicit clock reading.
// An age of exactly ttl is stale.
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
