// Package jobs runs recompute work off a bounded queue so a burst of
// records for one assignment-day collapses into a single scheduled run.
package jobs

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DefaultDedupTTL  = 60 * time.Second

	// dedupCapacity bounds the marker cache; eviction before TTL only
	// costs a redundant run, never a missed one.
	dedupCapacity = 4096
)

// Deduper suppresses repeat triggers for the same assignment and date
// inside a TTL window. It is advisory: the daily-state upsert is
// idempotent, so losing a marker is harmless.
type Deduper struct {
	cache *expirable.LRU[string, time.Time]
}

func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{cache: expirable.NewLRU[string, time.Time](dedupCapacity, nil, ttl)}
}

// Seen marks the (assignment, trigger date) pair and reports whether it
// was already marked inside the TTL.
func (d *Deduper) Seen(assignmentID string, day time.Time) bool {
	key := assignmentID + "|" + day.Format("2006-01-02")
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, time.Now())
	return false
}
