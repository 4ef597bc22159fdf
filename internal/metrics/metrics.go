// Package metrics holds the process-wide engine counters surfaced by the ops
// /metrics endpoint. Engines bump the counters directly; the ops server
// renders them in Prometheus text exposition format.
package metrics

import (
	"sync/atomic"
	"time"
)

// Counters are the engine-level counters.
type Counters struct {
	FeedPollsTotal     atomic.Int64
	EntriesPosted      atomic.Int64
	EntriesEdited      atomic.Int64
	CalendarSyncsTotal atomic.Int64
	RemindersSent      atomic.Int64
	MapsRendered       atomic.Int64
	MapCacheHits       atomic.Int64
	StartTime          time.Time
}

// Global is the singleton instance.
var Global = &Counters{StartTime: time.Now()}
