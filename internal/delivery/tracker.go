package delivery

import (
	"sync"
	"time"
)

// Tracker keeps running totals over the sends of one Manager.
type Tracker struct {
	mu     sync.Mutex
	active map[string]time.Time
	stats  TrackerStats
}

// TrackerStats is a snapshot of a Tracker.
type TrackerStats struct {
	TotalSends      int64
	ActiveSends     int64
	SuccessfulSends int64
	FailedSends     int64

	TotalRecipients     int64
	DeliveredRecipients int64
	FailedRecipients    int64

	// ErrorsByKind counts failed recipients by error kind.
	ErrorsByKind map[string]int64

	AverageSendTime time.Duration
	MaxSendTime     time.Duration
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string]time.Time),
		stats:  TrackerStats{ErrorsByKind: make(map[string]int64)},
	}
}

// Start marks a send as in progress.
func (t *Tracker) Start(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[id] = at
	t.stats.TotalSends++
	t.stats.ActiveSends++
}

// Finish folds a completed send into the totals.
func (t *Tracker) Finish(id string, result *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[id]; !ok {
		return
	}
	delete(t.active, id)
	t.stats.ActiveSends--

	if result.Success {
		t.stats.SuccessfulSends++
	} else {
		t.stats.FailedSends++
	}

	t.stats.TotalRecipients += int64(len(result.Recipients))
	t.stats.DeliveredRecipients += int64(result.Delivered())
	t.stats.FailedRecipients += int64(result.Failed)
	for _, rr := range result.Recipients {
		if !rr.Success {
			t.stats.ErrorsByKind[string(rr.Kind)]++
		}
	}

	completed := t.stats.SuccessfulSends + t.stats.FailedSends
	t.stats.AverageSendTime = time.Duration(
		(int64(t.stats.AverageSendTime)*(completed-1) + int64(result.Duration)) / completed)
	if result.Duration > t.stats.MaxSendTime {
		t.stats.MaxSendTime = result.Duration
	}
}

// Stats returns a copy of the totals.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.stats
	out.ErrorsByKind = make(map[string]int64, len(t.stats.ErrorsByKind))
	for k, v := range t.stats.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	return out
}
