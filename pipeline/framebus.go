package pipeline

import (
	"context"
	"sync"

	"github.com/edgevision/zed-edge/service/lgr"
)

// Bus is the single ownership boundary for the shared frame state: the
// latest snapshot, its sequence number, and the count of attached video
// subscribers all live under one mutex so "who is watching" and "what was
// just published" stay consistent within a capture cycle.
//
// The capture loop is the only publisher; any number of consumers may
// block in AwaitNext or read through ReadLatest concurrently.
type Bus struct {
	mu          sync.Mutex
	cond        *sync.Cond
	latest      Snapshot
	seq         uint64
	subscribers int
}

func NewBus() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish atomically replaces the current snapshot and wakes every
// waiting consumer. Stale snapshots are discarded, never queued.
func (b *Bus) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = s
	b.seq++
	b.cond.Broadcast()
}

// AwaitNext blocks until the next Publish after the call began, or until
// ctx is cancelled. The first-ever call blocks until the first publish;
// a consumer attaching mid-cycle never sees history.
func (b *Bus) AwaitNext(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.seq
	stop := context.AfterFunc(ctx, func() {
		// Wake waiters under the bus lock so the cancellation is never
		// missed between the predicate check and cond.Wait.
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	for b.seq == start && ctx.Err() == nil {
		b.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return cloneSnapshot(b.latest), nil
}

// ReadLatest returns the most recent snapshot without waiting. ok is
// false until the first publish.
func (b *Bus) ReadLatest() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seq == 0 {
		return Snapshot{}, false
	}
	return cloneSnapshot(b.latest), true
}

// Attach registers one video subscriber. The capture loop reads the
// subscriber count each cycle to pick its cadence.
func (b *Bus) Attach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers++
}

// Detach deregisters one video subscriber. A stray double-detach is
// tolerated: the count is clamped at zero rather than corrupted, since a
// negative count would permanently distort the capture cadence.
func (b *Bus) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers == 0 {
		lgr.Logger.Warn("frame bus detach without matching attach")
		return
	}
	b.subscribers--
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subscribers
}

// cloneSnapshot hands out a private counts map so no consumer can observe
// or cause a mutation of the published snapshot. The pixel buffer itself
// is written once by the publisher and read-only afterwards.
func cloneSnapshot(s Snapshot) Snapshot {
	counts := make(map[string]int, len(s.Counts))
	for k, v := range s.Counts {
		counts[k] = v
	}
	s.Counts = counts
	return s
}
