// Package elapsed provides a local clock that counts recording seconds.
package elapsed

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TickFunc receives the elapsed count of the run identified by token.
type TickFunc func(token uint64, elapsed int)

// Tracker counts ticks while running. At most one ticking goroutine is live;
// starting a new run cancels the previous one before it can report again.
type Tracker struct {
	mu sync.Mutex

	interval time.Duration
	onTick   TickFunc

	run     uint64 // identifies the live ticking goroutine
	token   uint64
	elapsed int
	cancel  context.CancelFunc
}

// NewTracker creates a stopped tracker. A non-positive interval means one second.
func NewTracker(interval time.Duration, onTick TickFunc) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		interval: interval,
		onTick:   onTick,
	}
}

// Start resets the count to zero and begins ticking on behalf of token.
func (t *Tracker) Start(token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t.run++
	t.token = token
	t.cancel = cancel

	go t.loop(ctx, t.run)
}

// Stop halts ticking and resets the count to zero.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Elapsed returns the current count.
func (t *Tracker) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Running reports whether a ticking goroutine is live.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Tracker) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	// invalidate ticks already past the select in loop
	t.run++
	t.elapsed = 0
}

func (t *Tracker) loop(ctx context.Context, run uint64) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.run != run {
				t.mu.Unlock()
				return
			}
			t.elapsed++
			elapsed, token := t.elapsed, t.token
			t.mu.Unlock()

			if t.onTick != nil {
				t.onTick(token, elapsed)
			}
		}
	}
}

// Format renders seconds as m:ss.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
