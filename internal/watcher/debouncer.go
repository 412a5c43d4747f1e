package watcher

import (
	"sync"
	"time"

	"github.com/notemcp/notemcp/internal/queue"
)

// DefaultDebounceWindow is how long a note must stay quiet before its
// change is forwarded. Editors that save in bursts (atomic write, then
// metadata touch) collapse to one ingestion.
const DefaultDebounceWindow = 200 * time.Millisecond

// Debouncer coalesces rapid events for the same note. Each Add resets
// the note's timer; the sink sees the item once the window elapses
// without further events.
type Debouncer struct {
	window time.Duration
	sink   func(queue.Item)

	mu      sync.Mutex
	pending map[queue.Item]*time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer forwarding to sink. A non-positive
// window disables debouncing and forwards immediately.
func NewDebouncer(window time.Duration, sink func(queue.Item)) *Debouncer {
	return &Debouncer{
		window:  window,
		sink:    sink,
		pending: make(map[queue.Item]*time.Timer),
	}
}

// Add schedules an item for delivery after the quiet window.
func (d *Debouncer) Add(item queue.Item) {
	if d.window <= 0 {
		d.sink(item)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if timer, ok := d.pending[item]; ok {
		timer.Reset(d.window)
		return
	}

	d.pending[item] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.pending, item)
		d.mu.Unlock()

		d.sink(item)
	})
}

// Pending returns the number of items waiting out their window.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels all timers and flushes the still-pending items to the
// sink so a shutdown never loses a change. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	items := make([]queue.Item, 0, len(d.pending))
	for item, timer := range d.pending {
		timer.Stop()
		items = append(items, item)
	}
	d.pending = nil
	d.mu.Unlock()

	for _, item := range items {
		d.sink(item)
	}
}
