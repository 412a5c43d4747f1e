// Package queue provides the thread-safe FIFO of pending ingestion
// items shared between watcher callbacks and the worker loop.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("change queue closed")

// Item is a single pending ingestion unit: a note in a vault.
type Item struct {
	// Vault is the owning vault's name.
	Vault string

	// Path is the canonical absolute path of the note.
	Path string
}

// ChangeQueue is an unbounded FIFO of ingestion items. Producers call
// Enqueue from any goroutine; exactly one consumer drains it. The
// notify and predicate-check steps share one mutex so a waiter can
// never miss a wakeup.
type ChangeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Item
	closed bool
}

// New creates an empty ChangeQueue.
func New() *ChangeQueue {
	q := &ChangeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item to the tail and wakes one blocked waiter.
// It never blocks. Items enqueued after Close are dropped.
func (q *ChangeQueue) Enqueue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, item)
	q.cond.Signal()
}

// DrainBatch atomically removes and returns up to max items from the
// head, preserving enqueue order. It never blocks; an empty queue
// yields an empty result.
func (q *ChangeQueue) DrainBatch(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}

	n := max
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil // release the backing array between bursts
	}
	return batch
}

// WaitNonEmpty blocks the calling goroutine until the queue holds at
// least one item or the queue is closed. It returns true when items
// are available and false on shutdown.
func (q *ChangeQueue) WaitNonEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return len(q.items) > 0
}

// Len returns the number of pending items.
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *ChangeQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals shutdown and wakes every blocked waiter. Pending items
// remain drainable; further enqueues are dropped. Safe to call more
// than once.
func (q *ChangeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
