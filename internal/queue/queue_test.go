package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainBatch_PreservesOrderAndBound(t *testing.T) {
	// Given: a queue with three items, one path repeated
	q := New()
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})
	q.Enqueue(Item{Vault: "V", Path: "/v/b.md"})
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})

	// When: drained with batch size 2
	first := q.DrainBatch(2)
	second := q.DrainBatch(2)

	// Then: FIFO order holds and no batch exceeds the bound
	require.Equal(t, []Item{
		{Vault: "V", Path: "/v/a.md"},
		{Vault: "V", Path: "/v/b.md"},
	}, first)
	require.Equal(t, []Item{{Vault: "V", Path: "/v/a.md"}}, second)
	assert.Empty(t, q.DrainBatch(2))
}

func TestDrainBatch_EmptyQueueNonBlocking(t *testing.T) {
	q := New()

	done := make(chan []Item, 1)
	go func() { done <- q.DrainBatch(10) }()

	select {
	case batch := <-done:
		assert.Empty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("DrainBatch blocked on empty queue")
	}
}

func TestWaitNonEmpty_WakesOnEnqueue(t *testing.T) {
	// Given: a consumer blocked on an empty queue
	q := New()
	woke := make(chan bool, 1)
	go func() { woke <- q.WaitNonEmpty() }()

	// Give the consumer time to block
	time.Sleep(20 * time.Millisecond)

	// When: a producer enqueues
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})

	// Then: the consumer wakes promptly with work available
	select {
	case ok := <-woke:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitNonEmpty did not wake after Enqueue")
	}
}

func TestWaitNonEmpty_WakesOnClose(t *testing.T) {
	q := New()
	woke := make(chan bool, 1)
	go func() { woke <- q.WaitNonEmpty() }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-woke:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitNonEmpty did not wake after Close")
	}
}

func TestWaitNonEmpty_ReturnsImmediatelyWhenItemsPending(t *testing.T) {
	q := New()
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})
	assert.True(t, q.WaitNonEmpty())
}

func TestEnqueue_AfterCloseIsDropped(t *testing.T) {
	q := New()
	q.Close()
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})
	assert.Zero(t, q.Len())
}

func TestClose_PendingItemsRemainDrainable(t *testing.T) {
	q := New()
	q.Enqueue(Item{Vault: "V", Path: "/v/a.md"})
	q.Close()

	assert.True(t, q.Closed())
	require.Len(t, q.DrainBatch(10), 1)
}

func TestConcurrentProducers_NoItemLost(t *testing.T) {
	// Given: many producers racing with a single draining consumer
	q := New()
	const producers = 8
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Item{Vault: "V", Path: fmt.Sprintf("/v/%d-%d.md", p, i)})
			}
		}(p)
	}

	drained := make(chan int, 1)
	go func() {
		total := 0
		for total < producers*perProducer {
			if !q.WaitNonEmpty() {
				break
			}
			total += len(q.DrainBatch(32))
		}
		drained <- total
	}()

	wg.Wait()

	select {
	case total := <-drained:
		assert.Equal(t, producers*perProducer, total)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain all items")
	}
}

func TestPerProducerOrderPreserved(t *testing.T) {
	// Relative enqueue order must survive interleaved drains.
	q := New()
	for i := 0; i < 100; i++ {
		q.Enqueue(Item{Vault: "V", Path: fmt.Sprintf("/v/%03d.md", i)})
	}

	var all []Item
	for {
		batch := q.DrainBatch(7)
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
	}

	require.Len(t, all, 100)
	for i, item := range all {
		assert.Equal(t, fmt.Sprintf("/v/%03d.md", i), item.Path)
	}
}
