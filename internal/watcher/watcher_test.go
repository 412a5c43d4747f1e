package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemcp/notemcp/internal/queue"
	"github.com/notemcp/notemcp/internal/vault"
)

// collector is a thread-safe enqueue sink.
type collector struct {
	mu    sync.Mutex
	items []queue.Item
}

func (c *collector) add(item queue.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *collector) snapshot() []queue.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]queue.Item(nil), c.items...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, v vault.Vault, sink *collector) *VaultWatcher {
	t.Helper()

	w, err := New(vault.Set{v}, 50*time.Millisecond, sink.add, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestVaultWatcher_ForwardsNoteWrites(t *testing.T) {
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	sink := &collector{}
	startWatcher(t, v, sink)

	notePath := v.Abs("idea.md")
	require.NoError(t, os.WriteFile(notePath, []byte("a new idea"), 0o644))

	ok := waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) >= 1 })
	require.True(t, ok, "expected the note write to be forwarded")

	items := sink.snapshot()
	assert.Equal(t, v.Name, items[0].Vault)
	assert.Equal(t, notePath, items[0].Path)
}

func TestVaultWatcher_IgnoresNonNotes(t *testing.T) {
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	sink := &collector{}
	startWatcher(t, v, sink)

	require.NoError(t, os.WriteFile(v.Abs("photo.png"), []byte{0x89}, 0o644))
	require.NoError(t, os.WriteFile(v.Abs("data.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(v.Abs("real.md"), []byte("note"), 0o644))

	ok := waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) >= 1 })
	require.True(t, ok)

	// Give stray events a moment to arrive, then check nothing but the
	// markdown file came through.
	time.Sleep(200 * time.Millisecond)
	for _, item := range sink.snapshot() {
		assert.Equal(t, v.Abs("real.md"), item.Path)
	}
}

func TestVaultWatcher_WatchesNewSubdirectories(t *testing.T) {
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	sink := &collector{}
	startWatcher(t, v, sink)

	subdir := v.Abs("projects")
	require.NoError(t, os.Mkdir(subdir, 0o755))

	// Give the watcher a beat to register the new directory.
	time.Sleep(200 * time.Millisecond)

	notePath := filepath.Join(subdir, "plan.md")
	require.NoError(t, os.WriteFile(notePath, []byte("plan"), 0o644))

	ok := waitFor(t, 2*time.Second, func() bool {
		for _, item := range sink.snapshot() {
			if item.Path == notePath {
				return true
			}
		}
		return false
	})
	assert.True(t, ok, "expected a note in a new subdirectory to be forwarded")
}

func TestVaultWatcher_DeleteIsNotForwarded(t *testing.T) {
	root := t.TempDir()
	notePath := filepath.Join(root, "doomed.md")
	require.NoError(t, os.WriteFile(notePath, []byte("short lived"), 0o644))

	v, err := vault.New(root)
	require.NoError(t, err)

	sink := &collector{}
	startWatcher(t, v, sink)

	require.NoError(t, os.Remove(notePath))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, sink.snapshot(), "removals should never reach the queue")
}

func TestVaultWatcher_StopFlushesDebounced(t *testing.T) {
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	sink := &collector{}
	w, err := New(vault.Set{v}, 10*time.Second, sink.add, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	notePath := v.Abs("held.md")
	require.NoError(t, os.WriteFile(notePath, []byte("held by the long window"), 0o644))

	ok := waitFor(t, 2*time.Second, func() bool { return w.debounce.Pending() > 0 })
	require.True(t, ok, "the event should be parked in the debouncer")

	require.NoError(t, w.Stop())
	require.Len(t, sink.snapshot(), 1, "stop should flush the pending item")
	assert.Equal(t, notePath, sink.snapshot()[0].Path)
}

func TestVaultWatcher_StopWithoutStartReleasesHandle(t *testing.T) {
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	// A watcher whose Start never succeeded still holds an fsnotify
	// handle; Stop must release it without hanging.
	sink := &collector{}
	w, err := New(vault.Set{v}, 50*time.Millisecond, sink.add, quietLogger())
	require.NoError(t, err)

	require.NoError(t, w.Stop())

	assert.Error(t, w.Start(), "a stopped watcher should refuse to start")
	assert.NoError(t, w.Stop(), "a second stop should be a no-op")
}

func TestDebouncer_CoalescesSamePath(t *testing.T) {
	sink := &collector{}
	d := NewDebouncer(60*time.Millisecond, sink.add)
	defer d.Stop()

	item := queue.Item{Vault: "work", Path: "/vault/burst.md"}
	for i := 0; i < 5; i++ {
		d.Add(item)
		time.Sleep(5 * time.Millisecond)
	}

	ok := waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) >= 1 })
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1, "a burst of writes should collapse to one item")
}

func TestDebouncer_DistinctPathsPass(t *testing.T) {
	sink := &collector{}
	d := NewDebouncer(20*time.Millisecond, sink.add)
	defer d.Stop()

	d.Add(queue.Item{Vault: "work", Path: "/vault/a.md"})
	d.Add(queue.Item{Vault: "work", Path: "/vault/b.md"})

	ok := waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 2 })
	assert.True(t, ok)
}

func TestDebouncer_ZeroWindowPassesThrough(t *testing.T) {
	sink := &collector{}
	d := NewDebouncer(0, sink.add)
	defer d.Stop()

	d.Add(queue.Item{Vault: "work", Path: "/vault/direct.md"})
	assert.Len(t, sink.snapshot(), 1)
}
