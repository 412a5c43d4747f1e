package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemcp/notemcp/internal/embed"
	"github.com/notemcp/notemcp/internal/queue"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
)

func newTestVault(t *testing.T) vault.Vault {
	t.Helper()

	v, err := vault.New(t.TempDir())
	require.NoError(t, err)
	return v
}

func writeNote(t *testing.T, v vault.Vault, rel, content string) string {
	t.Helper()

	abs := v.Abs(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

func newTestEngine(t *testing.T, v vault.Vault) (*Engine, *store.SQLiteStore) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(vault.Set{v}, embed.NewStaticEmbedder(), st, logger), st
}

func TestEngine_IngestsBatch(t *testing.T) {
	v := newTestVault(t)
	eng, st := newTestEngine(t, v)
	ctx := context.Background()

	a := writeNote(t, v, "a.md", "first note about databases")
	b := writeNote(t, v, "sub/b.md", "second note about gardens")

	n, err := eng.IngestBatch(ctx, []queue.Item{
		{Vault: v.Name, Path: a},
		{Vault: v.Name, Path: b},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := st.NumNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec, found, err := st.Get(ctx, v.Name, filepath.Join("sub", "b.md"))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, rec.Embedding)
}

func TestEngine_SkipsUnreadableAndContinues(t *testing.T) {
	v := newTestVault(t)
	eng, st := newTestEngine(t, v)
	ctx := context.Background()

	good := writeNote(t, v, "good.md", "this one exists")
	missing := v.Abs("missing.md")

	n, err := eng.IngestBatch(ctx, []queue.Item{
		{Vault: v.Name, Path: missing},
		{Vault: v.Name, Path: good},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the readable note should still be ingested")

	count, err := st.NumNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_SkipsUnknownVaultAndOutsidePaths(t *testing.T) {
	v := newTestVault(t)
	eng, st := newTestEngine(t, v)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "outside.md")
	require.NoError(t, os.WriteFile(outside, []byte("not in any vault"), 0o644))

	n, err := eng.IngestBatch(ctx, []queue.Item{
		{Vault: "no-such-vault", Path: v.Abs("x.md")},
		{Vault: v.Name, Path: outside},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := st.NumNotes(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_DuplicatePathKeepsOneRecord(t *testing.T) {
	v := newTestVault(t)
	eng, st := newTestEngine(t, v)
	ctx := context.Background()

	p := writeNote(t, v, "dup.md", "edited twice before the batch ran")

	n, err := eng.IngestBatch(ctx, []queue.Item{
		{Vault: v.Name, Path: p},
		{Vault: v.Name, Path: p},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := st.NumNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_OnUpsertHook(t *testing.T) {
	v := newTestVault(t)
	eng, _ := newTestEngine(t, v)
	ctx := context.Background()

	var got []store.NoteRecord
	eng.OnUpsert(func(rec store.NoteRecord) { got = append(got, rec) })

	writeNote(t, v, "hooked.md", "the hook should see this")
	_, err := eng.IngestBatch(ctx, []queue.Item{{Vault: v.Name, Path: v.Abs("hooked.md")}})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "hooked.md", got[0].Path)
	assert.NotEmpty(t, got[0].Embedding)
}

// failingEmbedder fails every batch.
type failingEmbedder struct {
	*embed.StaticEmbedder
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func TestEngine_FailedBatchStoresNothing(t *testing.T) {
	v := newTestVault(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := NewEngine(vault.Set{v}, &failingEmbedder{embed.NewStaticEmbedder()}, st, logger)

	writeNote(t, v, "doomed.md", "this batch will fail")
	ctx := context.Background()

	_, err = eng.IngestBatch(ctx, []queue.Item{{Vault: v.Name, Path: v.Abs("doomed.md")}})
	require.Error(t, err)

	count, err := st.NumNotes(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestLock_SecondAcquireFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "notes.db")

	first := NewIngestLock(dbPath)
	acquired, err := first.TryAcquire()
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.Release()

	second := NewIngestLock(dbPath)
	acquired, err = second.TryAcquire()
	require.NoError(t, err)
	assert.False(t, acquired, "the lock is held by the first ingester")

	require.NoError(t, first.Release())

	acquired, err = second.TryAcquire()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Release())
}
