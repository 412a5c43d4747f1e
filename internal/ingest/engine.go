// Package ingest turns pending note changes into stored embeddings.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/notemcp/notemcp/internal/embed"
	"github.com/notemcp/notemcp/internal/queue"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
)

// Engine ingests batches of note changes: read each file, embed the
// readable ones in one encoder call, and upsert the results.
type Engine struct {
	vaults   vault.Set
	embedder embed.Embedder
	store    store.NoteStore
	logger   *slog.Logger

	// onUpsert, when set, receives every stored record. The worker uses
	// it to keep the in-memory search index current.
	onUpsert func(store.NoteRecord)
}

// NewEngine creates an ingestion engine.
func NewEngine(vaults vault.Set, embedder embed.Embedder, st store.NoteStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		vaults:   vaults,
		embedder: embedder,
		store:    st,
		logger:   logger,
	}
}

// OnUpsert registers a hook called for each stored record. Must be set
// before ingestion starts.
func (e *Engine) OnUpsert(fn func(store.NoteRecord)) {
	e.onUpsert = fn
}

// pending is one readable note awaiting its embedding.
type pending struct {
	rec  store.NoteRecord
	text string
}

// IngestBatch processes one batch of queue items. Unreadable or
// out-of-vault entries are logged and skipped, never fatal. The whole
// readable remainder is embedded in a single encoder call, then stored
// in one transaction. A batch that fails to embed or store is dropped
// with an error; its items are not re-enqueued.
func (e *Engine) IngestBatch(ctx context.Context, items []queue.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := make([]pending, 0, len(items))
	seen := make(map[string]int, len(items))

	for _, item := range items {
		v, ok := e.vaults.ByName(item.Vault)
		if !ok {
			e.logger.Warn("skipping note from unknown vault",
				slog.String("vault", item.Vault),
				slog.String("path", item.Path))
			continue
		}

		rel, err := v.Rel(item.Path)
		if err != nil {
			e.logger.Warn("skipping note outside vault",
				slog.String("vault", item.Vault),
				slog.String("path", item.Path),
				slog.String("error", err.Error()))
			continue
		}

		data, err := os.ReadFile(item.Path)
		if err != nil {
			e.logger.Warn("skipping unreadable note",
				slog.String("vault", item.Vault),
				slog.String("path", item.Path),
				slog.String("error", err.Error()))
			continue
		}

		// Stat after the read so the stored mtime is never older than
		// the content we embedded; a write landing between the two only
		// makes the record look newer than it is.
		info, err := os.Stat(item.Path)
		if err != nil {
			e.logger.Warn("skipping note that vanished after read",
				slog.String("vault", item.Vault),
				slog.String("path", item.Path))
			continue
		}

		p := pending{
			rec: store.NoteRecord{
				Vault:    item.Vault,
				Path:     rel,
				Modified: info.ModTime(),
			},
			text: string(data),
		}

		// A note edited twice lands in the batch twice; keep the later
		// read.
		key := item.Vault + "\x00" + rel
		if i, dup := seen[key]; dup {
			batch[i] = p
			continue
		}
		seen[key] = len(batch)
		batch = append(batch, p)
	}

	if len(batch) == 0 {
		return 0, nil
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch of %d notes: %w", len(batch), err)
	}
	if len(vecs) != len(batch) {
		return 0, fmt.Errorf("encoder returned %d embeddings for %d notes", len(vecs), len(batch))
	}

	records := make([]store.NoteRecord, len(batch))
	for i, p := range batch {
		records[i] = p.rec
		records[i].Embedding = vecs[i]
	}

	if err := e.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("store batch of %d notes: %w", len(records), err)
	}

	if e.onUpsert != nil {
		for _, rec := range records {
			e.onUpsert(rec)
		}
	}

	e.logger.Debug("ingested batch",
		slog.Int("requested", len(items)),
		slog.Int("stored", len(records)))

	return len(records), nil
}
