// Package store persists note embeddings and metadata.
package store

import (
	"context"
	"time"
)

// NoteRecord is one indexed note. Path is relative to the vault root,
// so records survive a vault being mounted at a different location.
type NoteRecord struct {
	// Vault is the owning vault's name.
	Vault string

	// Path is the note's path relative to the vault root.
	Path string

	// Modified is the note file's mtime at ingestion time.
	Modified time.Time

	// Embedding is the note's vector.
	Embedding []float32
}

// NoteStore persists note records keyed by (vault, path).
type NoteStore interface {
	// NumNotes returns the number of indexed notes.
	NumNotes(ctx context.Context) (int, error)

	// Upsert inserts or replaces records keyed by (vault, path).
	Upsert(ctx context.Context, records []NoteRecord) error

	// Get returns the record for (vault, path), or found=false.
	Get(ctx context.Context, vault, path string) (rec NoteRecord, found bool, err error)

	// All streams every record to fn. Iteration stops on the first
	// error fn returns.
	All(ctx context.Context, fn func(NoteRecord) error) error

	// Close releases the underlying database.
	Close() error
}
