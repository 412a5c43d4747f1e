package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements NoteStore on a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ NoteStore = (*SQLiteStore)(nil)

const createNotesTable = `
CREATE TABLE IF NOT EXISTS notes (
	vault_name    TEXT NOT NULL,
	path          TEXT NOT NULL,
	last_modified INTEGER NOT NULL,
	embedding     BLOB NOT NULL,
	PRIMARY KEY (vault_name, path)
)`

// Open opens (or creates) the note database at path.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// IMPORTANT: use modernc.org/sqlite driver (pure Go, no CGO)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	// WAL mode must be set via PRAGMA, DSN params may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(createNotesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create notes table: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenReadOnly opens an existing note database without write access.
// Used by search-only consumers so they cannot race the ingester.
func OpenReadOnly(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open database read-only: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// NumNotes returns the number of indexed notes.
func (s *SQLiteStore) NumNotes(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return count, nil
}

// Upsert inserts or replaces records in a single transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, records []NoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes (vault_name, path, last_modified, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (vault_name, path) DO UPDATE SET
			last_modified = excluded.last_modified,
			embedding     = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.Vault == "" || rec.Path == "" {
			return fmt.Errorf("record missing vault or path: %+v", rec)
		}
		blob := encodeEmbedding(rec.Embedding)
		if _, err := stmt.ExecContext(ctx, rec.Vault, rec.Path, rec.Modified.UnixNano(), blob); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", rec.Vault, rec.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Get returns the record for (vault, path).
func (s *SQLiteStore) Get(ctx context.Context, vault, path string) (NoteRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_modified, embedding FROM notes
		WHERE vault_name = ? AND path = ?`, vault, path)

	var modified int64
	var blob []byte
	if err := row.Scan(&modified, &blob); err != nil {
		if err == sql.ErrNoRows {
			return NoteRecord{}, false, nil
		}
		return NoteRecord{}, false, fmt.Errorf("get %s/%s: %w", vault, path, err)
	}

	emb, err := decodeEmbedding(blob)
	if err != nil {
		return NoteRecord{}, false, fmt.Errorf("decode embedding for %s/%s: %w", vault, path, err)
	}

	return NoteRecord{
		Vault:     vault,
		Path:      path,
		Modified:  nanoTime(modified),
		Embedding: emb,
	}, true, nil
}

// All streams every record to fn in (vault, path) order.
func (s *SQLiteStore) All(ctx context.Context, fn func(NoteRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vault_name, path, last_modified, embedding FROM notes
		ORDER BY vault_name, path`)
	if err != nil {
		return fmt.Errorf("scan notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec NoteRecord
		var modified int64
		var blob []byte
		if err := rows.Scan(&rec.Vault, &rec.Path, &modified, &blob); err != nil {
			return fmt.Errorf("scan note row: %w", err)
		}
		rec.Modified = nanoTime(modified)
		if rec.Embedding, err = decodeEmbedding(blob); err != nil {
			return fmt.Errorf("decode embedding for %s/%s: %w", rec.Vault, rec.Path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func nanoTime(n int64) time.Time {
	return time.Unix(0, n)
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian float32 blob.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
