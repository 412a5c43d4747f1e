// Package search answers semantic queries against the note index.
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/notemcp/notemcp/internal/embed"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
)

// Default HNSW parameters.
const (
	defaultM        = 16
	defaultEfSearch = 20

	// DefaultTopK is the number of results a search returns when the
	// caller does not say otherwise.
	DefaultTopK = 10
)

// Result is one search hit.
type Result struct {
	// Vault is the owning vault's name.
	Vault string

	// Path is the note path relative to the vault root.
	Path string

	// AbsPath is the resolved absolute path, empty when the vault is
	// not mounted in this process.
	AbsPath string

	// Score is a similarity in [0, 1], higher is closer.
	Score float32
}

// Searcher maintains an in-memory HNSW graph over the note store and
// answers nearest-neighbor queries. Updates arrive through Add as the
// ingester upserts records.
type Searcher struct {
	embedder embed.Embedder
	vaults   vault.Set

	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	// Key mapping with lazy deletion: replacing a note orphans its old
	// graph node, which Search filters out via keyMap. This avoids a
	// coder/hnsw bug where deleting the last node breaks the graph.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// modified tracks each note's stored mtime so reloading from the
	// store skips unchanged notes instead of orphaning graph nodes.
	modified map[string]int64

	dims int
}

// noteID builds the graph-level identity of a note.
func noteID(vaultName, relPath string) string {
	return vaultName + "\x00" + relPath
}

func splitNoteID(id string) (vaultName, relPath string) {
	for i := 0; i < len(id); i++ {
		if id[i] == 0 {
			return id[:i], id[i+1:]
		}
	}
	return "", id
}

// NewSearcher creates an empty searcher. The vault set is used to
// resolve result paths back to absolute form and may be nil.
func NewSearcher(embedder embed.Embedder, vaults vault.Set) *Searcher {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = defaultEfSearch
	graph.Ml = 0.25

	return &Searcher{
		embedder: embedder,
		vaults:   vaults,
		graph:    graph,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		modified: make(map[string]int64),
	}
}

// LoadFromStore populates the graph from every record in the store.
func (s *Searcher) LoadFromStore(ctx context.Context, st store.NoteStore) error {
	return st.All(ctx, func(rec store.NoteRecord) error {
		return s.Add(rec)
	})
}

// Add inserts or replaces a note's vector in the graph.
func (s *Searcher) Add(rec store.NoteRecord) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("empty embedding for %s/%s", rec.Vault, rec.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dims == 0 {
		s.dims = len(rec.Embedding)
	} else if len(rec.Embedding) != s.dims {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(rec.Embedding), s.dims)
	}

	id := noteID(rec.Vault, rec.Path)
	if oldKey, exists := s.idMap[id]; exists {
		if !rec.Modified.IsZero() && s.modified[id] == rec.Modified.UnixNano() {
			return nil // unchanged since last add
		}
		delete(s.keyMap, oldKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(rec.Embedding))
	copy(vec, rec.Embedding)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.modified[id] = rec.Modified.UnixNano()

	return nil
}

// Len returns the number of live notes in the graph.
func (s *Searcher) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Search embeds the query and returns the topK closest notes.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 {
		return []Result{}, nil
	}

	// Over-fetch to compensate for orphaned nodes left by lazy
	// deletion, then filter.
	orphans := s.graph.Len() - len(s.keyMap)
	nodes := s.graph.Search(vec, topK+orphans)

	results := make([]Result, 0, topK)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}

		vaultName, relPath := splitNoteID(id)
		r := Result{
			Vault: vaultName,
			Path:  relPath,
			Score: 1.0 - s.graph.Distance(vec, node.Value)/2.0,
		}
		if v, ok := s.vaults.ByName(vaultName); ok {
			r.AbsPath = v.Abs(relPath)
		}

		results = append(results, r)
		if len(results) == topK {
			break
		}
	}

	return results, nil
}
