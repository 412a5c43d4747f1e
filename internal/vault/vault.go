// Package vault models named note roots and path mapping between
// absolute note paths and vault-relative paths.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Vault is a named root directory containing notes.
type Vault struct {
	// Name is the stable identifier used wherever a path must be made
	// vault-relative.
	Name string

	// Root is the canonical absolute path of the vault directory.
	Root string
}

// New creates a Vault from a directory path. The vault name is the
// final path component of the resolved root.
func New(root string) (Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Vault{}, fmt.Errorf("resolve vault root %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Vault{}, fmt.Errorf("stat vault root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return Vault{}, fmt.Errorf("vault root is not a directory: %s", abs)
	}

	return Vault{Name: filepath.Base(abs), Root: abs}, nil
}

// Rel converts an absolute note path to its vault-relative form.
func (v Vault) Rel(path string) (string, error) {
	rel, err := filepath.Rel(v.Root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s against vault %s: %w", path, v.Name, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside vault %s", path, v.Name)
	}
	return rel, nil
}

// Abs joins a vault-relative path back onto the vault root.
func (v Vault) Abs(rel string) string {
	return filepath.Join(v.Root, rel)
}

// Contains reports whether an absolute path lies under the vault root.
func (v Vault) Contains(path string) bool {
	_, err := v.Rel(path)
	return err == nil
}

// noteExtensions are the recognized document extensions.
var noteExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// IsNote reports whether a path has a recognized note extension.
func IsNote(path string) bool {
	return noteExtensions[strings.ToLower(filepath.Ext(path))]
}

// Scan walks the vault recursively and returns the absolute paths of
// all notes. Unreadable subdirectories are skipped, not fatal.
func (v Vault) Scan() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(v.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() || !IsNote(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault %s: %w", v.Name, err)
	}

	return paths, nil
}

// RecentNotes returns the vault-relative paths of the topN most
// recently modified notes, newest first.
func (v Vault) RecentNotes(topN int) ([]string, error) {
	type entry struct {
		rel     string
		modTime int64
	}

	var entries []entry
	err := filepath.WalkDir(v.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !IsNote(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := v.Rel(path)
		if err != nil {
			return nil
		}
		entries = append(entries, entry{rel: rel, modTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recent notes in vault %s: %w", v.Name, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime > entries[j].modTime })

	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}

	rels := make([]string, len(entries))
	for i, e := range entries {
		rels[i] = e.rel
	}
	return rels, nil
}

// Set is an ordered collection of vaults with unique names.
type Set []Vault

// NewSet builds a Set from directory paths, rejecting duplicate names.
func NewSet(roots []string) (Set, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one vault is required")
	}

	set := make(Set, 0, len(roots))
	seen := make(map[string]string, len(roots))
	for _, root := range roots {
		v, err := New(root)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[v.Name]; ok {
			return nil, fmt.Errorf("vault name %q maps to both %s and %s", v.Name, prev, v.Root)
		}
		seen[v.Name] = v.Root
		set = append(set, v)
	}
	return set, nil
}

// ByName looks up a vault by its name.
func (s Set) ByName(name string) (Vault, bool) {
	for _, v := range s {
		if v.Name == name {
			return v, true
		}
	}
	return Vault{}, false
}

// Owner returns the vault whose root contains the given absolute path.
func (s Set) Owner(path string) (Vault, bool) {
	for _, v := range s {
		if v.Contains(path) {
			return v, true
		}
	}
	return Vault{}, false
}
