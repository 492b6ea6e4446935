// Package exclusion keeps, per open repository, the absolute paths that must
// not resolve to that repository: its externals and its ignored entries.
package exclusion

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/zjrosen/wcroots/internal/paths"
)

// Cache maps a repository root to its materialized exclusion set.
// Sets are replaced wholesale on Rebuild, never patched.
type Cache struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{sets: make(map[string]map[string]struct{})}
}

// Rebuild replaces the exclusion set of root. Relative entries are joined to
// root; absolute entries are cleaned. Entries that resolve to root itself or
// outside of it are dropped.
func (c *Cache) Rebuild(root string, externals, ignored []string) int {
	set := make(map[string]struct{}, len(externals)+len(ignored))
	add := func(entry string) {
		if entry == "" {
			return
		}
		abs := entry
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, entry)
		}
		abs = filepath.Clean(abs)
		if abs == root || !paths.IsDescendant(root, abs) {
			return
		}
		set[abs] = struct{}{}
	}
	for _, e := range externals {
		add(e)
	}
	for _, e := range ignored {
		add(e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(set) == 0 {
		delete(c.sets, root)
		return 0
	}
	c.sets[root] = set
	return len(set)
}

// Remove deletes the exclusion set of root.
func (c *Cache) Remove(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, root)
}

// Excludes reports whether path equals, or descends from, an excluded entry of
// root. path must be normalized and a descendant of root. The walk goes from
// path up to root with one set lookup per level.
func (c *Cache) Excludes(root, path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.sets[root]
	if len(set) == 0 {
		return false
	}

	for p := path; p != root; {
		if _, ok := set[p]; ok {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p || len(parent) < len(root) {
			return false
		}
		p = parent
	}
	return false
}

// Entries returns the sorted exclusion set of root.
func (c *Cache) Entries(root string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.sets[root]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of roots with a non-empty exclusion set.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets)
}
