package registry

import (
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
)

// Resolve returns the most specific open repository for hint.
//
// A *Repository or Resource is answered directly without looking at paths.
// A string is resolved with ResolvePath. Any other hint resolves to nothing.
func (r *Registry) Resolve(hint any) (*Repository, bool) {
	switch h := hint.(type) {
	case nil:
		return nil, false
	case *Repository:
		if h == nil {
			return nil, false
		}
		return h, true
	case Resource:
		repo := h.Repository()
		return repo, repo != nil
	case string:
		return r.ResolvePath(h)
	default:
		return nil, false
	}
}

// ResolvePath returns the open repository with the longest root that contains
// path, skipping any repository for which path lies in an excluded subtree
// (externals and ignored entries). It does not scan.
func (r *Registry) ResolvePath(path string) (*Repository, bool) {
	path = paths.Normalize(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, repo := range r.ordered {
		if !paths.IsDescendant(repo.root, path) {
			continue
		}
		if r.exclusions.Excludes(repo.root, path) {
			log.Debug(log.CatResolve, "path excluded", "path", path, "root", repo.root)
			continue
		}
		return repo, true
	}
	return nil, false
}
