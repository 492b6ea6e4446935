package registry

import (
	"sync"
	"time"

	"github.com/zjrosen/wcroots/internal/log"
)

// Repository is one open working copy.
type Repository struct {
	id       string
	root     string
	handle   Handle
	openedAt time.Time
	registry *Registry

	mu        sync.Mutex
	teardowns []func()
	disposed  bool
	once      sync.Once
}

// ID returns the session-unique identifier assigned on open.
func (r *Repository) ID() string { return r.id }

// Root returns the normalized working-copy root.
func (r *Repository) Root() string { return r.root }

// Handle returns the underlying collaborator.
func (r *Repository) Handle() Handle { return r.handle }

// OpenedAt returns when the repository was opened.
func (r *Repository) OpenedAt() time.Time { return r.openedAt }

// Repository returns r, so *Repository satisfies Resource.
func (r *Repository) Repository() *Repository { return r }

// Dispose closes the repository: listeners are removed in reverse
// registration order, the handle is disposed, the entry and its exclusion set
// are dropped and the closed notification fires. Safe to call repeatedly.
func (r *Repository) Dispose() {
	r.once.Do(func() {
		r.markDisposed()
		r.unwind()
		r.handle.Dispose()
		if r.registry.remove(r) {
			log.Info(log.CatRegistry, "repository closed", "root", r.root, "id", r.id)
			r.registry.closed.Fire(r)
		}
	})
}

// track keeps teardown for unwind. On a disposed repository it runs at once.
func (r *Repository) track(teardown func()) {
	if teardown == nil {
		return
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		teardown()
		return
	}
	r.teardowns = append(r.teardowns, teardown)
	r.mu.Unlock()
}

func (r *Repository) markDisposed() {
	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
}

func (r *Repository) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

func (r *Repository) unwind() {
	r.mu.Lock()
	teardowns := r.teardowns
	r.teardowns = nil
	r.mu.Unlock()

	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}
