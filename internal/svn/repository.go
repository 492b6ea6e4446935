package svn

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/registry"
)

var (
	_ registry.Handle    = (*Repository)(nil)
	_ registry.Refresher = (*Repository)(nil)
)

// Repository is an open Subversion working copy.
type Repository struct {
	root   string
	client *Client

	mu        sync.Mutex
	items     map[string]string
	externals []string
	ignored   []string

	statusChanged pubsub.Emitter[struct{}]
	disposedEv    pubsub.Emitter[struct{}]
	changed       pubsub.Emitter[string]
	disposed      atomic.Bool
}

// NewRepository creates a handle for root. Call Refresh to load its status.
func NewRepository(root string, client *Client) *Repository {
	return &Repository{root: root, client: client, items: map[string]string{}}
}

func (r *Repository) Root() string { return r.root }

func (r *Repository) OnStatusChanged(fn func()) func() {
	return r.statusChanged.On(func(struct{}) { fn() })
}

func (r *Repository) OnDisposed(fn func()) func() {
	return r.disposedEv.On(func(struct{}) { fn() })
}

func (r *Repository) OnChanged(fn func(string)) func() {
	return r.changed.On(fn)
}

func (r *Repository) Externals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.externals...)
}

func (r *Repository) Ignored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ignored...)
}

// Refresh re-reads status. Entries whose status changed fire the changed
// notification, followed by one status-changed notification. A working copy
// that no longer exists disposes the repository.
func (r *Repository) Refresh(ctx context.Context) error {
	if r.disposed.Load() {
		return registry.ErrClosed
	}

	st, err := r.client.Status(ctx, r.root)
	if err != nil {
		if errors.Is(err, registry.ErrNotWorkingCopy) {
			log.Info(log.CatSVN, "working copy vanished", "root", r.root)
			r.Dispose()
		}
		return err
	}

	items := st.Items()
	r.mu.Lock()
	var changed []string
	for p, item := range items {
		if r.items[p] != item {
			changed = append(changed, p)
		}
	}
	for p := range r.items {
		if _, ok := items[p]; !ok {
			changed = append(changed, p)
		}
	}
	r.items = items
	r.externals = st.Externals()
	r.ignored = st.Ignored()
	r.mu.Unlock()

	sort.Strings(changed)
	for _, p := range changed {
		r.changed.Fire(p)
	}
	r.statusChanged.Fire(struct{}{})
	log.Debug(log.CatSVN, "status refreshed", "root", r.root, "entries", len(items), "changed", len(changed))
	return nil
}

// Dispose marks the repository closed and fires the disposed notification
// once.
func (r *Repository) Dispose() {
	if r.disposed.CompareAndSwap(false, true) {
		r.disposedEv.Fire(struct{}{})
	}
}

// Opener opens Subversion working copies for the registry.
type Opener struct {
	client *Client
}

var _ registry.Opener = (*Opener)(nil)

// NewOpener creates an Opener backed by client.
func NewOpener(client *Client) *Opener {
	return &Opener{client: client}
}

// Open creates the handle and loads its initial status.
func (o *Opener) Open(ctx context.Context, root string) (registry.Handle, error) {
	repo := NewRepository(root, o.client)
	if err := repo.Refresh(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}
