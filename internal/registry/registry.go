package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/zjrosen/wcroots/internal/exclusion"
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/tracing"
)

// Registry is the authoritative set of open repositories.
// At most one Repository exists per normalized root.
type Registry struct {
	opener     Opener
	setups     []SetupFunc
	exclusions *exclusion.Cache
	newID      func() string
	tracer     trace.Tracer

	mu      sync.RWMutex
	repos   map[string]*Repository
	ordered []*Repository // longest root first
	shut    bool

	inflight singleflight.Group

	opened        pubsub.Emitter[*Repository]
	closed        pubsub.Emitter[*Repository]
	changed       pubsub.Emitter[Change]
	statusChanged pubsub.Emitter[*Repository]
}

// Option configures a Registry.
type Option func(*Registry)

// WithSetup adds a hook run for every attached repository after the
// registry's own listeners are wired.
func WithSetup(fn SetupFunc) Option {
	return func(r *Registry) {
		r.setups = append(r.setups, fn)
	}
}

// WithExclusionCache shares an existing exclusion cache.
func WithExclusionCache(c *exclusion.Cache) Option {
	return func(r *Registry) {
		r.exclusions = c
	}
}

// WithIDGenerator overrides repository ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// WithTracer records every Opener call as a span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = t
	}
}

// New creates an empty registry. opener may be nil when repositories are only
// added through Attach.
func New(opener Opener, opts ...Option) *Registry {
	r := &Registry{
		opener: opener,
		newID:  uuid.NewString,
		repos:  make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.exclusions == nil {
		r.exclusions = exclusion.New()
	}
	if r.tracer == nil {
		r.tracer = tracing.Noop().Tracer()
	}
	return r
}

// Open opens the working copy at root through the Opener, or returns the
// repository already open there. Concurrent opens of the same root share
// one Opener call.
func (r *Registry) Open(ctx context.Context, root string) (*Repository, error) {
	root = paths.Normalize(root)
	if repo := r.Get(root); repo != nil {
		return repo, nil
	}
	if r.opener == nil {
		return nil, fmt.Errorf("opening %s: no opener configured", root)
	}

	v, err, _ := r.inflight.Do(root, func() (any, error) {
		if repo := r.Get(root); repo != nil {
			return repo, nil
		}
		ctx, span := r.tracer.Start(ctx, tracing.SpanRepositoryOpen,
			trace.WithAttributes(attribute.String(tracing.AttrRepoRoot, root)))
		defer span.End()

		h, err := r.opener.Open(ctx, root)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("opening %s: %w", root, err)
		}
		repo, err := r.Attach(h)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.String(tracing.AttrRepoID, repo.ID()))
		return repo, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Repository), nil
}

// Attach registers an already opened handle. If a repository with the same
// root is open, the new handle is disposed and the existing one returned.
func (r *Registry) Attach(h Handle) (*Repository, error) {
	root := paths.Normalize(h.Root())
	repo := &Repository{
		id:       r.newID(),
		root:     root,
		handle:   h,
		openedAt: time.Now(),
		registry: r,
	}

	// Disposal is observed before the entry becomes visible, so a handle that
	// dies while the open is in progress is never left registered.
	repo.track(h.OnDisposed(repo.Dispose))
	externals, ignored := h.Externals(), h.Ignored()

	r.mu.Lock()
	if r.shut {
		r.mu.Unlock()
		repo.Dispose()
		return nil, ErrClosed
	}
	if existing := r.repos[root]; existing != nil {
		r.mu.Unlock()
		if existing.handle == h {
			repo.unwind()
		} else {
			repo.Dispose()
		}
		return existing, nil
	}
	if repo.isDisposed() {
		r.mu.Unlock()
		return nil, fmt.Errorf("opening %s: %w", root, ErrHandleDisposed)
	}
	r.exclusions.Rebuild(root, externals, ignored)
	r.insertLocked(repo)
	r.mu.Unlock()

	if err := r.wire(repo); err != nil {
		repo.once.Do(func() {
			repo.markDisposed()
			repo.unwind()
			r.remove(repo)
			h.Dispose()
		})
		log.ErrorErr(log.CatRegistry, "repository setup failed", err, "root", root)
		return nil, fmt.Errorf("setting up %s: %w", root, err)
	}
	if repo.isDisposed() {
		log.Debug(log.CatRegistry, "repository disposed while opening", "root", root)
		return nil, fmt.Errorf("opening %s: %w", root, ErrHandleDisposed)
	}

	log.Info(log.CatRegistry, "repository opened", "root", root, "id", repo.id)
	r.opened.Fire(repo)
	return repo, nil
}

func (r *Registry) wire(repo *Repository) error {
	h := repo.handle

	repo.track(h.OnStatusChanged(func() {
		externals, ignored := h.Externals(), h.Ignored()

		// Checked and rebuilt under the registry lock so a concurrent close
		// cannot be followed by a stale rebuild.
		r.mu.RLock()
		live := r.repos[repo.root] == repo
		n := 0
		if live {
			n = r.exclusions.Rebuild(repo.root, externals, ignored)
		}
		r.mu.RUnlock()
		if !live {
			return
		}
		log.Debug(log.CatRegistry, "exclusions rebuilt", "root", repo.root, "entries", n)
		r.statusChanged.Fire(repo)
	}))
	repo.track(h.OnChanged(func(path string) {
		r.changed.Fire(Change{Repository: repo, Path: path})
	}))

	for _, setup := range r.setups {
		teardown, err := setup(repo)
		repo.track(teardown)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) insertLocked(repo *Repository) {
	r.repos[repo.root] = repo
	idx := sort.Search(len(r.ordered), func(i int) bool {
		return len(r.ordered[i].root) < len(repo.root)
	})
	r.ordered = append(r.ordered, nil)
	copy(r.ordered[idx+1:], r.ordered[idx:])
	r.ordered[idx] = repo
}

// remove drops repo if it is still the entry for its root.
func (r *Registry) remove(repo *Repository) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repos[repo.root] != repo {
		return false
	}
	delete(r.repos, repo.root)
	for i, candidate := range r.ordered {
		if candidate == repo {
			r.ordered = append(r.ordered[:i:i], r.ordered[i+1:]...)
			break
		}
	}
	r.exclusions.Remove(repo.root)
	return true
}

// Close disposes repo. No-op when it is not open in this registry.
func (r *Registry) Close(repo *Repository) {
	if repo == nil || repo.registry != r {
		return
	}
	if r.Get(repo.root) != repo {
		return
	}
	repo.Dispose()
}

// CloseRoot disposes the repository open at root and reports whether one was.
func (r *Registry) CloseRoot(root string) bool {
	repo := r.Get(root)
	if repo == nil {
		return false
	}
	repo.Dispose()
	return true
}

// CloseAll disposes every open repository and rejects further opens.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.shut = true
	open := make([]*Repository, len(r.ordered))
	copy(open, r.ordered)
	r.mu.Unlock()

	for _, repo := range open {
		repo.Dispose()
	}
}

// Has reports whether a repository is open at root.
func (r *Registry) Has(root string) bool {
	return r.Get(root) != nil
}

// Get returns the repository open at root, or nil.
func (r *Registry) Get(root string) *Repository {
	root = paths.Normalize(root)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repos[root]
}

// List returns the open repositories, most specific (longest) root first.
func (r *Registry) List() []*Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Repository, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of open repositories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.repos)
}

// Exclusions returns the current exclusion set of the repository at root.
func (r *Registry) Exclusions(root string) []string {
	return r.exclusions.Entries(paths.Normalize(root))
}

// OnOpened subscribes to repository opens.
func (r *Registry) OnOpened(fn func(*Repository)) func() { return r.opened.On(fn) }

// OnClosed subscribes to repository closes.
func (r *Registry) OnClosed(fn func(*Repository)) func() { return r.closed.On(fn) }

// OnChanged subscribes to path changes inside open repositories.
func (r *Registry) OnChanged(fn func(Change)) func() { return r.changed.On(fn) }

// OnStatusChanged subscribes to status refreshes of open repositories.
func (r *Registry) OnStatusChanged(fn func(*Repository)) func() { return r.statusChanged.On(fn) }
