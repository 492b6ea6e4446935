package workspace

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/registry"
)

type fakeHandle struct {
	root      string
	externals []string
	ignored   []string

	status   pubsub.Emitter[struct{}]
	disposed pubsub.Emitter[struct{}]
	changed  pubsub.Emitter[string]

	refreshes    atomic.Int32
	disposeCount atomic.Int32
}

func (h *fakeHandle) Root() string { return h.root }
func (h *fakeHandle) OnStatusChanged(fn func()) func() {
	return h.status.On(func(struct{}) { fn() })
}
func (h *fakeHandle) OnDisposed(fn func()) func() {
	return h.disposed.On(func(struct{}) { fn() })
}
func (h *fakeHandle) OnChanged(fn func(string)) func() { return h.changed.On(fn) }
func (h *fakeHandle) Externals() []string              { return h.externals }
func (h *fakeHandle) Ignored() []string                { return h.ignored }

func (h *fakeHandle) Refresh(context.Context) error {
	h.refreshes.Add(1)
	h.status.Fire(struct{}{})
	return nil
}

func (h *fakeHandle) Dispose() {
	if h.disposeCount.Add(1) == 1 {
		h.disposed.Fire(struct{}{})
	}
}

// fakeOpener opens every root; per-root externals, ignored entries and
// errors are configured up front.
type fakeOpener struct {
	mu        sync.Mutex
	externals map[string][]string
	ignored   map[string][]string
	errs      map[string]error
	handles   map[string]*fakeHandle
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		externals: make(map[string][]string),
		ignored:   make(map[string][]string),
		errs:      make(map[string]error),
		handles:   make(map[string]*fakeHandle),
	}
}

func (o *fakeOpener) Open(_ context.Context, root string) (registry.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[root]; err != nil {
		return nil, err
	}
	h := &fakeHandle{root: root, externals: o.externals[root], ignored: o.ignored[root]}
	o.handles[root] = h
	return h, nil
}

func (o *fakeOpener) handle(root string) *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[root]
}

func (o *fakeOpener) clearErr(root string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.errs, root)
}

// fakeUpgrader clears the opener's error for the upgraded root.
type fakeUpgrader struct {
	opener *fakeOpener
	err    error

	mu    sync.Mutex
	calls []string
}

func (u *fakeUpgrader) Upgrade(_ context.Context, path string) error {
	u.mu.Lock()
	u.calls = append(u.calls, path)
	u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.opener.clearErr(path)
	return nil
}

func (u *fakeUpgrader) called() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}
