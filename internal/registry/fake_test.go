package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/wcroots/internal/pubsub"
)

// fakeHandle is an in-memory Handle whose notifications are driven by tests.
type fakeHandle struct {
	root string

	mu        sync.Mutex
	externals []string
	ignored   []string

	// onExternals runs at the start of every Externals call.
	onExternals func()

	status   pubsub.Emitter[struct{}]
	disposed pubsub.Emitter[struct{}]
	changed  pubsub.Emitter[string]

	disposeCount atomic.Int32
}

func newFakeHandle(root string, externals, ignored []string) *fakeHandle {
	return &fakeHandle{root: root, externals: externals, ignored: ignored}
}

func (h *fakeHandle) Root() string { return h.root }

func (h *fakeHandle) OnStatusChanged(fn func()) func() {
	return h.status.On(func(struct{}) { fn() })
}

func (h *fakeHandle) OnDisposed(fn func()) func() {
	return h.disposed.On(func(struct{}) { fn() })
}

func (h *fakeHandle) OnChanged(fn func(string)) func() {
	return h.changed.On(fn)
}

func (h *fakeHandle) Externals() []string {
	h.mu.Lock()
	hook := h.onExternals
	h.mu.Unlock()
	if hook != nil {
		hook()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.externals...)
}

func (h *fakeHandle) Ignored() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ignored...)
}

func (h *fakeHandle) Dispose() {
	if h.disposeCount.Add(1) == 1 {
		h.disposed.Fire(struct{}{})
	}
}

// setStatus replaces the externals and ignored lists and fires a status change.
func (h *fakeHandle) setStatus(externals, ignored []string) {
	h.mu.Lock()
	h.externals = externals
	h.ignored = ignored
	h.mu.Unlock()
	h.status.Fire(struct{}{})
}

func (h *fakeHandle) setExternalsHook(fn func()) {
	h.mu.Lock()
	h.onExternals = fn
	h.mu.Unlock()
}

// vanish simulates the working copy disappearing underneath the handle.
func (h *fakeHandle) vanish() { h.Dispose() }

func (h *fakeHandle) listeners() int {
	return h.status.Len() + h.disposed.Len() + h.changed.Len()
}

// fakeOpener hands out fakeHandles and counts Open calls per root.
type fakeOpener struct {
	mu      sync.Mutex
	calls   map[string]int
	handles map[string]*fakeHandle
	err     map[string]error
	gate    chan struct{}
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		calls:   make(map[string]int),
		handles: make(map[string]*fakeHandle),
		err:     make(map[string]error),
	}
}

func (o *fakeOpener) Open(ctx context.Context, root string) (Handle, error) {
	if o.gate != nil {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[root]++
	if err := o.err[root]; err != nil {
		return nil, err
	}
	h := newFakeHandle(root, nil, nil)
	o.handles[root] = h
	return h, nil
}

func (o *fakeOpener) callCount(root string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[root]
}

func (o *fakeOpener) handle(root string) *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[root]
}

// wrapper is a Resource as a UI provider would hand it out.
type wrapper struct {
	repo *Repository
}

func (w wrapper) Repository() *Repository { return w.repo }
