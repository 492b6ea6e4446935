package watcher

import (
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before pending paths are flushed.
const DefaultDebounce = 500 * time.Millisecond

// Queue collects candidate paths and flushes them once no new path has been
// added for the debounce delay. Every Add re-arms the single timer.
type Queue struct {
	delay time.Duration
	flush func([]string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewQueue creates a Queue. A non-positive delay uses DefaultDebounce.
// flush runs on its own goroutine and receives the drained paths, sorted.
func NewQueue(delay time.Duration, flush func([]string)) *Queue {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Queue{
		delay:   delay,
		flush:   flush,
		pending: make(map[string]struct{}),
	}
}

// Add records path and restarts the debounce timer.
func (q *Queue) Add(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	q.pending[path] = struct{}{}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.gen++
	gen := q.gen
	q.timer = time.AfterFunc(q.delay, func() { q.fire(gen) })
}

func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	if q.stopped || gen != q.gen {
		// Superseded by a later Add.
		q.mu.Unlock()
		return
	}
	batch := q.drainLocked()
	q.mu.Unlock()

	if len(batch) > 0 {
		q.flush(batch)
	}
}

func (q *Queue) drainLocked() []string {
	q.timer = nil
	if len(q.pending) == 0 {
		return nil
	}
	batch := make([]string, 0, len(q.pending))
	for p := range q.pending {
		batch = append(batch, p)
	}
	q.pending = make(map[string]struct{})
	sort.Strings(batch)
	return batch
}

// Flush drains the queue immediately on the calling goroutine.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.gen++
	batch := q.drainLocked()
	q.mu.Unlock()

	if len(batch) > 0 {
		q.flush(batch)
	}
}

// Pending returns the paths waiting for the next flush, sorted.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.pending))
	for p := range q.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stop cancels the timer and discards pending paths. Later Adds are ignored.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = make(map[string]struct{})
}
