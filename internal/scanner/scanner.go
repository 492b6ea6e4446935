// Package scanner discovers working copies beneath workspace roots and opens
// them in the registry.
//
// A pass walks a queue of (path, level) items with a fixed pool of workers.
// Every directory read and marker probe additionally holds a slot of a
// scanner-wide semaphore, so the number of simultaneous filesystem
// operations never exceeds the configured concurrency, even when passes
// overlap.
package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/marker"
	"github.com/zjrosen/wcroots/internal/paths"
	"github.com/zjrosen/wcroots/internal/registry"
	"github.com/zjrosen/wcroots/internal/tracing"
)

// DefaultConcurrency bounds simultaneous directory reads.
const DefaultConcurrency = 16

// DefaultMaxDepth is the deepest level below a workspace root that is listed.
const DefaultMaxDepth = 4

// Registry is the part of *registry.Registry the scanner needs.
type Registry interface {
	Has(root string) bool
	Open(ctx context.Context, root string) (*registry.Repository, error)
}

// RootResolver maps a directory holding the metadata marker to the canonical
// working-copy root.
type RootResolver interface {
	WorkingCopyRoot(ctx context.Context, path string) (string, error)
}

// Config holds scanner settings.
type Config struct {
	MetadataDir        string
	MaxDepth           int
	Concurrency        int
	IgnoreGlobs        []string
	IgnoreRepositories []string
}

// Result summarizes one pass.
type Result struct {
	// Visited is the number of directories examined.
	Visited int
	// Found lists the roots opened (or found already open) during the pass.
	Found []string
	// Err is the context error when the pass was cut short.
	Err error
}

// Scanner discovers working copies.
type Scanner struct {
	fs       afero.Fs
	detector *marker.Detector
	reg      Registry
	resolver RootResolver
	tracer   trace.Tracer

	maxDepth    int
	concurrency int
	globs       []string
	ignored     map[string]struct{}
	sem         *semaphore.Weighted

	onUpgrade func(root string, err error)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Scanner) { s.fs = fs }
}

// WithRootResolver sets the canonical root lookup.
func WithRootResolver(r RootResolver) Option {
	return func(s *Scanner) { s.resolver = r }
}

// WithTracer records each pass as a span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

// WithUpgradeHandler is called when a root cannot be opened because its
// working-copy format is outdated.
func WithUpgradeHandler(fn func(root string, err error)) Option {
	return func(s *Scanner) { s.onUpgrade = fn }
}

// New creates a Scanner.
func New(reg Registry, cfg Config, opts ...Option) *Scanner {
	s := &Scanner{
		reg:         reg,
		maxDepth:    cfg.MaxDepth,
		concurrency: cfg.Concurrency,
		ignored:     make(map[string]struct{}, len(cfg.IgnoreRepositories)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop().Tracer()
	}
	if s.maxDepth < 0 {
		s.maxDepth = 0
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	s.sem = semaphore.NewWeighted(int64(s.concurrency))
	s.detector = marker.New(s.fs, cfg.MetadataDir)

	for _, g := range cfg.IgnoreGlobs {
		if !doublestar.ValidatePattern(g) {
			log.Warn(log.CatScan, "invalid ignore glob", "glob", g)
			continue
		}
		// Paths are matched without their leading slash, so absolute
		// patterns lose theirs too.
		s.globs = append(s.globs, strings.TrimPrefix(filepath.ToSlash(g), "/"))
	}
	for _, root := range cfg.IgnoreRepositories {
		s.ignored[paths.Normalize(root)] = struct{}{}
	}
	return s
}

// Scan scans path at level. Level 0 also checks the ancestors of path for a
// working copy; deeper levels only check path itself.
func (s *Scanner) Scan(ctx context.Context, path string, level int) Result {
	return s.ScanAll(ctx, []string{path}, level)
}

// ScanAll scans every path at level in one pass. The seeds are processed
// concurrently.
func (s *Scanner) ScanAll(ctx context.Context, seeds []string, level int) Result {
	ctx, span := s.tracer.Start(ctx, tracing.SpanScanPass, trace.WithAttributes(
		attribute.Int(tracing.AttrScanSeeds, len(seeds)),
		attribute.Int(tracing.AttrScanLevel, level),
	))
	defer span.End()

	p := newPass(ctx)
	for _, seed := range seeds {
		p.push(task{path: paths.Normalize(seed), level: level})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		g.Go(func() error {
			for {
				t, ok := p.next()
				if !ok {
					return gctx.Err()
				}
				p.done(s.visit(gctx, p, t))
			}
		})
	}
	err := g.Wait()
	p.stop()

	res := p.result()
	res.Err = err
	if err != nil {
		tracing.RecordError(span, err)
		log.Debug(log.CatScan, "scan pass interrupted", "error", err)
	}
	span.SetAttributes(
		attribute.Int(tracing.AttrScanVisited, res.Visited),
		attribute.Int(tracing.AttrScanFound, len(res.Found)),
	)
	log.Debug(log.CatScan, "scan pass complete",
		"seeds", len(seeds), "level", level, "visited", res.Visited, "found", len(res.Found))
	return res
}

// visit handles one item and returns the child items to enqueue.
func (s *Scanner) visit(ctx context.Context, p *pass, t task) []task {
	if ctx.Err() != nil || s.reg.Has(t.path) {
		return nil
	}

	dir, ok := s.probe(ctx, t.path, t.level == 0)
	if ok {
		s.openRoot(ctx, p, dir)
		return nil
	}

	if t.level+1 > s.maxDepth {
		return nil
	}
	return s.children(ctx, t)
}

func (s *Scanner) probe(ctx context.Context, path string, checkAncestors bool) (string, bool) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", false
	}
	defer s.sem.Release(1)
	return s.detector.FindRoot(path, checkAncestors)
}

// openRoot holds a semaphore slot for the root lookup and the open, both of
// which may start an svn process.
func (s *Scanner) openRoot(ctx context.Context, p *pass, dir string) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	root := dir
	if s.resolver != nil {
		canonical, err := s.resolver.WorkingCopyRoot(ctx, dir)
		switch {
		case err == nil && canonical != "":
			root = paths.Normalize(canonical)
		case errors.Is(err, registry.ErrOutdatedWorkingCopy):
			s.upgradeRequired(ctx, dir, err)
			return
		case err != nil:
			log.Debug(log.CatScan, "root lookup failed, using marker directory", "dir", dir, "error", err)
		}
	}

	if _, skip := s.ignored[root]; skip {
		log.Debug(log.CatScan, "repository ignored by config", "root", root)
		return
	}
	if !p.claim(root) {
		return
	}
	if s.reg.Has(root) {
		p.found(root)
		return
	}

	if _, err := s.reg.Open(ctx, root); err != nil {
		if errors.Is(err, registry.ErrOutdatedWorkingCopy) {
			s.upgradeRequired(ctx, root, err)
			return
		}
		log.Warn(log.CatScan, "failed to open repository", "root", root, "error", err)
		return
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventRepositoryFound,
		trace.WithAttributes(attribute.String(tracing.AttrRepoRoot, root)))
	p.found(root)
}

func (s *Scanner) upgradeRequired(ctx context.Context, root string, err error) {
	log.Info(log.CatScan, "working copy needs upgrade", "root", root, "error", err)
	trace.SpanFromContext(ctx).AddEvent(tracing.EventUpgradeRequired,
		trace.WithAttributes(attribute.String(tracing.AttrRepoRoot, root)))
	if s.onUpgrade != nil {
		s.onUpgrade(root, err)
	}
}

func (s *Scanner) children(ctx context.Context, t task) []task {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	entries, err := afero.ReadDir(s.fs, t.path)
	s.sem.Release(1)
	if err != nil {
		if pathErr(err) {
			log.Debug(log.CatScan, "cannot list directory", "path", t.path, "error", err)
		} else {
			log.Warn(log.CatScan, "cannot list directory", "path", t.path, "error", err)
		}
		return nil
	}

	var out []task
	for _, e := range entries {
		if !e.IsDir() || e.Name() == s.detector.MetadataDir() {
			continue
		}
		child := filepath.Join(t.path, e.Name())
		if s.Ignored(child) {
			continue
		}
		out = append(out, task{path: child, level: t.level + 1})
	}
	return out
}

// Ignored reports whether path matches one of the ignore globs. Globs are
// matched against the whole path and against its base name. Absolute globs
// such as /ws/big/** match the same paths as their relative form.
func (s *Scanner) Ignored(path string) bool {
	slashed := strings.TrimPrefix(filepath.ToSlash(path), "/")
	base := filepath.Base(path)
	for _, g := range s.globs {
		if ok, _ := doublestar.Match(g, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, base); ok {
			return true
		}
	}
	return false
}

type task struct {
	path  string
	level int
}

// pass is the shared state of one ScanAll call. Workers block in next until
// an item is queued or no worker can produce more.
type pass struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	active  int
	seen    map[string]struct{}
	claimed map[string]struct{}
	visited int
	roots   []string
	halted  bool

	stopWake func() bool
}

func newPass(ctx context.Context) *pass {
	p := &pass{
		seen:    make(map[string]struct{}),
		claimed: make(map[string]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.stopWake = context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.halted = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	return p
}

// push queues t unless its path was already queued in this pass.
// Callers hold no lock.
func (p *pass) push(t task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushLocked(t)
}

func (p *pass) pushLocked(t task) {
	if _, dup := p.seen[t.path]; dup {
		return
	}
	p.seen[t.path] = struct{}{}
	p.queue = append(p.queue, t)
}

func (p *pass) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.halted {
			return task{}, false
		}
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue = p.queue[1:]
			p.active++
			p.visited++
			return t, true
		}
		if p.active == 0 {
			return task{}, false
		}
		p.cond.Wait()
	}
}

func (p *pass) done(children []task) {
	p.mu.Lock()
	for _, c := range children {
		p.pushLocked(c)
	}
	p.active--
	p.mu.Unlock()
	p.cond.Broadcast()
}

// claim reserves root for the calling worker; false if another worker already
// handled it in this pass.
func (p *pass) claim(root string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.claimed[root]; ok {
		return false
	}
	p.claimed[root] = struct{}{}
	return true
}

func (p *pass) found(root string) {
	p.mu.Lock()
	p.roots = append(p.roots, root)
	p.mu.Unlock()
}

func (p *pass) stop() {
	p.stopWake()
}

func (p *pass) result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	roots := append([]string(nil), p.roots...)
	sort.Strings(roots)
	return Result{Visited: p.visited, Found: roots}
}

// pathErr reports whether err is an ordinary filesystem miss.
func pathErr(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission)
}
