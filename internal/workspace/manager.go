// Package workspace runs the discovery engine for a set of workspace roots:
// the initial scan, watcher-driven rescans, secondary scans of externals and
// ignored entries, and the upgrade workflow for outdated working copies.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/wcroots/internal/config"
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/marker"
	"github.com/zjrosen/wcroots/internal/paths"
	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/registry"
	"github.com/zjrosen/wcroots/internal/scanner"
	"github.com/zjrosen/wcroots/internal/tracing"
	"github.com/zjrosen/wcroots/internal/watcher"
)

// Upgrader converts a working copy in an outdated format.
type Upgrader interface {
	Upgrade(ctx context.Context, path string) error
}

// Manager orchestrates scanning for one registry.
type Manager struct {
	cfg      config.Config
	reg      *registry.Registry
	fs       afero.Fs
	detector *marker.Detector
	scanner  *scanner.Scanner
	resolver scanner.RootResolver
	upgrader Upgrader
	tracer   trace.Tracer
	broker   *pubsub.Broker[Event]
	watcher  *watcher.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	started  bool
	offs     []func()
	upgraded map[string]struct{}

	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem used for marker probes and directory listing.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithRootResolver sets the canonical working-copy root lookup.
func WithRootResolver(r scanner.RootResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithUpgrader enables automatic upgrades when config upgrade.auto is set.
func WithUpgrader(u Upgrader) Option {
	return func(m *Manager) { m.upgrader = u }
}

// WithTracer records scan passes, rescans and upgrades as spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// New creates a Manager. Nothing runs until Start.
func New(cfg config.Config, reg *registry.Registry, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		reg:      reg,
		broker:   pubsub.NewBroker[Event](),
		ctx:      ctx,
		cancel:   cancel,
		upgraded: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.tracer == nil {
		m.tracer = tracing.Noop().Tracer()
	}
	m.detector = marker.New(m.fs, cfg.MetadataDir)

	scanOpts := []scanner.Option{
		scanner.WithFs(m.fs),
		scanner.WithTracer(m.tracer),
		scanner.WithUpgradeHandler(m.upgradeRequired),
	}
	if m.resolver != nil {
		scanOpts = append(scanOpts, scanner.WithRootResolver(m.resolver))
	}
	m.scanner = scanner.New(reg, scanner.Config{
		MetadataDir:        cfg.MetadataDir,
		MaxDepth:           cfg.MaxDepth,
		Concurrency:        cfg.Concurrency,
		IgnoreGlobs:        cfg.IgnoreGlobs,
		IgnoreRepositories: cfg.IgnoreRepositories,
	}, scanOpts...)
	return m
}

// Roots returns the normalized workspace roots; the current directory when
// none are configured.
func (m *Manager) Roots() []string {
	if len(m.cfg.Roots) == 0 {
		return []string{paths.Normalize(".")}
	}
	out := make([]string, len(m.cfg.Roots))
	for i, r := range m.cfg.Roots {
		out[i] = paths.Normalize(r)
	}
	return out
}

// Scanner exposes the underlying scanner.
func (m *Manager) Scanner() *scanner.Scanner {
	return m.scanner
}

// Start subscribes to the registry, starts the watcher when enabled and
// launches the initial workspace scan in the background. Cancelling ctx stops
// background work; Close releases everything.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return registry.ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("workspace manager already started")
	}
	m.started = true
	m.mu.Unlock()

	context.AfterFunc(ctx, m.cancel)

	if m.cfg.Watch {
		w, err := watcher.New(watcher.Config{
			Roots:       m.Roots(),
			MetadataDir: m.detector.MetadataDir(),
			MaxDepth:    m.cfg.MaxDepth,
			Ignore:      m.scanner.Ignored,
			DebounceDur: m.cfg.Debounce,
		}, m.onFlush)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			_ = w.Stop()
			return fmt.Errorf("starting watcher: %w", err)
		}
		m.watcher = w
	}

	m.subscribe()

	m.goBackground(func(ctx context.Context) {
		res := m.ScanWorkspace(ctx)
		log.Info(log.CatWorkspace, "initial scan complete",
			"roots", len(m.Roots()), "visited", res.Visited, "found", len(res.Found))
	})
	return nil
}

func (m *Manager) subscribe() {
	offs := []func(){
		m.reg.OnOpened(m.onOpened),
		m.reg.OnClosed(m.onClosed),
		m.reg.OnChanged(func(c registry.Change) {
			m.broker.Publish(pubsub.ChangedEvent, Event{Kind: pubsub.ChangedEvent, Root: c.Repository.Root(), Path: c.Path})
		}),
		m.reg.OnStatusChanged(m.onStatusChanged),
	}
	m.mu.Lock()
	m.offs = append(m.offs, offs...)
	m.mu.Unlock()
}

func (m *Manager) onOpened(repo *registry.Repository) {
	m.broker.Publish(pubsub.OpenedEvent, Event{Kind: pubsub.OpenedEvent, Root: repo.Root()})
	if m.watcher != nil {
		dir := filepath.Join(repo.Root(), m.detector.MetadataDir())
		if err := m.watcher.Watch(dir); err != nil {
			log.Debug(log.CatWorkspace, "cannot watch metadata", "root", repo.Root(), "error", err)
		}
	}
	// The first status was read before the repository was registered.
	m.scanSecondary(repo)
}

func (m *Manager) onClosed(repo *registry.Repository) {
	m.broker.Publish(pubsub.ClosedEvent, Event{Kind: pubsub.ClosedEvent, Root: repo.Root()})
	if m.watcher != nil {
		m.watcher.Unwatch(filepath.Join(repo.Root(), m.detector.MetadataDir()))
	}
}

func (m *Manager) onStatusChanged(repo *registry.Repository) {
	m.broker.Publish(pubsub.StatusChangedEvent, Event{Kind: pubsub.StatusChangedEvent, Root: repo.Root()})
	m.scanSecondary(repo)
}

// scanSecondary scans externals and ignored entries of repo for nested
// working copies.
func (m *Manager) scanSecondary(repo *registry.Repository) {
	seeds := m.secondarySeeds(repo)
	if len(seeds) == 0 {
		return
	}
	m.goBackground(func(ctx context.Context) {
		res := m.scanner.ScanAll(ctx, seeds, 1)
		if len(res.Found) > 0 {
			log.Debug(log.CatWorkspace, "secondary scan", "root", repo.Root(), "found", res.Found)
		}
	})
}

func (m *Manager) secondarySeeds(repo *registry.Repository) []string {
	var seeds []string
	h := repo.Handle()
	if m.cfg.DetectExternals {
		for _, e := range h.Externals() {
			if !filepath.IsAbs(e) {
				e = filepath.Join(repo.Root(), e)
			}
			if !m.reg.Has(paths.Normalize(e)) {
				seeds = append(seeds, e)
			}
		}
	}
	if m.cfg.DetectIgnored {
		// Only directories outside the ignore globs can hold a working copy.
		for _, e := range h.Ignored() {
			if m.reg.Has(paths.Normalize(e)) || m.scanner.Ignored(e) {
				continue
			}
			if isDir, _ := afero.IsDir(m.fs, e); isDir {
				seeds = append(seeds, e)
			}
		}
	}
	return seeds
}

// ScanWorkspace scans every workspace root at level 0 and blocks until done.
func (m *Manager) ScanWorkspace(ctx context.Context) scanner.Result {
	return m.scanner.ScanAll(ctx, m.Roots(), 0)
}

// onFlush receives debounced watcher batches.
func (m *Manager) onFlush(batch []string) {
	m.goBackground(func(ctx context.Context) {
		m.Rescan(ctx, batch)
	})
}

// Rescan handles candidate paths reported by the watcher. An open root whose
// marker is gone is closed, any other open root is refreshed, then every
// path is scanned at level 1.
func (m *Manager) Rescan(ctx context.Context, candidates []string) scanner.Result {
	ctx, span := m.tracer.Start(ctx, tracing.SpanRescan,
		trace.WithAttributes(attribute.Int(tracing.AttrPathCount, len(candidates))))
	defer span.End()

	for _, p := range candidates {
		root := paths.Normalize(p)
		repo := m.reg.Get(root)
		if repo == nil {
			continue
		}
		if !m.detector.HasMarker(root) {
			log.Info(log.CatWorkspace, "working copy vanished", "root", root)
			span.AddEvent(tracing.EventRepositoryClosed,
				trace.WithAttributes(attribute.String(tracing.AttrRepoRoot, root)))
			m.reg.Close(repo)
			continue
		}
		if r, ok := repo.Handle().(registry.Refresher); ok {
			if err := r.Refresh(ctx); err != nil && !errors.Is(err, registry.ErrClosed) {
				log.Warn(log.CatWorkspace, "refresh failed", "root", root, "error", err)
			}
		}
	}
	return m.scanner.ScanAll(ctx, candidates, 1)
}

// upgradeRequired publishes an upgrade event and, when configured, upgrades
// the working copy and scans it again. Each root is upgraded at most once.
func (m *Manager) upgradeRequired(root string, err error) {
	m.broker.Publish(pubsub.UpgradeEvent, Event{Kind: pubsub.UpgradeEvent, Root: root, Err: err})
	if !m.cfg.Upgrade.Auto || m.upgrader == nil {
		return
	}

	m.mu.Lock()
	if _, done := m.upgraded[root]; done {
		m.mu.Unlock()
		return
	}
	m.upgraded[root] = struct{}{}
	m.mu.Unlock()

	m.goBackground(func(ctx context.Context) {
		m.upgrade(ctx, root)
	})
}

func (m *Manager) upgrade(ctx context.Context, root string) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanUpgrade,
		trace.WithAttributes(attribute.String(tracing.AttrRepoRoot, root)))
	defer span.End()

	if err := m.upgrader.Upgrade(ctx, root); err != nil {
		tracing.RecordError(span, err)
		log.ErrorErr(log.CatWorkspace, "upgrade failed", err, "root", root)
		return
	}
	res := m.scanner.Scan(ctx, root, 1)
	log.Info(log.CatWorkspace, "upgraded working copy", "root", root, "found", len(res.Found))
}

// Events subscribes to lifecycle events. The channel closes with ctx or Close.
func (m *Manager) Events(ctx context.Context) <-chan pubsub.Event[Event] {
	return m.broker.Subscribe(ctx)
}

// Wait blocks until all background scans have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops the watcher, cancels background work, waits for it and closes
// the event stream. Open repositories stay in the registry.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		offs := m.offs
		m.offs = nil
		m.mu.Unlock()

		for _, off := range offs {
			off()
		}
		if m.watcher != nil {
			err = m.watcher.Stop()
		}
		m.cancel()
		m.wg.Wait()
		m.broker.Close()
	})
	return err
}

func (m *Manager) goBackground(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}
