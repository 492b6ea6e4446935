// Package watcher turns filesystem events on version-control metadata into
// debounced scan requests.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
)

// DefaultMaxDepth is how far below a root directories are watched.
const DefaultMaxDepth = 4

// Watcher monitors workspace roots and queues the working-copy path of every
// metadata event.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       Config
	queue     *Queue
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Config holds watcher configuration options.
type Config struct {
	Roots       []string
	MetadataDir string
	// MaxDepth limits how far below each root directories are watched.
	MaxDepth int
	// Ignore reports directories that must not be watched. Optional.
	Ignore      func(path string) bool
	DebounceDur time.Duration
}

// DefaultConfig returns defaults for watching roots.
func DefaultConfig(roots ...string) Config {
	return Config{
		Roots:       roots,
		MetadataDir: paths.DefaultMetadataDir,
		MaxDepth:    DefaultMaxDepth,
		DebounceDur: DefaultDebounce,
	}
}

// New creates a watcher. flush receives each debounced batch of candidate
// working-copy paths.
func New(cfg Config, flush func([]string)) (*Watcher, error) {
	if cfg.MetadataDir == "" {
		cfg.MetadataDir = paths.DefaultMetadataDir
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		cfg:       cfg,
		queue:     NewQueue(cfg.DebounceDur, flush),
		done:      make(chan struct{}),
	}, nil
}

// Start registers watches below every root and begins processing events.
// A root that cannot be watched is logged and skipped.
func (w *Watcher) Start() error {
	var watched int
	for _, root := range w.cfg.Roots {
		root = paths.Normalize(root)
		n, err := w.addTree(root, 0)
		if err != nil {
			log.Warn(log.CatWatcher, "cannot watch root", "root", root, "error", err)
			continue
		}
		watched += n
	}
	if len(w.cfg.Roots) > 0 && watched == 0 {
		return fmt.Errorf("no watchable directories under %v", w.cfg.Roots)
	}
	log.Debug(log.CatWatcher, "watching", "roots", len(w.cfg.Roots), "dirs", watched)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Watch adds a single directory, e.g. the metadata directory of a repository
// opened outside the watched roots.
func (w *Watcher) Watch(dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	return nil
}

// Unwatch removes a directory added with Watch. Missing watches are ignored.
func (w *Watcher) Unwatch(dir string) {
	_ = w.fsWatcher.Remove(dir)
}

// Queue exposes the pending-path queue.
func (w *Watcher) Queue() *Queue {
	return w.queue
}

// Stop terminates the watcher and drops pending paths.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.queue.Stop()
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}

// addTree watches dir and its subdirectories down to MaxDepth. Metadata
// directories are watched but not descended into.
func (w *Watcher) addTree(dir string, depth int) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == w.cfg.MetadataDir {
			if addErr := w.fsWatcher.Add(path); addErr == nil {
				count++
			}
			return filepath.SkipDir
		}
		if path != dir && w.cfg.Ignore != nil && w.cfg.Ignore(path) {
			return filepath.SkipDir
		}
		if addErr := w.fsWatcher.Add(path); addErr != nil {
			log.Debug(log.CatWatcher, "cannot watch directory", "path", path, "error", addErr)
			return filepath.SkipDir
		}
		count++
		if depth+paths.Depth(dir, path) >= w.cfg.MaxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	return count, err
}

// loop processes file system events.
func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "fsnotify error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if candidate, ok := w.candidate(event.Name); ok {
		log.Debug(log.CatWatcher, "metadata event", "op", event.Op.String(), "path", event.Name)
		w.queue.Add(candidate)
		return
	}

	if !event.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}
	if w.cfg.Ignore != nil && w.cfg.Ignore(event.Name) {
		return
	}
	depth, ok := w.depthOf(event.Name)
	if !ok || depth > w.cfg.MaxDepth {
		return
	}
	if _, err := w.addTree(event.Name, depth); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug(log.CatWatcher, "cannot watch new directory", "path", event.Name, "error", err)
	}
	// A checkout may have written its metadata before the watch was added.
	if info, err := os.Stat(filepath.Join(event.Name, w.cfg.MetadataDir)); err == nil && info.IsDir() {
		w.queue.Add(event.Name)
	}
}

// candidate maps an event path to the working copy it belongs to.
func (w *Watcher) candidate(path string) (string, bool) {
	return paths.SplitMetadata(path, w.cfg.MetadataDir)
}

// depthOf returns the depth of path below the closest configured root.
func (w *Watcher) depthOf(path string) (int, bool) {
	best := -1
	for _, root := range w.cfg.Roots {
		d := paths.Depth(paths.Normalize(root), path)
		if d >= 0 && (best < 0 || d < best) {
			best = d
		}
	}
	return best, best >= 0
}
