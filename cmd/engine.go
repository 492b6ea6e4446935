package cmd

import (
	"context"
	"time"

	"github.com/zjrosen/wcroots/internal/config"
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/registry"
	"github.com/zjrosen/wcroots/internal/svn"
	"github.com/zjrosen/wcroots/internal/tracing"
	"github.com/zjrosen/wcroots/internal/workspace"
)

// engine bundles everything a command needs to discover working copies.
type engine struct {
	registry *registry.Registry
	manager  *workspace.Manager
	tracer   *tracing.Provider
}

func newEngine(c config.Config) (*engine, error) {
	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, err
	}

	client := svn.NewClient(svn.NewRealExecutor(c.SVNBinary), c.RootCacheTTL)
	reg := registry.New(svn.NewOpener(client), registry.WithTracer(provider.Tracer()))
	mgr := workspace.New(c, reg,
		workspace.WithRootResolver(client),
		workspace.WithUpgrader(client),
		workspace.WithTracer(provider.Tracer()),
	)
	return &engine{registry: reg, manager: mgr, tracer: provider}, nil
}

// discover runs the initial scan and waits for every follow-up scan.
func (e *engine) discover(ctx context.Context) error {
	if err := e.manager.Start(ctx); err != nil {
		return err
	}
	e.manager.Wait()
	return nil
}

func (e *engine) close() {
	if err := e.manager.Close(); err != nil {
		log.Warn(log.CatWorkspace, "closing watcher", "error", err)
	}
	e.registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tracer.Shutdown(ctx); err != nil {
		log.Warn(log.CatTrace, "flushing traces", "error", err)
	}
}
