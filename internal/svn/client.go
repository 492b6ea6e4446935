package svn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zjrosen/wcroots/internal/cachemanager"
	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/paths"
)

// Client wraps the svn commands wcroots needs.
type Client struct {
	exec    Executor
	roots   *cachemanager.ReadThroughCache[string, string, string]
	rootTTL time.Duration
}

// NewClient creates a Client. Working-copy root lookups are cached for
// rootTTL; a non-positive TTL disables the cache.
func NewClient(exec Executor, rootTTL time.Duration) *Client {
	c := &Client{exec: exec, rootTTL: rootTTL}
	c.roots = cachemanager.NewReadThroughCache[string, string, string](
		cachemanager.NewInMemoryCacheManager[string, string]("wc-root", rootTTL, cachemanager.DefaultCleanupInterval),
		c.lookupRoot,
		rootTTL <= 0,
	)
	return c
}

// WorkingCopyRoot returns the root of the working copy containing path.
func (c *Client) WorkingCopyRoot(ctx context.Context, path string) (string, error) {
	path = paths.Normalize(path)
	return c.roots.Get(ctx, path, path, c.rootTTL)
}

func (c *Client) lookupRoot(ctx context.Context, path string) (string, error) {
	out, err := c.exec.Run(ctx, path, "info", "--show-item", "wc-root", path)
	if err != nil {
		return "", fmt.Errorf("svn info %s: %w", path, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("svn info %s: empty wc-root", path)
	}
	return paths.Normalize(out), nil
}

// Status reads the status of the working copy at root, including ignored
// entries and external definitions.
func (c *Client) Status(ctx context.Context, root string) (*Status, error) {
	out, err := c.exec.Run(ctx, root, "status", "--xml", "--no-ignore", "--ignore-externals", root)
	if err != nil {
		return nil, fmt.Errorf("svn status %s: %w", root, err)
	}
	return ParseStatus(root, []byte(out))
}

// Upgrade upgrades the working copy at path to the client's format.
func (c *Client) Upgrade(ctx context.Context, path string) error {
	path = paths.Normalize(path)
	if _, err := c.exec.Run(ctx, path, "upgrade", path); err != nil {
		return fmt.Errorf("svn upgrade %s: %w", path, err)
	}
	c.roots.Invalidate(ctx, path)
	log.Info(log.CatSVN, "working copy upgraded", "path", path)
	return nil
}
