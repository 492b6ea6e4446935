// Package svn is the Subversion collaborator: it shells out to the svn
// client to find working-copy roots, read status and upgrade old working
// copies, and exposes an open working copy as a registry.Handle.
package svn

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zjrosen/wcroots/internal/registry"
)

// Executor runs svn subcommands.
type Executor interface {
	// Run executes svn with args in dir and returns trimmed stdout.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Compile-time check that RealExecutor implements Executor.
var _ Executor = (*RealExecutor)(nil)

// RealExecutor runs the svn binary.
type RealExecutor struct {
	binary string
}

// NewRealExecutor creates an executor for binary; empty means "svn" on PATH.
func NewRealExecutor(binary string) *RealExecutor {
	if binary == "" {
		binary = "svn"
	}
	return &RealExecutor{binary: binary}
}

// Run executes svn non-interactively.
func (e *RealExecutor) Run(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"--non-interactive"}, args...)
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.CommandContext(ctx, e.binary, full...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseSvnError(stderrStr, err)
		}
		return "", fmt.Errorf("svn %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// parseSvnError converts svn stderr messages to sentinel errors.
func parseSvnError(stderr string, originalErr error) error {
	lower := strings.ToLower(stderr)

	// svn: E155036: The working copy at '...' is too old (format 10) to work with client version ...
	if strings.Contains(stderr, "E155036") || strings.Contains(lower, "is too old") {
		return fmt.Errorf("%w: %s", registry.ErrOutdatedWorkingCopy, stderr)
	}

	// svn: E155007: '...' is not a working copy
	if strings.Contains(stderr, "E155007") || strings.Contains(lower, "is not a working copy") {
		return fmt.Errorf("%w: %s", registry.ErrNotWorkingCopy, stderr)
	}

	return fmt.Errorf("svn error: %s: %w", stderr, originalErr)
}
