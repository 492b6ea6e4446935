// Package registry owns the set of open repositories: it opens and closes
// them, fans out lifecycle notifications and resolves a path to the most
// specific owning repository.
package registry

import "context"

// Handle is the version-control collaborator behind an open repository.
// Implementations must make Dispose idempotent; the registry may call it
// while the handle is firing its own disposed notification.
type Handle interface {
	// Root returns the absolute working-copy root.
	Root() string

	// OnStatusChanged registers fn for status refreshes and returns its remover.
	OnStatusChanged(fn func()) (off func())

	// OnDisposed registers fn for when the handle disposes itself
	// (e.g. the working copy disappeared) and returns its remover.
	OnDisposed(fn func()) (off func())

	// OnChanged registers fn for changes of individual paths and returns its remover.
	OnChanged(fn func(path string)) (off func())

	// Externals returns external definitions, relative to Root.
	Externals() []string

	// Ignored returns ignored entries as absolute paths.
	Ignored() []string

	Dispose()
}

// Refresher is implemented by handles that can re-read their status on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Opener creates a Handle for a working-copy root.
type Opener interface {
	Open(ctx context.Context, root string) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, root string) (Handle, error)

// Open calls f(ctx, root).
func (f OpenerFunc) Open(ctx context.Context, root string) (Handle, error) {
	return f(ctx, root)
}

// Resource is implemented by objects that already wrap an open repository,
// such as status entries handed out to UI providers. Resolving a Resource
// never scans.
type Resource interface {
	Repository() *Repository
}

// SetupFunc wires collaborator-specific listeners for a freshly attached
// repository. The returned teardown is called on dispose; on error every
// listener registered during that open attempt is unwound.
type SetupFunc func(repo *Repository) (teardown func(), err error)

// Change is the payload of the changed notification.
type Change struct {
	Repository *Repository
	Path       string
}
