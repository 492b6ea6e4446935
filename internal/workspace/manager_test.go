package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/wcroots/internal/config"
	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/registry"
)

func memFs(t *testing.T, dirs ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, d := range dirs {
		require.NoError(t, fs.MkdirAll(d, 0o755))
	}
	return fs
}

func testConfig(roots ...string) config.Config {
	cfg := config.Defaults()
	cfg.Roots = roots
	cfg.Watch = false
	return cfg
}

func newManager(t *testing.T, cfg config.Config, fs afero.Fs, opener *fakeOpener, opts ...Option) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(opener)
	m := New(cfg, reg, append([]Option{WithFs(fs)}, opts...)...)
	t.Cleanup(func() {
		_ = m.Close()
		reg.CloseAll()
	})
	return m, reg
}

func collect(ch <-chan pubsub.Event[Event]) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev.Payload)
		default:
			return out
		}
	}
}

func kinds(events []Event, kind pubsub.EventType) []string {
	var roots []string
	for _, ev := range events {
		if ev.Kind == kind {
			roots = append(roots, ev.Root)
		}
	}
	return roots
}

func TestManager_StartRunsInitialScan(t *testing.T) {
	fs := memFs(t, "/ws/a/.svn", "/ws/b/c/.svn", "/ws/node_modules/x/.svn")
	m, reg := newManager(t, testConfig("/ws"), fs, newFakeOpener())

	events := m.Events(context.Background())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.True(t, reg.Has("/ws/a"))
	require.True(t, reg.Has("/ws/b/c"))
	require.False(t, reg.Has("/ws/node_modules/x"), "ignored by the default globs")
	require.ElementsMatch(t, []string{"/ws/a", "/ws/b/c"}, kinds(collect(events), pubsub.OpenedEvent))
}

func TestManager_StartTwice(t *testing.T) {
	m, _ := newManager(t, testConfig("/ws"), memFs(t, "/ws"), newFakeOpener())

	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))
}

func TestManager_StartAfterClose(t *testing.T) {
	m, _ := newManager(t, testConfig("/ws"), memFs(t, "/ws"), newFakeOpener())
	require.NoError(t, m.Close())

	require.ErrorIs(t, m.Start(context.Background()), registry.ErrClosed)
}

func TestManager_RootsDefaultToWorkingDirectory(t *testing.T) {
	m, _ := newManager(t, testConfig(), memFs(t), newFakeOpener())
	wd, err := os.Getwd()
	require.NoError(t, err)

	require.Equal(t, []string{wd}, m.Roots())
}

func TestManager_ScanWorkspaceFindsEnclosingWorkingCopy(t *testing.T) {
	fs := memFs(t, "/proj/.svn", "/proj/src/pkg")
	m, reg := newManager(t, testConfig("/proj/src/pkg"), fs, newFakeOpener())

	res := m.ScanWorkspace(context.Background())

	require.Equal(t, []string{"/proj"}, res.Found)
	require.True(t, reg.Has("/proj"))
}

func TestManager_ExternalsAreScanned(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn", "/ws/app/ext/shared/.svn", "/ws/app/ext/plain")
	opener := newFakeOpener()
	opener.externals["/ws/app"] = []string{"ext/shared", "ext/plain"}

	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.True(t, reg.Has("/ws/app/ext/shared"))
	require.Equal(t, 2, reg.Len())

	got, ok := reg.ResolvePath("/ws/app/ext/shared/file.h")
	require.True(t, ok)
	require.Equal(t, "/ws/app/ext/shared", got.Root())
}

func TestManager_ExternalsDisabled(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn", "/ws/app/ext/shared/.svn")
	opener := newFakeOpener()
	opener.externals["/ws/app"] = []string{"ext/shared"}

	cfg := testConfig("/ws")
	cfg.DetectExternals = false
	m, reg := newManager(t, cfg, fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.False(t, reg.Has("/ws/app/ext/shared"))
}

func TestManager_IgnoredEntriesScannedByDefault(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn", "/ws/app/build/tool/.svn")
	opener := newFakeOpener()
	opener.ignored["/ws/app"] = []string{"/ws/app/build"}

	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.True(t, reg.Has("/ws/app/build/tool"))
}

func TestManager_IgnoredEntriesDisabled(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn", "/ws/app/build/tool/.svn")
	opener := newFakeOpener()
	opener.ignored["/ws/app"] = []string{"/ws/app/build"}

	cfg := testConfig("/ws")
	cfg.DetectIgnored = false
	m, reg := newManager(t, cfg, fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.False(t, reg.Has("/ws/app/build/tool"))
}

func TestManager_StatusChangeTriggersSecondaryScan(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn")
	opener := newFakeOpener()
	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	require.Equal(t, 1, reg.Len())

	// A new external appears and is checked out.
	require.NoError(t, fs.MkdirAll("/ws/app/lib/.svn", 0o755))
	h := opener.handle("/ws/app")
	h.externals = []string{"lib"}
	h.status.Fire(struct{}{})
	m.Wait()

	require.True(t, reg.Has("/ws/app/lib"))
}

func TestManager_RescanClosesVanishedWorkingCopy(t *testing.T) {
	fs := memFs(t, "/ws/a/.svn", "/ws/b/.svn")
	opener := newFakeOpener()
	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	events := m.Events(context.Background())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	collect(events)

	require.NoError(t, fs.RemoveAll("/ws/a/.svn"))
	m.Rescan(context.Background(), []string{"/ws/a", "/ws/b"})

	require.False(t, reg.Has("/ws/a"))
	require.True(t, reg.Has("/ws/b"))
	require.Equal(t, int32(1), opener.handle("/ws/b").refreshes.Load())
	require.Equal(t, []string{"/ws/a"}, kinds(collect(events), pubsub.ClosedEvent))

	_, ok := reg.ResolvePath("/ws/a/file")
	require.False(t, ok)
}

func TestManager_RescanOpensNewWorkingCopy(t *testing.T) {
	fs := memFs(t, "/ws")
	m, reg := newManager(t, testConfig("/ws"), fs, newFakeOpener())

	require.NoError(t, fs.MkdirAll("/ws/new/.svn", 0o755))
	res := m.Rescan(context.Background(), []string{"/ws/new"})

	require.Equal(t, []string{"/ws/new"}, res.Found)
	require.True(t, reg.Has("/ws/new"))
}

func TestManager_UpgradeEventWithoutAuto(t *testing.T) {
	fs := memFs(t, "/ws/old/.svn")
	opener := newFakeOpener()
	opener.errs["/ws/old"] = registry.ErrOutdatedWorkingCopy
	upgrader := &fakeUpgrader{opener: opener}

	m, reg := newManager(t, testConfig("/ws"), fs, opener, WithUpgrader(upgrader))
	events := m.Events(context.Background())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.False(t, reg.Has("/ws/old"))
	require.Empty(t, upgrader.called())

	var upgrades []Event
	for _, ev := range collect(events) {
		if ev.Kind == pubsub.UpgradeEvent {
			upgrades = append(upgrades, ev)
		}
	}
	require.Len(t, upgrades, 1)
	require.Equal(t, "/ws/old", upgrades[0].Root)
	require.ErrorIs(t, upgrades[0].Err, registry.ErrOutdatedWorkingCopy)
}

func TestManager_AutoUpgradeRetriesOpen(t *testing.T) {
	fs := memFs(t, "/ws/old/.svn")
	opener := newFakeOpener()
	opener.errs["/ws/old"] = registry.ErrOutdatedWorkingCopy
	upgrader := &fakeUpgrader{opener: opener}

	cfg := testConfig("/ws")
	cfg.Upgrade.Auto = true
	m, reg := newManager(t, cfg, fs, opener, WithUpgrader(upgrader))
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	require.Equal(t, []string{"/ws/old"}, upgrader.called())
	require.True(t, reg.Has("/ws/old"))
}

func TestManager_AutoUpgradeRunsOncePerRoot(t *testing.T) {
	fs := memFs(t, "/ws/old/.svn")
	opener := newFakeOpener()
	opener.errs["/ws/old"] = registry.ErrOutdatedWorkingCopy
	upgrader := &fakeUpgrader{opener: opener, err: errors.New("upgrade refused")}

	cfg := testConfig("/ws")
	cfg.Upgrade.Auto = true
	m, reg := newManager(t, cfg, fs, opener, WithUpgrader(upgrader))
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	m.ScanWorkspace(context.Background())
	m.Wait()

	require.Equal(t, []string{"/ws/old"}, upgrader.called())
	require.False(t, reg.Has("/ws/old"))
}

func TestManager_CloseEndsEventStream(t *testing.T) {
	m, _ := newManager(t, testConfig("/ws"), memFs(t, "/ws"), newFakeOpener())
	events := m.Events(context.Background())
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	for range events {
	}
}

func TestManager_CloseUnsubscribesFromRegistry(t *testing.T) {
	fs := memFs(t, "/ws", "/elsewhere/x/.svn", "/elsewhere/x/ext/.svn")
	opener := newFakeOpener()
	opener.externals["/elsewhere/x"] = []string{"ext"}
	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	require.NoError(t, m.Close())

	_, err := reg.Open(context.Background(), "/elsewhere/x")
	require.NoError(t, err)
	m.Wait()

	require.False(t, reg.Has("/elsewhere/x/ext"), "no secondary scan after close")
}

func TestManager_WatcherOpensNewCheckout(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Watch = true
	cfg.Debounce = 20 * time.Millisecond

	m, reg := newManager(t, cfg, afero.NewOsFs(), newFakeOpener())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	require.Zero(t, reg.Len())

	wc := filepath.Join(dir, "checkout")
	require.NoError(t, os.MkdirAll(filepath.Join(wc, ".svn"), 0o755))

	require.Eventually(t, func() bool { return reg.Has(wc) }, 5*time.Second, 20*time.Millisecond)
}

func TestManager_WatcherClosesRemovedCheckout(t *testing.T) {
	dir := t.TempDir()
	wc := filepath.Join(dir, "checkout")
	require.NoError(t, os.MkdirAll(filepath.Join(wc, ".svn"), 0o755))

	cfg := testConfig(dir)
	cfg.Watch = true
	cfg.Debounce = 20 * time.Millisecond

	m, reg := newManager(t, cfg, afero.NewOsFs(), newFakeOpener())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	require.True(t, reg.Has(wc))

	require.NoError(t, os.RemoveAll(filepath.Join(wc, ".svn")))

	require.Eventually(t, func() bool { return !reg.Has(wc) }, 5*time.Second, 20*time.Millisecond)
}

func TestManager_AbsoluteIgnoreGlobSkipsScanAndWatch(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big")
	require.NoError(t, os.MkdirAll(filepath.Join(big, "old", ".svn"), 0o755))

	cfg := testConfig(dir)
	cfg.Watch = true
	cfg.Debounce = 20 * time.Millisecond
	cfg.IgnoreGlobs = []string{big, big + "/**"}

	m, reg := newManager(t, cfg, afero.NewOsFs(), newFakeOpener())
	require.NoError(t, m.Start(context.Background()))
	m.Wait()
	require.Zero(t, reg.Len(), "initial scan skips the ignored subtree")

	hidden := filepath.Join(big, "new")
	require.NoError(t, os.MkdirAll(filepath.Join(hidden, ".svn"), 0o755))
	keep := filepath.Join(dir, "keep")
	require.NoError(t, os.MkdirAll(filepath.Join(keep, ".svn"), 0o755))

	require.Eventually(t, func() bool { return reg.Has(keep) }, 5*time.Second, 20*time.Millisecond)
	m.Wait()
	require.False(t, reg.Has(hidden), "ignored subtree is not watched")
	require.False(t, reg.Has(filepath.Join(big, "old")))
}

func TestManager_IgnoredSeedsSkipFilesAndGlobs(t *testing.T) {
	fs := memFs(t, "/ws/app/.svn", "/ws/app/out", "/ws/app/node_modules")
	require.NoError(t, afero.WriteFile(fs, "/ws/app/core.log", []byte("x"), 0o644))
	opener := newFakeOpener()
	opener.ignored["/ws/app"] = []string{"/ws/app/out", "/ws/app/node_modules", "/ws/app/core.log", "/ws/app/gone"}

	m, reg := newManager(t, testConfig("/ws"), fs, opener)
	require.NoError(t, m.Start(context.Background()))
	m.Wait()

	repo := reg.Get("/ws/app")
	require.NotNil(t, repo)
	require.Equal(t, []string{"/ws/app/out"}, m.secondarySeeds(repo))
}
