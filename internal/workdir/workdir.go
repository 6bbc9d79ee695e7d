// Package workdir tracks the folders holding installed helper packages and
// which one of them is current.
package workdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mounterctl/internal/debug"
	appErrors "mounterctl/internal/errors"
	"mounterctl/internal/settings"
)

const (
	// SectionID is the settings section owned by the mounter engine.
	SectionID = "mounter"
	// CurrentNameKey holds the folder name of the active working directory.
	CurrentNameKey = "working-directory-name"
)

// Dir is a handle to one package folder under the mounter root.
type Dir struct {
	Root string
	Name string
}

// Path returns the absolute folder path.
func (d Dir) Path() string {
	return filepath.Join(d.Root, d.Name)
}

// MetadataPath returns the path of a file inside the _metadata folder.
func (d Dir) MetadataPath(file string) string {
	return filepath.Join(d.Path(), MetadataDirName, file)
}

// Manager owns the mounter root folder and the persisted pointer to the
// current working directory.
type Manager struct {
	root    string
	current settings.Attr[string]
}

// NewManager creates a manager for root, persisting the current pointer in store.
func NewManager(root string, store *settings.Store) *Manager {
	return &Manager{
		root:    root,
		current: settings.Attribute[string](store.GetOrCreateSection(SectionID), CurrentNameKey),
	}
}

// Root returns the mounter root folder.
func (m *Manager) Root() string {
	return m.root
}

// Current returns the active working directory. ok is false when no pointer
// has been written or the folder it names no longer exists.
func (m *Manager) Current(ctx context.Context) (dir Dir, ok bool, err error) {
	name, set, err := m.current.Get(ctx)
	if err != nil {
		return Dir{}, false, err
	}
	name = strings.TrimSpace(name)
	if !set || name == "" {
		return Dir{}, false, nil
	}
	dir = Dir{Root: m.root, Name: name}
	info, statErr := os.Stat(dir.Path())
	if statErr != nil || !info.IsDir() {
		return Dir{}, false, nil
	}
	return dir, true, nil
}

// Activate makes name the current working directory. The folder must be
// fully populated before calling.
func (m *Manager) Activate(ctx context.Context, name string) error {
	dir := Dir{Root: m.root, Name: name}
	info, err := os.Stat(dir.Path())
	if err != nil || !info.IsDir() {
		return appErrors.New(appErrors.CodeActivationFailed, fmt.Sprintf("working directory %s is missing", dir.Path()), err)
	}
	if err := m.current.Set(ctx, name); err != nil {
		return appErrors.New(appErrors.CodeActivationFailed, "persist working directory name", err)
	}
	debug.Logf("workdir: activated %s", name)
	return nil
}

// NewStaging creates an empty, never-reused folder under the root.
func (m *Manager) NewStaging() (Dir, error) {
	//nolint:gosec // G301: package folders need standard permissions
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return Dir{}, fmt.Errorf("create mounter root: %w", err)
	}
	dir := Dir{Root: m.root, Name: uuid.NewString()}
	//nolint:gosec // G301: package folders need standard permissions
	if err := os.Mkdir(dir.Path(), 0755); err != nil {
		return Dir{}, fmt.Errorf("create staging folder: %w", err)
	}
	return dir, nil
}

// Sweep deletes every entry directly under the root except the current
// working directory. It is best-effort: individual failures are logged and
// returned but never stop the sweep.
func (m *Manager) Sweep(ctx context.Context) []error {
	keep := ""
	if dir, ok, err := m.Current(ctx); err != nil {
		// Without a trustworthy pointer nothing can be told apart from garbage.
		debug.Logf("workdir: sweep skipped: %v", err)
		return []error{err}
	} else if ok {
		keep = dir.Name
	}

	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		debug.Logf("workdir: sweep cannot list %s: %v", m.root, err)
		return []error{fmt.Errorf("list mounter root: %w", err)}
	}

	var failures []error
	for _, entry := range entries {
		if entry.Name() == keep {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			debug.Logf("workdir: failed to remove stale %s: %v", path, err)
			failures = append(failures, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		debug.Logf("workdir: removed stale %s", path)
	}
	return failures
}
