package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"mounterctl/internal/debug"
	"mounterctl/internal/domain"
	appErrors "mounterctl/internal/errors"
	"mounterctl/internal/verify"
	"mounterctl/internal/workdir"
)

// Progress checkpoints, in percent.
const (
	progressStart     = 0
	progressResolved  = 10
	progressFetched   = 70
	progressExtracted = 90
	progressActivated = 95
	progressDone      = 100
)

// ProgressFunc receives the overall completion percentage, 0 to 100.
type ProgressFunc func(percent int)

// ManifestSource yields the latest package manifest.
type ManifestSource interface {
	Resolve(ctx context.Context) (domain.PackageManifest, error)
}

// Options tune a single pipeline run.
type Options struct {
	// Reinstall downloads the package even when the installed version is
	// ordinal-equal to the manifest, e.g. after a failed integrity check.
	Reinstall bool
}

// Result summarises a pipeline run.
type Result struct {
	PreviousVersion  string
	ManifestVersion  string
	Change           VersionChange
	Installed        bool
	Dir              workdir.Dir
	SettingsMigrated bool
	// SweepErrors lists stale entries that could not be removed.
	SweepErrors []error
}

// Pipeline brings the current working directory to the latest remote
// version without ever exposing a partially extracted folder.
type Pipeline struct {
	dirs      *workdir.Manager
	manifests ManifestSource
	fetcher   Fetcher
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(dirs *workdir.Manager, manifests ManifestSource, fetcher Fetcher) *Pipeline {
	return &Pipeline{
		dirs:      dirs,
		manifests: manifests,
		fetcher:   fetcher,
	}
}

// previousInstall is the slice of the old metadata needed after activation.
type previousInstall struct {
	dir          workdir.Dir
	version      string
	settingsFile string
	present      bool
}

// Run executes the update. Errors before activation leave the current
// working directory untouched.
func (p *Pipeline) Run(ctx context.Context, opts Options, progress ProgressFunc) (Result, error) {
	report := monotonic(progress)
	report(progressStart)

	prev, err := p.snapshotPrevious(ctx)
	if err != nil {
		return Result{}, err
	}

	manifest, err := p.manifests.Resolve(ctx)
	if err != nil {
		return Result{}, err
	}
	report(progressResolved)

	result := Result{
		PreviousVersion: prev.version,
		ManifestVersion: manifest.Version,
		Change:          ClassifyChange(prev.version, manifest.Version),
		Dir:             prev.dir,
	}
	if result.Change == ChangeDowngrade {
		debug.Logf("update: mirror offers %s which sorts below installed %s; installing anyway", manifest.Version, prev.version)
	}

	if prev.present && domain.SameVersion(prev.version, manifest.Version) && !opts.Reinstall {
		debug.Logf("update: version %s already installed", prev.version)
	} else {
		dir, migrated, err := p.install(ctx, manifest, prev, report)
		if err != nil {
			return result, err
		}
		result.Installed = true
		result.Dir = dir
		result.SettingsMigrated = migrated
	}

	result.SweepErrors = p.dirs.Sweep(ctx)
	report(progressDone)
	return result, nil
}

func (p *Pipeline) snapshotPrevious(ctx context.Context) (previousInstall, error) {
	dir, ok, err := p.dirs.Current(ctx)
	if err != nil {
		return previousInstall{}, fmt.Errorf("read current working directory: %w", err)
	}
	if !ok {
		return previousInstall{}, nil
	}
	meta, ok := workdir.ProbeMetadata(dir.Path())
	if !ok {
		debug.Logf("update: current folder %s has no readable metadata", dir.Name)
		return previousInstall{dir: dir}, nil
	}
	return previousInstall{
		dir:          dir,
		version:      meta.Version,
		settingsFile: meta.SettingsFile,
		present:      true,
	}, nil
}

// install runs download, extraction, settings migration and activation.
func (p *Pipeline) install(ctx context.Context, manifest domain.PackageManifest, prev previousInstall, report ProgressFunc) (workdir.Dir, bool, error) {
	source, err := packageURL(manifest.Path, manifest.Source)
	if err != nil {
		return workdir.Dir{}, false, err
	}

	staging, err := p.dirs.NewStaging()
	if err != nil {
		return workdir.Dir{}, false, appErrors.New(appErrors.CodeExtractionFailed, "prepare working directory", err)
	}
	debug.Logf("update: installing %s from %s into %s", manifest.Version, source, staging.Name)

	archive, err := os.CreateTemp(p.dirs.Root(), ".download-*")
	if err != nil {
		return workdir.Dir{}, false, appErrors.New(appErrors.CodeDownloadFailed, "create temp file", err)
	}
	archivePath := archive.Name()
	defer func() { _ = os.Remove(archivePath) }()

	fetchErr := p.fetcher.Fetch(ctx, source, archive, scaled(report, progressResolved, progressFetched))
	closeErr := archive.Close()
	if fetchErr != nil {
		return workdir.Dir{}, false, fetchErr
	}
	if closeErr != nil {
		return workdir.Dir{}, false, appErrors.New(appErrors.CodeDownloadFailed, "close temp file", closeErr)
	}
	report(progressFetched)

	if err := Extract(archivePath, staging.Path(), scaled(report, progressFetched, progressExtracted)); err != nil {
		return workdir.Dir{}, false, err
	}
	if _, err := os.Stat(staging.MetadataPath(workdir.BlockMapFileName)); err == nil {
		if !verify.Verify(staging.Path()) {
			return workdir.Dir{}, false, appErrors.New(appErrors.CodeExtractionFailed, "extracted package does not match its block map", nil)
		}
	}
	report(progressExtracted)

	next, err := workdir.LoadMetadata(staging.Path())
	if err != nil {
		return workdir.Dir{}, false, err
	}
	if err := next.Validate(); err != nil {
		return workdir.Dir{}, false, err
	}
	if next.Version != manifest.Version {
		debug.Logf("update: package declares %s but manifest announced %s", next.Version, manifest.Version)
	}

	migrated, err := migrateSettings(prev, staging, next)
	if err != nil {
		return workdir.Dir{}, false, err
	}

	if err := p.dirs.Activate(ctx, staging.Name); err != nil {
		return workdir.Dir{}, false, err
	}
	report(progressActivated)
	return staging, migrated, nil
}

// migrateSettings copies the previous installation's settings file into
// the new folder under the new metadata's name, overwriting the packaged one.
func migrateSettings(prev previousInstall, next workdir.Dir, meta domain.PackageMetadata) (bool, error) {
	if !prev.present || prev.settingsFile == "" || meta.SettingsFile == "" {
		return false, nil
	}
	src, err := workdir.ResolvePath(prev.dir.Path(), prev.settingsFile)
	if err != nil {
		debug.Logf("update: skipping settings migration: %v", err)
		return false, nil
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	dst, err := workdir.ResolvePath(next.Path(), meta.SettingsFile)
	if err != nil {
		return false, err
	}
	if err := copyFile(src, dst); err != nil {
		return false, appErrors.New(appErrors.CodeActivationFailed, "migrate settings", err)
	}
	debug.Logf("update: migrated settings %s -> %s", src, dst)
	return true, nil
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src lives inside the managed working directory
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G301: package folders need standard permissions
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	//nolint:gosec // G304: dst was checked by ResolvePath
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// monotonic wraps fn so reported percentages never go backwards and stay
// within 0..100. A nil fn yields a no-op.
func monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(int) {}
	}
	var mu sync.Mutex
	last := -1
	return func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		mu.Lock()
		defer mu.Unlock()
		if percent <= last {
			return
		}
		last = percent
		fn(percent)
	}
}

// scaled maps byte progress onto the [from, to] percentage band.
func scaled(report ProgressFunc, from, to int) TransferFunc {
	return func(done, total int64) {
		if total <= 0 || done < 0 {
			return
		}
		if done > total {
			done = total
		}
		report(from + int(int64(to-from)*done/total))
	}
}
