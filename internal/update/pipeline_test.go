package update

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mounterctl/internal/domain"
	appErrors "mounterctl/internal/errors"
	"mounterctl/internal/settings"
	"mounterctl/internal/verify"
	"mounterctl/internal/workdir"
)

type staticManifest struct {
	manifest domain.PackageManifest
	err      error
}

func (s staticManifest) Resolve(context.Context) (domain.PackageManifest, error) {
	return s.manifest, s.err
}

type stubFetcher struct {
	payload []byte
	err     error
	calls   int
	urls    []string
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string, dst io.Writer, progress TransferFunc) error {
	f.calls++
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return f.err
	}
	half := len(f.payload) / 2
	if _, err := dst.Write(f.payload[:half]); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(half), int64(len(f.payload)))
	}
	if _, err := dst.Write(f.payload[half:]); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(f.payload)), int64(len(f.payload)))
	}
	return nil
}

func packageTree(t *testing.T, meta domain.PackageMetadata, extra map[string]string) map[string]string {
	t.Helper()
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	files := map[string]string{
		"_metadata/package.json": string(raw),
		"bin/mounter":            "binary " + meta.Version,
	}
	for k, v := range extra {
		files[k] = v
	}
	return files
}

type pipelineFixture struct {
	root    string
	dirs    *workdir.Manager
	fetcher *stubFetcher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "mounter")
	store := settings.New(settings.NewMemoryBackend())
	return &pipelineFixture{
		root:    root,
		dirs:    workdir.NewManager(root, store),
		fetcher: &stubFetcher{},
	}
}

// install places files in a fresh folder and makes it current.
func (f *pipelineFixture) install(t *testing.T, files map[string]string) workdir.Dir {
	t.Helper()
	dir, err := f.dirs.NewStaging()
	require.NoError(t, err)
	for rel, body := range files {
		path := filepath.Join(dir.Path(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	require.NoError(t, f.dirs.Activate(context.Background(), dir.Name))
	return dir
}

func (f *pipelineFixture) pipeline(version string) *Pipeline {
	manifests := staticManifest{manifest: domain.PackageManifest{
		Path:    "mounter-" + version + ".zip",
		Version: version,
		Source:  "https://mirror.example.com/mounter/manifest.json",
	}}
	return NewPipeline(f.dirs, manifests, f.fetcher)
}

func (f *pipelineFixture) current(t *testing.T) workdir.Dir {
	t.Helper()
	dir, ok, err := f.dirs.Current(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return dir
}

func rootEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPipelineSameVersionSkipsDownload(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "stale-folder"), 0o755))

	result, err := f.pipeline("1.0").Run(context.Background(), Options{}, nil)
	require.NoError(t, err)

	assert.False(t, result.Installed)
	assert.Equal(t, ChangeNone, result.Change)
	assert.Zero(t, f.fetcher.calls)
	assert.Equal(t, old.Name, f.current(t).Name)
	assert.Equal(t, []string{old.Name}, rootEntries(t, f.root))
}

func TestPipelineInstallsNewVersion(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	f.fetcher.payload = buildZip(t, packageTree(t, domain.PackageMetadata{Version: "2.0", ExecutableFile: "bin/mounter"}, nil))

	var reported []int
	result, err := f.pipeline("2.0").Run(context.Background(), Options{}, func(p int) { reported = append(reported, p) })
	require.NoError(t, err)

	assert.True(t, result.Installed)
	assert.Equal(t, "1.0", result.PreviousVersion)
	assert.Equal(t, ChangeUpgrade, result.Change)
	assert.Equal(t, []string{"https://mirror.example.com/mounter/mounter-2.0.zip"}, f.fetcher.urls)

	current := f.current(t)
	assert.NotEqual(t, old.Name, current.Name)
	assert.Equal(t, result.Dir, current)
	meta, err := workdir.LoadMetadata(current.Path())
	require.NoError(t, err)
	assert.Equal(t, "2.0", meta.Version)

	assert.Equal(t, []string{current.Name}, rootEntries(t, f.root))

	require.NotEmpty(t, reported)
	assert.Equal(t, 0, reported[0])
	assert.Equal(t, 100, reported[len(reported)-1])
	assert.IsIncreasing(t, reported)
}

func TestPipelineFreshInstall(t *testing.T) {
	f := newPipelineFixture(t)
	f.fetcher.payload = buildTarGz(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))

	result, err := f.pipeline("1.0").Run(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.True(t, result.Installed)
	assert.Equal(t, ChangeFreshInstall, result.Change)
	assert.Equal(t, result.Dir.Name, f.current(t).Name)
}

func TestPipelineMigratesSettings(t *testing.T) {
	f := newPipelineFixture(t)
	f.install(t, packageTree(t,
		domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter", SettingsFile: `conf\user.json`},
		map[string]string{"conf/user.json": `{"theme":"dark"}`},
	))
	f.fetcher.payload = buildZip(t, packageTree(t,
		domain.PackageMetadata{Version: "2.0", ExecutableFile: "bin/mounter", SettingsFile: "settings/mounter.json"},
		map[string]string{"settings/mounter.json": `{"theme":"default"}`},
	))

	result, err := f.pipeline("2.0").Run(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.True(t, result.SettingsMigrated)

	got, err := os.ReadFile(filepath.Join(f.current(t).Path(), "settings", "mounter.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(got))
}

func TestPipelineDownloadFailureKeepsPointer(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	f.fetcher.err = appErrors.New(appErrors.CodeNetworkFailure, "mirror down", nil)

	_, err := f.pipeline("2.0").Run(context.Background(), Options{}, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.CodeNetworkFailure))
	assert.Equal(t, old.Name, f.current(t).Name)
}

func TestPipelineResolveFailureAborts(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	p := NewPipeline(f.dirs, staticManifest{err: appErrors.New(appErrors.CodeNoManifest, "no manifest available", errors.New("offline"))}, f.fetcher)

	_, err := p.Run(context.Background(), Options{}, nil)
	assert.True(t, appErrors.IsCode(err, appErrors.CodeNoManifest))
	assert.Zero(t, f.fetcher.calls)
	assert.Equal(t, old.Name, f.current(t).Name)
}

func TestPipelineRejectsPackageWithoutMetadata(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	f.fetcher.payload = buildZip(t, map[string]string{"bin/mounter": "no metadata"})

	_, err := f.pipeline("2.0").Run(context.Background(), Options{}, nil)
	assert.True(t, appErrors.IsCode(err, appErrors.CodeMetadataMissing), "got %v", err)
	assert.Equal(t, old.Name, f.current(t).Name)
}

func TestPipelineReinstallSameVersion(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))
	f.fetcher.payload = buildZip(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))

	result, err := f.pipeline("1.0").Run(context.Background(), Options{Reinstall: true}, nil)
	require.NoError(t, err)
	assert.True(t, result.Installed)
	assert.Equal(t, 1, f.fetcher.calls)
	assert.NotEqual(t, old.Name, f.current(t).Name)
}

func TestPipelineVerifiesShippedBlockMap(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.install(t, packageTree(t, domain.PackageMetadata{Version: "1.0", ExecutableFile: "bin/mounter"}, nil))

	// Build a block map for one tree, then ship different bytes.
	src := t.TempDir()
	tree := packageTree(t, domain.PackageMetadata{Version: "2.0", ExecutableFile: "bin/mounter"}, nil)
	for rel, body := range tree {
		path := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	bm, err := verify.Build(src)
	require.NoError(t, err)
	require.NoError(t, verify.Write(src, bm))
	raw, err := os.ReadFile(filepath.Join(src, workdir.MetadataDirName, workdir.BlockMapFileName))
	require.NoError(t, err)

	tree["_metadata/blockmap.json"] = string(raw)
	tree["bin/mounter"] = "tampered"
	f.fetcher.payload = buildZip(t, tree)

	_, err = f.pipeline("2.0").Run(context.Background(), Options{}, nil)
	assert.True(t, appErrors.IsCode(err, appErrors.CodeExtractionFailed), "got %v", err)
	assert.Equal(t, old.Name, f.current(t).Name)

	tree["bin/mounter"] = "binary 2.0"
	f.fetcher.payload = buildZip(t, tree)
	result, err := f.pipeline("2.0").Run(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.True(t, verify.Verify(result.Dir.Path()))
}

func TestMonotonicProgress(t *testing.T) {
	var got []int
	report := monotonic(func(p int) { got = append(got, p) })
	for _, p := range []int{-5, 10, 5, 10, 40, 250, 90} {
		report(p)
	}
	assert.Equal(t, []int{0, 10, 40, 100}, got)

	monotonic(nil)(50)
}
