package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"mounterctl/internal/config"
	"mounterctl/internal/debug"
	"mounterctl/internal/domain"
	"mounterctl/internal/lifecycle"
	"mounterctl/internal/probe"
	"mounterctl/internal/settings"
	"mounterctl/internal/update"
	"mounterctl/internal/workdir"
)

const livenessWaitTimeout = 5 * time.Second

type appOptions struct {
	mirrors      []string
	root         string
	settingsPath string
	pollInterval time.Duration
	processName  string
	elevated     bool
	elevateWith  string
	httpTimeout  time.Duration
	theme        string
	// lister overrides the process listing tool; empty uses the platform default.
	lister string
}

func appOptionsFromConfig() appOptions {
	return appOptions{
		mirrors:      config.GetStringSlice(config.KeyMirrors),
		root:         strings.TrimSpace(config.GetString(config.KeyMounterRoot)),
		settingsPath: strings.TrimSpace(config.GetString(config.KeySettingsPath)),
		pollInterval: config.GetDuration(config.KeyPollInterval),
		processName:  strings.TrimSpace(config.GetString(config.KeyProcessName)),
		elevated:     config.GetBool(config.KeyLaunchElevated),
		elevateWith:  strings.TrimSpace(config.GetString(config.KeyLaunchElevateBy)),
		httpTimeout:  config.GetDuration(config.KeyHTTPTimeout),
		theme:        strings.TrimSpace(config.GetString(config.KeyTheme)),
	}
}

// unconfiguredSource stands in for the resolver when no mirrors are set so
// launching still works and checks report a configuration error.
type unconfiguredSource struct {
	err error
}

func (u unconfiguredSource) Resolve(context.Context) (domain.PackageManifest, error) {
	return domain.PackageManifest{}, u.err
}

// app holds the wired engine for one CLI invocation.
type app struct {
	store    *settings.Store
	dirs     *workdir.Manager
	probe    *probe.OS
	poller   *lifecycle.Poller
	ctrl     *lifecycle.Controller
	pipeline *update.Pipeline

	stopPoller context.CancelFunc
	pollerDone chan struct{}
}

// openWorkdirs opens the settings store and the working directory manager.
func openWorkdirs(ctx context.Context, opts appOptions) (*settings.Store, *workdir.Manager, error) {
	backend, err := settings.OpenSQLite(ctx, opts.settingsPath)
	if err != nil {
		return nil, nil, err
	}
	store := settings.New(backend)
	return store, workdir.NewManager(opts.root, store), nil
}

func newApp(ctx context.Context, opts appOptions, observers ...lifecycle.Observer) (*app, error) {
	store, dirs, err := openWorkdirs(ctx, opts)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: opts.httpTimeout}
	var manifests update.ManifestSource
	resolver, err := update.NewResolver(opts.mirrors, update.WithHTTPClient(httpClient))
	if err != nil {
		debug.Logf("app: %v", err)
		manifests = unconfiguredSource{err: err}
	} else {
		manifests = resolver
	}
	fetcher := update.NewHTTPFetcher(update.WithFetcherHTTPClient(httpClient))
	pipeline := update.NewPipeline(dirs, manifests, fetcher)

	osProbe := probe.New(processNameFunc(opts.processName, dirs),
		probe.WithElevateCommand(opts.elevateWith),
		probe.WithLister(opts.lister),
	)
	poller := lifecycle.NewPoller(osProbe, opts.pollInterval)

	ctrl, err := lifecycle.NewController(lifecycle.Deps{
		Launcher:  osProbe,
		Poller:    poller,
		Pipeline:  pipeline,
		Manifests: manifests,
		Workdirs:  dirs,
		Elevated:  opts.elevated,
		Observers: observers,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		store:    store,
		dirs:     dirs,
		probe:    osProbe,
		poller:   poller,
		ctrl:     ctrl,
		pipeline: pipeline,
	}, nil
}

// processNameFunc returns the configured process name, or the base name
// of the installed package's executable.
func processNameFunc(configured string, dirs *workdir.Manager) probe.NameFunc {
	if configured != "" {
		return probe.StaticName(configured)
	}
	return func(ctx context.Context) (string, error) {
		dir, ok, err := dirs.Current(ctx)
		if err != nil || !ok {
			return "", err
		}
		meta, ok := workdir.ProbeMetadata(dir.Path())
		if !ok {
			return "", nil
		}
		return filepath.Base(filepath.FromSlash(strings.ReplaceAll(meta.ExecutableFile, "\\", "/"))), nil
	}
}

// startPoller runs the liveness poller until Close.
func (a *app) startPoller() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopPoller = cancel
	a.pollerDone = make(chan struct{})
	go func() {
		defer close(a.pollerDone)
		a.poller.Run(ctx)
	}()
}

// waitForLiveness blocks until the poller has an initial observation so
// guarded operations see the real state.
func (a *app) waitForLiveness(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := a.poller.Last(); ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("could not determine whether the mounter is running")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (a *app) Close() {
	a.ctrl.Close()
	if a.stopPoller != nil {
		a.stopPoller()
		<-a.pollerDone
	}
	if err := a.store.Close(); err != nil {
		debug.Logf("app: close settings: %v", err)
	}
}
