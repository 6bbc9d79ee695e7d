// Package lifecycle arbitrates user operations on the helper process
// against its observed liveness and against in-flight updates.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"mounterctl/internal/debug"
	"mounterctl/internal/domain"
	appErrors "mounterctl/internal/errors"
	"mounterctl/internal/update"
	"mounterctl/internal/verify"
	"mounterctl/internal/workdir"
)

// Launcher starts the helper executable.
type Launcher interface {
	Launch(ctx context.Context, exe, args string, elevated bool) error
}

// Updater runs the update pipeline.
type Updater interface {
	Run(ctx context.Context, opts update.Options, progress update.ProgressFunc) (update.Result, error)
}

// Deps are the controller's collaborators.
type Deps struct {
	Launcher  Launcher
	Poller    *Poller
	Pipeline  Updater
	Manifests update.ManifestSource
	Workdirs  *workdir.Manager
	// Verify checks a working directory against its block map. Defaults
	// to verify.Verify.
	Verify    func(dir string) bool
	Elevated  bool
	Observers []Observer
}

// Snapshot is a consistent view of the controller for rendering.
type Snapshot struct {
	State        domain.LaunchState
	Running      bool
	Progress     int
	CanLaunch    bool
	CanTerminate bool
	CanCheck     bool
	CanUpdate    bool
	CanToggle    bool
	ToggleLabel  string
}

// Controller owns the LaunchState. All transitions happen under mu.
type Controller struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc
	events *dispatcher

	mu       sync.Mutex
	state    domain.LaunchState
	running  bool
	progress int
	sub      *Subscription
	wg       sync.WaitGroup
}

// NewController creates a controller in StateDefault and subscribes it to
// the poller.
func NewController(deps Deps) (*Controller, error) {
	switch {
	case deps.Launcher == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller needs a launcher", nil)
	case deps.Poller == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller needs a poller", nil)
	case deps.Pipeline == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller needs an update pipeline", nil)
	case deps.Manifests == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller needs a manifest source", nil)
	case deps.Workdirs == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller needs a working directory manager", nil)
	}
	if deps.Verify == nil {
		deps.Verify = verify.Verify
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		events: newDispatcher(deps.Observers),
		state:  domain.StateDefault,
	}
	c.subscribe()
	return c, nil
}

// Close unsubscribes from the poller, cancels running operations, waits
// for them and flushes pending events. An interrupted update never
// activates its folder.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancel()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	sub.Unsubscribe()

	c.wg.Wait()
	c.events.close()
}

// State returns the current LaunchState.
func (c *Controller) State() domain.LaunchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns state, liveness, progress and which controls are enabled.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		Running:      c.running,
		Progress:     c.progress,
		CanLaunch:    c.state.Permits(domain.OpLaunch),
		CanTerminate: c.state.Permits(domain.OpTerminate),
		CanCheck:     c.state.Permits(domain.OpCheckForUpdates),
		CanUpdate:    c.state.Permits(domain.OpUpdate),
	}
	_, s.CanToggle = c.state.Toggle()
	s.ToggleLabel = toggleLabel(c.state)
	return s
}

func toggleLabel(s domain.LaunchState) string {
	switch s {
	case domain.StateDefault:
		return "Launch"
	case domain.StateRunning:
		return "Terminate"
	case domain.StateCheckingForUpdates:
		return "Checking"
	case domain.StateUpdating:
		return "Updating"
	case domain.StateUpdateFailed:
		return "Retry update"
	}
	return ""
}

// Launch starts the helper with args, or the package's default startup
// arguments when args is empty. Permitted only from StateDefault.
func (c *Controller) Launch(args string) *Op {
	return c.launch(func(meta domain.PackageMetadata) (string, error) {
		if args == "" {
			return meta.ProcStartupArgs, nil
		}
		return args, nil
	})
}

// LaunchWith starts the helper with the named alternative startup
// arguments from the package metadata.
func (c *Controller) LaunchWith(name string) *Op {
	return c.launch(func(meta domain.PackageMetadata) (string, error) {
		args, ok := meta.StartupArgs(name)
		if !ok {
			return "", appErrors.New(appErrors.CodeLaunchFailed, fmt.Sprintf("package has no startup arguments named %q", name), nil)
		}
		return args, nil
	})
}

func (c *Controller) launch(argsFor func(domain.PackageMetadata) (string, error)) *Op {
	c.mu.Lock()
	if !c.state.Permits(domain.OpLaunch) {
		debug.Logf("controller: launch ignored in state %s", c.state)
		c.mu.Unlock()
		return SkippedOp()
	}
	c.mu.Unlock()

	return c.spawn(func() error {
		err := c.startHelper(argsFor)
		if err != nil {
			c.notify(NoticeRunFailed, err)
		}
		return err
	})
}

// Terminate asks the helper to stop using the package's terminate
// arguments. Permitted only from StateRunning. The state is left to the
// poller to correct.
func (c *Controller) Terminate() *Op {
	c.mu.Lock()
	if !c.state.Permits(domain.OpTerminate) {
		debug.Logf("controller: terminate ignored in state %s", c.state)
		c.mu.Unlock()
		return SkippedOp()
	}
	c.mu.Unlock()

	return c.spawn(c.terminate)
}

func (c *Controller) terminate() error {
	err := c.startHelper(func(meta domain.PackageMetadata) (string, error) {
		return meta.ProcTerminateArgs, nil
	})
	if err != nil {
		err = appErrors.New(appErrors.CodeTerminateFailed, "terminate mounter", err)
		c.notify(NoticeTerminateFailed, err)
	}
	return err
}

// TerminateAndUpdate terminates the helper and, if that succeeded, runs
// Update. Permitted only from StateRunning.
func (c *Controller) TerminateAndUpdate() *Op {
	c.mu.Lock()
	if !c.state.Permits(domain.OpTerminateAndUpdate) {
		debug.Logf("controller: terminate-and-update ignored in state %s", c.state)
		c.mu.Unlock()
		return SkippedOp()
	}
	c.mu.Unlock()

	return c.spawn(func() error {
		if err := c.terminate(); err != nil {
			return err
		}
		return c.Update(update.Options{}).Wait()
	})
}

// ToggleState runs the primary action for the current state.
func (c *Controller) ToggleState() *Op {
	op, ok := c.State().Toggle()
	if !ok {
		return SkippedOp()
	}
	switch op {
	case domain.OpLaunch:
		return c.Launch("")
	case domain.OpTerminate:
		return c.Terminate()
	case domain.OpUpdate:
		return c.Update(update.Options{})
	}
	return SkippedOp()
}

// CheckForUpdates compares the remote manifest with the installed package.
// When the install is current and intact the state returns to the live
// state; otherwise an update is started unless the helper is running.
func (c *Controller) CheckForUpdates() *Op {
	c.mu.Lock()
	if !c.state.Permits(domain.OpCheckForUpdates) {
		debug.Logf("controller: check ignored in state %s", c.state)
		c.mu.Unlock()
		return SkippedOp()
	}
	c.transitionLocked(domain.StateCheckingForUpdates)
	c.mu.Unlock()

	return c.spawn(c.checkForUpdates)
}

func (c *Controller) checkForUpdates() error {
	manifest, err := c.deps.Manifests.Resolve(c.ctx)
	if err != nil {
		debug.Logf("controller: check for updates failed: %v", err)
		c.settleCheck()
		c.notify(NoticeCheckFailed, err)
		return err
	}

	installed, sameVersion, intact := false, false, false
	dir, ok, err := c.deps.Workdirs.Current(c.ctx)
	if err != nil {
		debug.Logf("controller: cannot read current working directory: %v", err)
	} else if ok {
		if meta, found := workdir.ProbeMetadata(dir.Path()); found {
			installed = true
			sameVersion = domain.SameVersion(meta.Version, manifest.Version)
			intact = c.deps.Verify(dir.Path())
		}
	}
	debug.Logf("controller: remote=%s installed=%t same=%t intact=%t", manifest.Version, installed, sameVersion, intact)

	if sameVersion && intact {
		c.settleCheck()
		c.notify(NoticeUpToDate, nil)
		return nil
	}

	c.mu.Lock()
	if c.state != domain.StateCheckingForUpdates {
		c.mu.Unlock()
		return nil
	}
	if c.running {
		c.transitionLocked(domain.StateRunning)
		c.mu.Unlock()
		c.notify(NoticeCannotUpdateWhileRunning, nil)
		return nil
	}
	sub := c.enterUpdatingLocked()
	c.mu.Unlock()
	sub.Unsubscribe()

	return c.runUpdate(update.Options{Reinstall: sameVersion})
}

// Update runs the update pipeline. Liveness events are ignored while it
// runs. Success returns to the live state; failure leaves StateUpdateFailed.
func (c *Controller) Update(opts update.Options) *Op {
	c.mu.Lock()
	if !c.state.Permits(domain.OpUpdate) {
		debug.Logf("controller: update ignored in state %s", c.state)
		c.mu.Unlock()
		return SkippedOp()
	}
	sub := c.enterUpdatingLocked()
	c.mu.Unlock()
	sub.Unsubscribe()

	return c.spawn(func() error {
		return c.runUpdate(opts)
	})
}

// enterUpdatingLocked moves to StateUpdating and detaches the liveness
// subscription, which the caller must unsubscribe after releasing mu.
func (c *Controller) enterUpdatingLocked() *Subscription {
	sub := c.sub
	c.sub = nil
	c.transitionLocked(domain.StateUpdating)
	c.progress = 0
	c.events.push(Event{Kind: EventProgress, State: c.state, Progress: 0})
	return sub
}

func (c *Controller) runUpdate(opts update.Options) error {
	result, err := c.deps.Pipeline.Run(c.ctx, opts, c.reportProgress)

	c.mu.Lock()
	if err != nil {
		c.transitionLocked(domain.StateUpdateFailed)
	} else {
		running, _ := c.deps.Poller.Last()
		c.running = running
		c.transitionLocked(domain.LiveState(running))
	}
	c.mu.Unlock()
	c.subscribe()

	if err != nil {
		debug.Logf("controller: update failed: %v", err)
		c.notify(NoticeUpdateFailed, err)
		return err
	}
	for _, sweepErr := range result.SweepErrors {
		debug.Logf("controller: stale entry left behind: %v", sweepErr)
	}
	debug.Logf("controller: update finished installed=%t version=%s", result.Installed, result.ManifestVersion)
	c.notify(NoticeUpdated, nil)
	return nil
}

func (c *Controller) reportProgress(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = percent
	c.events.push(Event{Kind: EventProgress, State: c.state, Progress: percent})
}

// startHelper loads the required metadata and launches the package
// executable with the arguments chosen by argsFor.
func (c *Controller) startHelper(argsFor func(domain.PackageMetadata) (string, error)) error {
	dir, ok, err := c.deps.Workdirs.Current(c.ctx)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.New(appErrors.CodeMetadataMissing, "no mounter package is installed", nil)
	}
	meta, err := workdir.LoadMetadata(dir.Path())
	if err != nil {
		return err
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	exe, err := workdir.ResolvePath(dir.Path(), meta.ExecutableFile)
	if err != nil {
		return appErrors.New(appErrors.CodeMetadataInvalid, "resolve executable", err)
	}
	args, err := argsFor(meta)
	if err != nil {
		return err
	}
	if err := c.deps.Launcher.Launch(c.ctx, exe, args, c.deps.Elevated); err != nil {
		return appErrors.New(appErrors.CodeLaunchFailed, "launch mounter", err)
	}
	return nil
}

func (c *Controller) subscribe() {
	if c.ctx.Err() != nil {
		return
	}
	c.adopt(c.deps.Poller.Subscribe(c.onLiveness))
}

// adopt stores sub as the live subscription unless the controller was
// closed meanwhile or another subscription won the race.
func (c *Controller) adopt(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil || c.sub != nil {
		sub.Unsubscribe()
		return
	}
	c.sub = sub
}

func (c *Controller) onLiveness(ev Liveness) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = ev.Running
	switch c.state {
	case domain.StateDefault, domain.StateRunning:
		c.transitionLocked(domain.LiveState(ev.Running))
	}
}

// settleCheck ends a check by returning to the state matching liveness.
// It does nothing once the check has handed over to an update.
func (c *Controller) settleCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateCheckingForUpdates {
		return
	}
	c.transitionLocked(domain.LiveState(c.running))
}

func (c *Controller) transitionLocked(target domain.LaunchState) {
	if c.state == target {
		return
	}
	if err := c.state.CanTransitionTo(target); err != nil {
		debug.Logf("controller: %v", err)
		return
	}
	debug.Logf("controller: %s -> %s", c.state, target)
	c.state = target
	c.events.push(Event{Kind: EventStateChanged, State: target})
}

func (c *Controller) notify(n Notice, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.push(Event{Kind: EventNotice, State: c.state, Notice: n, Err: err})
}

func (c *Controller) spawn(fn func() error) *Op {
	op := newOp()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		op.finish(fn())
	}()
	return op
}
