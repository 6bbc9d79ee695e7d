package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"mounterctl/internal/config"
	"mounterctl/internal/lifecycle"
	"mounterctl/internal/update"
	"mounterctl/internal/verify"
	"mounterctl/internal/workdir"
)

var (
	errAlreadyRunning = errors.New("the mounter is already running")
	errNotRunning     = errors.New("the mounter is not running")
	errBusyRunning    = errors.New("the mounter is running; terminate it first (--terminate)")
	errIntegrity      = errors.New("installed mounter does not match its block map")
)

// headlessReporter prints controller events for one-shot commands. It is
// only called from the controller's dispatch goroutine.
type headlessReporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (r *headlessReporter) observe(ev lifecycle.Event) {
	switch ev.Kind {
	case lifecycle.EventProgress:
		if r.bar == nil {
			r.bar = progressbar.NewOptions(100,
				progressbar.OptionSetWriter(r.w),
				progressbar.OptionSetDescription("Updating mounter"),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(30),
			)
		}
		_ = r.bar.Set(ev.Progress)
	case lifecycle.EventNotice:
		if r.bar != nil {
			_ = r.bar.Finish()
			_, _ = fmt.Fprintln(r.w)
			r.bar = nil
		}
		_, _ = fmt.Fprintln(r.w, ev.Notice.Message())
		if ev.Err != nil {
			_, _ = fmt.Fprintf(r.w, "  %v\n", ev.Err)
		}
	}
}

// withApp wires the engine, starts the poller and waits for the first
// liveness observation before running fn. Events are flushed before it
// returns.
func withApp(ctx context.Context, w io.Writer, opts appOptions, fn func(*app) error) error {
	reporter := &headlessReporter{w: w}
	a, err := newApp(ctx, opts, reporter.observe)
	if err != nil {
		return err
	}
	defer a.Close()

	a.startPoller()
	if err := a.waitForLiveness(livenessWaitTimeout); err != nil {
		return err
	}
	return fn(a)
}

func runCheck(ctx context.Context, w io.Writer, opts appOptions) error {
	return withApp(ctx, w, opts, func(a *app) error {
		return a.ctrl.CheckForUpdates().Wait()
	})
}

func runUpdate(ctx context.Context, w io.Writer, opts appOptions, reinstall bool) error {
	return withApp(ctx, w, opts, func(a *app) error {
		if a.ctrl.Snapshot().Running {
			return errBusyRunning
		}
		return a.ctrl.Update(update.Options{Reinstall: reinstall}).Wait()
	})
}

func runLaunch(ctx context.Context, w io.Writer, opts appOptions, args, name string) error {
	return withApp(ctx, w, opts, func(a *app) error {
		var op *lifecycle.Op
		if name != "" {
			op = a.ctrl.LaunchWith(name)
		} else {
			op = a.ctrl.Launch(args)
		}
		err := op.Wait()
		if op.Skipped() {
			return errAlreadyRunning
		}
		return err
	})
}

func runTerminate(ctx context.Context, w io.Writer, opts appOptions) error {
	return withApp(ctx, w, opts, func(a *app) error {
		op := a.ctrl.Terminate()
		err := op.Wait()
		if op.Skipped() {
			return errNotRunning
		}
		return err
	})
}

// runStatus prints what is installed and whether it is intact and running.
func runStatus(ctx context.Context, w io.Writer, opts appOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	_, _ = fmt.Fprintf(w, "Mounter root: %s\n", a.dirs.Root())
	if len(opts.mirrors) > 0 {
		_, _ = fmt.Fprintf(w, "Mirrors:      %s\n", strings.Join(opts.mirrors, ", "))
	} else {
		_, _ = fmt.Fprintln(w, "Mirrors:      (none configured)")
	}

	dir, ok, err := a.dirs.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(w, "Installed:    no")
	} else if meta, found := workdir.ProbeMetadata(dir.Path()); found {
		_, _ = fmt.Fprintf(w, "Installed:    %s (%s)\n", meta.Version, dir.Name)
		_, _ = fmt.Fprintf(w, "Integrity:    %s\n", integrityLabel(dir.Path()))
	} else {
		_, _ = fmt.Fprintf(w, "Installed:    unreadable package in %s\n", dir.Name)
	}

	running, err := a.probe.IsRunning(ctx)
	switch {
	case err != nil:
		_, _ = fmt.Fprintf(w, "Running:      unknown (%v)\n", err)
	case running:
		_, _ = fmt.Fprintln(w, "Running:      yes")
	default:
		_, _ = fmt.Fprintln(w, "Running:      no")
	}
	return nil
}

func integrityLabel(dir string) string {
	if _, err := verify.LoadBlockMap(dir); err != nil {
		return "no block map"
	}
	if verify.Verify(dir) {
		return "ok"
	}
	return "FAILED"
}

// runVerify checks the current installation against its block map.
func runVerify(ctx context.Context, w io.Writer, opts appOptions) error {
	store, dirs, err := openWorkdirs(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dir, ok, err := dirs.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no mounter package is installed under %s", dirs.Root())
	}
	if !verify.Verify(dir.Path()) {
		return errIntegrity
	}
	_, _ = fmt.Fprintf(w, "%s verified\n", dir.Path())
	return nil
}

// runBlockmap writes _metadata/blockmap.json for a package tree.
func runBlockmap(w io.Writer, dir string) error {
	bm, err := verify.Build(dir)
	if err != nil {
		return fmt.Errorf("build block map: %w", err)
	}
	if err := verify.Write(dir, bm); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Wrote %d entries to %s\n", len(bm.Blocks), filepath.Join(dir, workdir.MetadataDirName, workdir.BlockMapFileName))
	return nil
}

// runSaveMirrors persists a comma separated mirror list to the user config.
func runSaveMirrors(w io.Writer, raw string) error {
	var mirrors []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			mirrors = append(mirrors, part)
		}
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("no mirrors given")
	}
	path := config.UserConfigPath()
	if err := config.SaveMirrors(path, mirrors); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Saved %d mirror(s) to %s\n", len(mirrors), path)
	return nil
}
