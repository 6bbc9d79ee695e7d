// Package probe talks to the operating system about the helper process:
// whether it is running, and starting it with a given argument string.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/google/shlex"

	"mounterctl/internal/debug"
	appErrors "mounterctl/internal/errors"
)

const maxErrorSnippetLen = 200

// commNameLimit is the length the kernel cuts process names to. pgrep -x
// never matches a longer name, so those are matched on the command line.
const commNameLimit = 15

// NameFunc yields the process name to look for. An empty name means there
// is nothing that could be running.
type NameFunc func(ctx context.Context) (string, error)

// StaticName returns a NameFunc that always yields name.
func StaticName(name string) NameFunc {
	return func(context.Context) (string, error) { return name, nil }
}

// OS is the process probe backed by platform tools (pgrep, tasklist).
type OS struct {
	name        NameFunc
	lister      string
	elevateWith string
	goos        string
}

// Option configures an OS probe.
type Option func(*OS)

// WithLister overrides the process listing binary.
func WithLister(bin string) Option {
	return func(p *OS) {
		if strings.TrimSpace(bin) != "" {
			p.lister = bin
		}
	}
}

// WithElevateCommand sets the command prefixed to elevated launches, e.g. sudo.
func WithElevateCommand(cmd string) Option {
	return func(p *OS) {
		p.elevateWith = strings.TrimSpace(cmd)
	}
}

// New creates a probe looking for processes named by name.
func New(name NameFunc, opts ...Option) *OS {
	p := &OS{
		name:        name,
		elevateWith: "sudo",
		goos:        runtime.GOOS,
	}
	if p.goos == "windows" {
		p.lister = "tasklist"
	} else {
		p.lister = "pgrep"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsRunning reports whether a process with the configured name exists.
func (p *OS) IsRunning(ctx context.Context) (bool, error) {
	name, err := p.name(ctx)
	if err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}

	if p.goos == "windows" {
		//nolint:gosec // G204: lister is configured by the application
		out, err := exec.CommandContext(ctx, p.lister, "/FI", "IMAGENAME eq "+name, "/NH").Output()
		if err != nil {
			return false, fmt.Errorf("%s: %w", p.lister, err)
		}
		return bytes.Contains(bytes.ToLower(out), []byte(strings.ToLower(name))), nil
	}

	args := pgrepArgs(name)
	//nolint:gosec // G204: lister is configured by the application
	err = exec.CommandContext(ctx, p.lister, args...).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// pgrep exits 1 when nothing matched.
		return false, nil
	}
	return false, fmt.Errorf("%s %s: %w", p.lister, strings.Join(args, " "), err)
}

// pgrepArgs matches name exactly against the process name, or against the
// executable at the start of the command line when name is too long for
// the kernel's process name.
func pgrepArgs(name string) []string {
	if len(name) <= commNameLimit {
		return []string{"-x", name}
	}
	return []string{"-f", "^([^ ]*/)?" + regexp.QuoteMeta(name) + "( |$)"}
}

// Launch starts exe with args, split shell-style (see splitArgs). When elevated is set the
// configured elevation command is prefixed. Launch returns once the process
// has started; it does not wait for it to exit.
func (p *OS) Launch(ctx context.Context, exe, args string, elevated bool) error {
	argv, err := splitArgs(args, p.goos)
	if err != nil {
		return appErrors.New(appErrors.CodeLaunchFailed, fmt.Sprintf("parse arguments %q", args), err)
	}
	bin := exe
	if elevated && p.elevateWith != "" {
		argv = append([]string{exe}, argv...)
		bin = p.elevateWith
	}

	//nolint:gosec // G204: the executable comes from installed package metadata
	cmd := exec.Command(bin, argv...)
	cmd.Dir = filepath.Dir(exe)
	cmd.SysProcAttr = sysProcAttr()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := ctx.Err(); err != nil {
		return appErrors.New(appErrors.CodeLaunchFailed, "launch cancelled", err)
	}
	if err := cmd.Start(); err != nil {
		return appErrors.New(appErrors.CodeLaunchFailed, fmt.Sprintf("start %s", filepath.Base(exe)), err)
	}
	debug.Logf("probe: started %s pid=%d args=%q elevated=%t", exe, cmd.Process.Pid, argv, elevated)

	// Reap the child so it does not linger as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			debug.Logf("probe: %s exited: %v %s", filepath.Base(exe), err, snippet(stderr.String()))
		}
	}()
	return nil
}

// splitArgs splits a startup argument string into words. Quotes group
// words. On Windows a backslash is a path separator, not an escape, so
// "C:\dir" stays intact; elsewhere the usual shell escaping applies.
func splitArgs(args, goos string) ([]string, error) {
	if goos == "windows" {
		args = literalBackslashes(args)
	}
	return shlex.Split(args)
}

// literalBackslashes doubles backslashes outside single quotes, where the
// splitter would otherwise consume them as escapes.
func literalBackslashes(args string) string {
	var b strings.Builder
	single, double := false, false
	for _, r := range args {
		switch {
		case r == '\'' && !double:
			single = !single
		case r == '"' && !single:
			double = !double
		case r == '\\' && !single:
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorSnippetLen {
		s = s[:maxErrorSnippetLen] + "..."
	}
	return s
}
