package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"mounterctl/internal/config"
	"mounterctl/internal/debug"
	"mounterctl/internal/lifecycle"
	"mounterctl/internal/theme"
	"mounterctl/internal/workdir"
)

const tuiEventBuffer = 256

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Printf("Error initializing config: %v\n", err)
		os.Exit(1)
	}

	mirrorsDefault := strings.Join(config.GetStringSlice(config.KeyMirrors), ",")
	rootDefault := config.GetString(config.KeyMounterRoot)
	debugDefault := config.GetBool(config.KeyDebug)
	elevatedDefault := config.GetBool(config.KeyLaunchElevated)

	versionFlag := flag.Bool("version", false, "Print version information and exit")
	debugFlag := flag.Bool("debug", debugDefault, "Write a debug log to ~/.mounterctl/debug.log")
	mirrorsFlag := flag.String("mirrors", mirrorsDefault, "Comma separated manifest mirror URLs (or set MC_MIRRORS)")
	rootFlag := flag.String("root", rootDefault, "Folder holding installed mounter packages")
	elevatedFlag := flag.Bool("elevated", elevatedDefault, "Launch the mounter through the elevation command")
	statusFlag := flag.Bool("status", false, "Print installation status and exit")
	checkFlag := flag.Bool("check", false, "Check for updates, updating when needed")
	updateFlag := flag.Bool("update", false, "Update the mounter")
	reinstallFlag := flag.Bool("reinstall", false, "With --update, download even when the version is current")
	verifyFlag := flag.Bool("verify", false, "Verify the installed mounter against its block map")
	launchFlag := flag.Bool("launch", false, "Launch the mounter")
	argsFlag := flag.String("args", "", "With --launch, arguments replacing the package defaults")
	launchWithFlag := flag.String("launch-with", "", "Launch the mounter with the named startup arguments")
	terminateFlag := flag.Bool("terminate", false, "Terminate the running mounter")
	blockmapFlag := flag.String("blockmap", "", "Write _metadata/blockmap.json for the package folder and exit")
	saveMirrorsFlag := flag.String("save-mirrors", "", "Persist a comma separated mirror list to the user config and exit")
	flag.Parse()

	if *versionFlag {
		printVersion(os.Stdout)
		os.Exit(0)
	}

	visited := map[string]struct{}{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = struct{}{}
	})

	overrides := collectOverrides(runtimeFlags{
		debug:    debugFlag,
		mirrors:  mirrorsFlag,
		root:     rootFlag,
		elevated: elevatedFlag,
	}, visited)
	if err := config.ApplyOverrides(overrides); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying flags: %v\n", err)
		os.Exit(1)
	}

	if err := debug.Init(config.GetBool(config.KeyDebug),
		debug.WithMaxSizeMB(config.GetInt(config.KeyLogMaxSizeMB)),
		debug.WithMaxBackups(config.GetInt(config.KeyLogMaxBackups)),
	); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log disabled: %v\n", err)
	}
	defer debug.Close()
	debug.Logf("main: mounterctl %s starting", Version)

	ctx := context.Background()
	opts := appOptionsFromConfig()
	out := os.Stdout

	var err error
	switch {
	case *blockmapFlag != "":
		err = runBlockmap(out, *blockmapFlag)
	case *saveMirrorsFlag != "":
		err = runSaveMirrors(out, *saveMirrorsFlag)
	case *statusFlag:
		err = runStatus(ctx, out, opts)
	case *verifyFlag:
		err = runVerify(ctx, out, opts)
	case *checkFlag:
		err = runCheck(ctx, out, opts)
	case *updateFlag:
		err = runUpdate(ctx, out, opts, *reinstallFlag)
	case *launchFlag, *launchWithFlag != "":
		err = runLaunch(ctx, out, opts, *argsFlag, *launchWithFlag)
	case *terminateFlag:
		err = runTerminate(ctx, out, opts)
	default:
		err = runTUI(ctx, opts, func(m tea.Model) programRunner {
			return tea.NewProgram(m, tea.WithAltScreen())
		})
	}
	if err != nil {
		debug.Logf("main: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		debug.Close()
		os.Exit(1)
	}
}

type runtimeFlags struct {
	debug    *bool
	mirrors  *string
	root     *string
	elevated *bool
}

// collectOverrides turns explicitly set flags into config overrides so
// unset flags never mask environment or file values.
func collectOverrides(flags runtimeFlags, visited map[string]struct{}) map[string]any {
	overrides := map[string]any{}
	if flagWasExplicitlySet("debug", visited) {
		overrides[config.KeyDebug] = *flags.debug
	}
	if flagWasExplicitlySet("mirrors", visited) {
		overrides[config.KeyMirrors] = splitList(*flags.mirrors)
	}
	if flagWasExplicitlySet("root", visited) {
		overrides[config.KeyMounterRoot] = strings.TrimSpace(*flags.root)
	}
	if flagWasExplicitlySet("elevated", visited) {
		overrides[config.KeyLaunchElevated] = *flags.elevated
	}
	return overrides
}

func flagWasExplicitlySet(name string, visited map[string]struct{}) bool {
	_, ok := visited[name]
	return ok
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model) programRunner

// runTUI wires the engine with an event channel feeding the status UI.
func runTUI(ctx context.Context, opts appOptions, factory programFactory) error {
	events := make(chan lifecycle.Event, tuiEventBuffer)
	forward := func(ev lifecycle.Event) {
		select {
		case events <- ev:
		default:
			debug.Logf("tui: dropped %s event", ev.Kind)
		}
	}

	a, err := newApp(ctx, opts, forward)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()
	a.startPoller()

	installed := func() string {
		dir, ok, err := a.dirs.Current(ctx)
		if err != nil || !ok {
			return ""
		}
		meta, ok := workdir.ProbeMetadata(dir.Path())
		if !ok {
			return ""
		}
		return meta.Version
	}

	if factory == nil {
		return fmt.Errorf("program factory is nil")
	}
	palette, ok := theme.Lookup(opts.theme)
	if !ok && opts.theme != "" {
		debug.Logf("unknown theme %q, using %s", opts.theme, palette.Name)
	}
	prog := factory(newTUIModel(a.ctrl, events, installed).withPalette(palette))
	if prog == nil {
		return fmt.Errorf("program is nil")
	}
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}
