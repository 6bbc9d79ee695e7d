package main

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"

	"mounterctl/internal/debug"
	"mounterctl/internal/domain"
	"mounterctl/internal/lifecycle"
	"mounterctl/internal/theme"
	"mounterctl/internal/update"
)

// --- Styles ---
type styles struct {
	header  lipgloss.Style
	field   lipgloss.Style
	val     lipgloss.Style
	running lipgloss.Style
	busy    lipgloss.Style
	failed  lipgloss.Style
	notice  lipgloss.Style
	key     lipgloss.Style
	keyOff  lipgloss.Style
	pane    lipgloss.Style
}

func newStyles(p theme.Palette) styles {
	return styles{
		header: lipgloss.NewStyle().
			Foreground(p.HeaderText).
			Background(p.Header).
			Bold(true).
			Padding(0, 1),
		field: lipgloss.NewStyle().
			Foreground(p.Field).
			Bold(true).
			Width(11),
		val:     lipgloss.NewStyle().Foreground(p.Text),
		running: lipgloss.NewStyle().Foreground(p.Running).Bold(true),
		busy:    lipgloss.NewStyle().Foreground(p.Busy).Bold(true),
		failed:  lipgloss.NewStyle().Foreground(p.Failed).Bold(true),
		notice:  lipgloss.NewStyle().Foreground(p.Notice),
		key:     lipgloss.NewStyle().Foreground(p.Muted),
		keyOff:  lipgloss.NewStyle().Foreground(p.Dim),
		pane: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(p.Dim).
			Padding(0, 1),
	}
}

const maxBarWidth = 60

// controller is the slice of lifecycle.Controller the TUI drives.
type controller interface {
	Snapshot() lifecycle.Snapshot
	ToggleState() *lifecycle.Op
	Launch(args string) *lifecycle.Op
	Terminate() *lifecycle.Op
	CheckForUpdates() *lifecycle.Op
	Update(opts update.Options) *lifecycle.Op
	TerminateAndUpdate() *lifecycle.Op
}

type eventMsg lifecycle.Event

type opDoneMsg struct {
	err     error
	skipped bool
}

type copiedMsg struct {
	err error
}

type tuiModel struct {
	ctrl      controller
	events    <-chan lifecycle.Event
	installed func() string
	copy      func(string) error

	snap             lifecycle.Snapshot
	installedVersion string
	notice           string
	failure          string
	status           string

	palette theme.Palette
	styles  styles
	spinner spinner.Model
	bar     progress.Model
	width   int
}

func newTUIModel(ctrl controller, events <-chan lifecycle.Event, installed func() string) tuiModel {
	m := tuiModel{
		ctrl:             ctrl,
		events:           events,
		installed:        installed,
		copy:             clipboard.WriteAll,
		snap:             ctrl.Snapshot(),
		installedVersion: installed(),
		spinner:          spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:              progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:            80,
	}
	p, _ := theme.Lookup(theme.DefaultName)
	return m.withPalette(p)
}

func (m tuiModel) withPalette(p theme.Palette) tuiModel {
	m.palette = p
	m.styles = newStyles(p)
	m.spinner.Style = m.styles.busy
	return m
}

func waitForEvent(events <-chan lifecycle.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func runOp(op *lifecycle.Op) tea.Cmd {
	return func() tea.Msg {
		err := op.Wait()
		return opDoneMsg{err: err, skipped: op.Skipped()}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.spinner.Tick)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-8))
		return m, nil

	case eventMsg:
		m.snap = m.ctrl.Snapshot()
		if msg.Kind == lifecycle.EventNotice {
			m.notice = msg.Notice.Message()
			m.status = ""
			if msg.Err != nil {
				m.failure = msg.Err.Error()
			}
			if msg.Notice == lifecycle.NoticeUpdated {
				m.installedVersion = m.installed()
				m.failure = ""
			}
		}
		return m, waitForEvent(m.events)

	case opDoneMsg:
		m.snap = m.ctrl.Snapshot()
		if msg.err != nil {
			debug.Logf("tui: operation failed: %v", msg.err)
		}
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "Copy failed: " + msg.err.Error()
		} else {
			m.status = "Copied failure details to clipboard."
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "enter":
		return m, runOp(m.ctrl.ToggleState())
	case "l":
		return m, runOp(m.ctrl.Launch(""))
	case "t":
		return m, runOp(m.ctrl.Terminate())
	case "c":
		return m, runOp(m.ctrl.CheckForUpdates())
	case "u":
		return m, runOp(m.ctrl.Update(update.Options{}))
	case "U":
		return m, runOp(m.ctrl.TerminateAndUpdate())
	case "T":
		m = m.withPalette(theme.Next(m.palette.Name))
		m.status = "Theme: " + m.palette.Name
		return m, nil
	case "y":
		if m.failure == "" {
			return m, nil
		}
		text, copyFn := m.failure, m.copy
		return m, func() tea.Msg { return copiedMsg{err: copyFn(text)} }
	}
	return m, nil
}

func (st styles) stateLabel(s domain.LaunchState, spin string) string {
	switch s {
	case domain.StateRunning:
		return st.running.Render("Running")
	case domain.StateCheckingForUpdates:
		return st.busy.Render(spin + " Checking for updates")
	case domain.StateUpdating:
		return st.busy.Render(spin + " Updating")
	case domain.StateUpdateFailed:
		return st.failed.Render("Update failed")
	}
	return st.val.Render("Idle")
}

func (st styles) keyHint(key, label string, enabled bool) string {
	style := st.key
	if !enabled {
		style = st.keyOff
	}
	return style.Render(fmt.Sprintf("[ %s ] %s", key, label))
}

func (m tuiModel) View() string {
	st := m.styles
	inner := max(20, m.width-4)

	installed := m.installedVersion
	if installed == "" {
		installed = "not installed"
	}
	running := "no"
	if m.snap.Running {
		running = "yes"
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left, st.field.Render("State:"), st.stateLabel(m.snap.State, m.spinner.View())),
		lipgloss.JoinHorizontal(lipgloss.Left, st.field.Render("Installed:"), st.val.Render(installed)),
		lipgloss.JoinHorizontal(lipgloss.Left, st.field.Render("Running:"), st.val.Render(running)),
	}
	if m.snap.State == domain.StateUpdating {
		rows = append(rows, "", m.bar.ViewAs(float64(m.snap.Progress)/100))
	}
	if m.notice != "" {
		rows = append(rows, "", st.notice.Render(ansi.Truncate(m.notice, inner, "…")))
	}
	if m.failure != "" {
		rows = append(rows, st.failed.Render(wordwrap.String(m.failure, inner)))
	}
	if m.status != "" {
		rows = append(rows, st.key.Render(ansi.Truncate(m.status, inner, "…")))
	}

	header := st.header.Render("MOUNTER") + " " + st.key.Render("mounterctl "+Version)
	body := st.pane.Width(max(20, m.width-2)).Render(strings.Join(rows, "\n"))

	hints := []string{
		st.keyHint("enter", m.snap.ToggleLabel, m.snap.CanToggle),
		st.keyHint("l", "Launch", m.snap.CanLaunch),
		st.keyHint("t", "Terminate", m.snap.CanTerminate),
		st.keyHint("c", "Check", m.snap.CanCheck),
		st.keyHint("u", "Update", m.snap.CanUpdate),
		st.keyHint("U", "Stop+Update", m.snap.CanTerminate),
		st.keyHint("y", "Copy error", m.failure != ""),
		st.keyHint("T", "Theme", true),
		st.keyHint("q", "Quit", true),
	}
	footer := wordwrap.String(strings.Join(hints, "  "), max(20, m.width))

	return fmt.Sprintf("%s\n%s\n%s", header, body, footer)
}
