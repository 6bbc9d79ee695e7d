// Package theme holds the color palettes for the mounterctl TUI.
package theme

import (
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// DefaultName is the palette used when none is configured.
const DefaultName = "classic"

// Palette maps the TUI's semantic roles to adaptive colors.
type Palette struct {
	Name string

	Header     lipgloss.AdaptiveColor // header badge background
	HeaderText lipgloss.AdaptiveColor
	Field      lipgloss.AdaptiveColor // field labels
	Text       lipgloss.AdaptiveColor
	Muted      lipgloss.AdaptiveColor // key hints
	Dim        lipgloss.AdaptiveColor // disabled hints, pane border

	Running lipgloss.AdaptiveColor
	Busy    lipgloss.AdaptiveColor
	Failed  lipgloss.AdaptiveColor
	Notice  lipgloss.AdaptiveColor
}

var registry = struct {
	mu       sync.RWMutex
	palettes map[string]Palette
}{palettes: make(map[string]Palette)}

// Register adds or replaces a palette under p.Name.
func Register(p Palette) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.palettes[p.Name] = p
}

// Lookup returns the named palette. Unknown names resolve to the default
// palette and ok=false.
func Lookup(name string) (Palette, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if p, ok := registry.palettes[name]; ok {
		return p, true
	}
	return registry.palettes[DefaultName], false
}

// Names lists registered palettes in sorted order.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.palettes))
	for name := range registry.palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns the palette after name in sorted order, wrapping around.
func Next(name string) Palette {
	names := Names()
	idx := -1
	for i, n := range names {
		if n == name {
			idx = i
			break
		}
	}
	p, _ := Lookup(names[(idx+1)%len(names)])
	return p
}
