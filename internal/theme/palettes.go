package theme

import "github.com/charmbracelet/lipgloss"

func adaptive(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

func init() {
	// ANSI 256 palette, works on terminals without truecolor.
	Register(Palette{
		Name:       DefaultName,
		Header:     adaptive("99", "99"),
		HeaderText: adaptive("255", "255"),
		Field:      adaptive("63", "63"),
		Text:       adaptive("235", "255"),
		Muted:      adaptive("244", "250"),
		Dim:        adaptive("250", "240"),
		Running:    adaptive("28", "118"),
		Busy:       adaptive("32", "39"),
		Failed:     adaptive("160", "196"),
		Notice:     adaptive("136", "220"),
	})

	// https://draculatheme.com/contribute
	Register(Palette{
		Name:       "dracula",
		Header:     adaptive("#7e57c2", "#bd93f9"),
		HeaderText: adaptive("#ffffff", "#282a36"),
		Field:      adaptive("#0097a7", "#8be9fd"),
		Text:       adaptive("#282a36", "#f8f8f2"),
		Muted:      adaptive("#6272a4", "#6272a4"),
		Dim:        adaptive("#bdbdbd", "#44475a"),
		Running:    adaptive("#2e7d32", "#50fa7b"),
		Busy:       adaptive("#ad1457", "#ff79c6"),
		Failed:     adaptive("#d32f2f", "#ff5555"),
		Notice:     adaptive("#ef6c00", "#ffb86c"),
	})

	// https://www.nordtheme.com/docs/colors-and-palettes
	Register(Palette{
		Name:       "nord",
		Header:     adaptive("#5E81AC", "#88C0D0"),
		HeaderText: adaptive("#ECEFF4", "#2E3440"),
		Field:      adaptive("#5E81AC", "#81A1C1"),
		Text:       adaptive("#2E3440", "#ECEFF4"),
		Muted:      adaptive("#4C566A", "#D8DEE9"),
		Dim:        adaptive("#D8DEE9", "#4C566A"),
		Running:    adaptive("#A3BE8C", "#A3BE8C"),
		Busy:       adaptive("#5E81AC", "#8FBCBB"),
		Failed:     adaptive("#BF616A", "#BF616A"),
		Notice:     adaptive("#D08770", "#EBCB8B"),
	})

	// https://ethanschoonover.com/solarized/
	Register(Palette{
		Name:       "solarized",
		Header:     adaptive("#268bd2", "#268bd2"),
		HeaderText: adaptive("#fdf6e3", "#fdf6e3"),
		Field:      adaptive("#6c71c4", "#6c71c4"),
		Text:       adaptive("#657b83", "#839496"),
		Muted:      adaptive("#93a1a1", "#586e75"),
		Dim:        adaptive("#eee8d5", "#073642"),
		Running:    adaptive("#859900", "#859900"),
		Busy:       adaptive("#2aa198", "#2aa198"),
		Failed:     adaptive("#dc322f", "#dc322f"),
		Notice:     adaptive("#cb4b16", "#b58900"),
	})
}
