package update

import (
	"regexp"
	"strconv"
	"strings"
)

// VersionChange describes how a remote version relates to the installed one.
// It is informational: whether to install is decided by ordinal equality.
type VersionChange int

const (
	ChangeUnknown VersionChange = iota
	ChangeNone
	ChangeFreshInstall
	ChangeUpgrade
	ChangeDowngrade
)

// String returns the string representation of a VersionChange.
func (c VersionChange) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeFreshInstall:
		return "fresh-install"
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	default:
		return "unknown"
	}
}

// numericVersion matches dotted numeric versions with optional 'v' prefix
// and trailing label, e.g. "1.4", "v2.0.3", "1.2.3.4-beta".
var numericVersion = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:[-+].*)?$`)

// ClassifyChange compares previous and next semantically when both parse
// as dotted numeric versions.
func ClassifyChange(previous, next string) VersionChange {
	if strings.TrimSpace(previous) == "" {
		return ChangeFreshInstall
	}
	if previous == next {
		return ChangeNone
	}
	a, okA := parseParts(previous)
	b, okB := parseParts(next)
	if !okA || !okB {
		return ChangeUnknown
	}
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x < y {
			return ChangeUpgrade
		}
		if x > y {
			return ChangeDowngrade
		}
	}
	// Same numbers, different labels or prefixes.
	return ChangeUnknown
}

func parseParts(v string) ([]int, bool) {
	m := numericVersion.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return nil, false
	}
	fields := strings.Split(m[1], ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}
