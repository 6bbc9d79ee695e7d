package domain

import "strings"

// StartupArg is a named alternative set of process-start arguments.
type StartupArg struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// PackageMetadata mirrors <workingDir>/_metadata/package.json. It is re-read
// on demand and never cached. The zero value means "no package present".
type PackageMetadata struct {
	Author            string       `json:"Author"`
	Version           string       `json:"Version"`
	SettingsFile      string       `json:"SettingsFile"`
	ExecutableFile    string       `json:"ExecutableFile"`
	ProcStartupArgs   string       `json:"ProcStartupArgs"`
	ProcTerminateArgs string       `json:"ProcTerminateArgs"`
	OtherStartupArgs  []StartupArg `json:"OtherStartupArgs"`
}

// IsEmpty reports whether m is the "no package present" sentinel.
func (m PackageMetadata) IsEmpty() bool {
	return m.Author == "" &&
		m.Version == "" &&
		m.SettingsFile == "" &&
		m.ExecutableFile == "" &&
		m.ProcStartupArgs == "" &&
		m.ProcTerminateArgs == "" &&
		len(m.OtherStartupArgs) == 0
}

// Validate checks the fields required to drive the helper process.
func (m PackageMetadata) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return invalidMetadataError("package metadata has no Version")
	}
	if strings.TrimSpace(m.ExecutableFile) == "" {
		return invalidMetadataError("package metadata has no ExecutableFile")
	}
	return nil
}

// StartupArgs returns the named alternative startup arguments.
func (m PackageMetadata) StartupArgs(name string) (string, bool) {
	for _, arg := range m.OtherStartupArgs {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return "", false
}

// SameVersion compares versions by ordinal string equality. Semantic
// ordering is deliberately not applied.
func SameVersion(a, b string) bool {
	return a == b
}
