package domain

import "strings"

// PackageManifest is the small remote document naming the latest package.
type PackageManifest struct {
	Path    string `json:"Path"`
	Version string `json:"Version"`

	// Source is the mirror URL the manifest was fetched from.
	Source string `json:"-"`
}

// Validate rejects manifests that cannot drive a download.
func (m PackageManifest) Validate() error {
	if strings.TrimSpace(m.Path) == "" {
		return invalidManifestError("manifest has no Path")
	}
	if strings.TrimSpace(m.Version) == "" {
		return invalidManifestError("manifest has no Version")
	}
	return nil
}
