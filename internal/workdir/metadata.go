package workdir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mounterctl/internal/domain"
	appErrors "mounterctl/internal/errors"
)

const (
	// MetadataDirName is the folder inside a working directory holding package descriptors.
	MetadataDirName = "_metadata"
	// PackageFileName describes the installed package.
	PackageFileName = "package.json"
	// BlockMapFileName lists the content hashes of the installed files.
	BlockMapFileName = "blockmap.json"
)

// LoadMetadata reads <dir>/_metadata/package.json. Use it when the
// metadata is required: a missing or unparsable file is an error.
func LoadMetadata(dir string) (domain.PackageMetadata, error) {
	path := filepath.Join(dir, MetadataDirName, PackageFileName)
	//nolint:gosec // G304: path is built from the managed working directory
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.PackageMetadata{}, appErrors.New(appErrors.CodeMetadataMissing, fmt.Sprintf("no package metadata at %s", path), err)
	}
	if err != nil {
		return domain.PackageMetadata{}, appErrors.New(appErrors.CodeMetadataMissing, fmt.Sprintf("read %s", path), err)
	}

	// package.json files produced on Windows often carry a UTF-8 BOM.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var meta domain.PackageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.PackageMetadata{}, appErrors.New(appErrors.CodeMetadataInvalid, fmt.Sprintf("parse %s", path), err)
	}
	return meta, nil
}

// ProbeMetadata reads package metadata for "is anything installed here"
// questions. ok is false when the metadata is absent or unreadable.
func ProbeMetadata(dir string) (meta domain.PackageMetadata, ok bool) {
	if strings.TrimSpace(dir) == "" {
		return domain.PackageMetadata{}, false
	}
	meta, err := LoadMetadata(dir)
	if err != nil || meta.IsEmpty() {
		return domain.PackageMetadata{}, false
	}
	return meta, true
}

// ResolvePath joins a metadata-relative path onto dir. Either separator is
// accepted. Paths escaping dir are rejected.
func ResolvePath(dir, rel string) (string, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(rel, "\\", "/"))
	if cleaned == "" {
		return "", appErrors.New(appErrors.CodeMetadataInvalid, "empty package path", nil)
	}
	joined := filepath.Join(dir, filepath.FromSlash(cleaned))
	within, err := filepath.Rel(dir, joined)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", appErrors.New(appErrors.CodeMetadataInvalid, fmt.Sprintf("package path %q escapes %s", rel, dir), err)
	}
	return joined, nil
}
