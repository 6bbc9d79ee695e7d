// Package verify checks an installed working directory against its block
// map using fast non-cryptographic xxHash64 digests.
package verify

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"

	"mounterctl/internal/debug"
	"mounterctl/internal/workdir"
)

var (
	errMissingFile = errors.New("file listed in block map is missing")
	errMismatch    = errors.New("checksum mismatch")
)

// PathHash hashes a path relative to the working directory root. Separators
// are normalised to forward slashes first.
func PathHash(rel string) uint64 {
	return xxhash.Sum64String(filepath.ToSlash(filepath.Clean(rel)))
}

// FileChecksum hashes the content of the file at path.
func FileChecksum(path string) (uint64, error) {
	//nolint:gosec // G304: path comes from walking the managed working directory
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Verify reports whether every file declared in dir's block map exists and
// matches its checksum. A missing or malformed block map, a missing file, a
// mismatch or an I/O error all yield false.
func Verify(dir string) bool {
	if err := check(dir); err != nil {
		debug.Logf("verify: %s is not trustworthy: %v", dir, err)
		return false
	}
	return true
}

func check(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	bm, err := LoadBlockMap(dir)
	if err != nil {
		return err
	}

	index, err := indexFiles(dir)
	if err != nil {
		return err
	}

	for _, block := range bm.Blocks {
		path, ok := index[uint64(block.Hash)]
		if !ok {
			return fmt.Errorf("%w: path hash %d", errMissingFile, uint64(block.Hash))
		}
		sum, err := FileChecksum(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		if sum != uint64(block.Checksum) {
			return fmt.Errorf("%w: %s", errMismatch, path)
		}
	}
	return nil
}

// indexFiles maps the path hash of every regular file under dir to its
// absolute path.
func indexFiles(dir string) (map[uint64]string, error) {
	index := make(map[uint64]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		index[PathHash(rel)] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", dir, err)
	}
	return index, nil
}

// Build computes a block map covering every file under dir except the block
// map itself. Blocks are ordered by relative path.
func Build(dir string) (BlockMap, error) {
	self := filepath.Join(workdir.MetadataDirName, workdir.BlockMapFileName)

	var rels []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == self {
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return BlockMap{}, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(rels)

	bm := BlockMap{Blocks: make([]Block, 0, len(rels))}
	for _, rel := range rels {
		sum, err := FileChecksum(filepath.Join(dir, rel))
		if err != nil {
			return BlockMap{}, fmt.Errorf("hash %s: %w", rel, err)
		}
		bm.Blocks = append(bm.Blocks, Block{Hash: Hash64(PathHash(rel)), Checksum: Hash64(sum)})
	}
	return bm, nil
}
