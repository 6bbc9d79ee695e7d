package verify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mounterctl/internal/workdir"
)

// Hash64 is a 64-bit hash serialised as a decimal string. Bare JSON
// numbers are accepted on input.
type Hash64 uint64

// MarshalJSON implements json.Marshaler.
func (h Hash64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(h), 10))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash64) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if s, err := strconv.Unquote(raw); err == nil {
		raw = s
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid hash %s: %w", string(data), err)
	}
	*h = Hash64(v)
	return nil
}

// Block declares the expected checksum of the file whose relative path
// hashes to Hash.
type Block struct {
	Hash     Hash64 `json:"Hash"`
	Checksum Hash64 `json:"Checksum"`
}

// BlockMap is the parsed form of _metadata/blockmap.json.
type BlockMap struct {
	Blocks []Block `json:"Blocks"`
}

// LoadBlockMap reads the block map of a working directory. A document
// without a Blocks list is malformed; an empty list is valid.
func LoadBlockMap(dir string) (BlockMap, error) {
	path := filepath.Join(dir, workdir.MetadataDirName, workdir.BlockMapFileName)
	//nolint:gosec // G304: path is built from the managed working directory
	data, err := os.ReadFile(path)
	if err != nil {
		return BlockMap{}, fmt.Errorf("read block map: %w", err)
	}
	var bm BlockMap
	if err := json.Unmarshal(data, &bm); err != nil {
		return BlockMap{}, fmt.Errorf("parse block map: %w", err)
	}
	if bm.Blocks == nil {
		return BlockMap{}, fmt.Errorf("parse block map: missing Blocks list")
	}
	return bm, nil
}

// Write stores bm as the block map of dir.
func Write(dir string, bm BlockMap) error {
	path := filepath.Join(dir, workdir.MetadataDirName, workdir.BlockMapFileName)
	//nolint:gosec // G301: package folders need standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metadata folder: %w", err)
	}
	if bm.Blocks == nil {
		bm.Blocks = []Block{}
	}
	data, err := json.MarshalIndent(bm, "", "  ")
	if err != nil {
		return fmt.Errorf("encode block map: %w", err)
	}
	//nolint:gosec // G306: block maps are not secret
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write block map: %w", err)
	}
	return nil
}
