package update

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"mounterctl/internal/debug"
	appErrors "mounterctl/internal/errors"
)

// archiveFormat is detected from the leading bytes, not the file name,
// since mirrors are free to name packages however they like.
type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTarGzip
	formatTarZstd
	formatTarXz
	formatTar
)

func (f archiveFormat) String() string {
	switch f {
	case formatZip:
		return "zip"
	case formatTarGzip:
		return "tar.gz"
	case formatTarZstd:
		return "tar.zst"
	case formatTarXz:
		return "tar.xz"
	case formatTar:
		return "tar"
	default:
		return "unknown"
	}
}

var (
	magicZip  = []byte("PK\x03\x04")
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

func sniffFormat(header []byte) archiveFormat {
	switch {
	case bytes.HasPrefix(header, magicZip):
		return formatZip
	case bytes.HasPrefix(header, magicGzip):
		return formatTarGzip
	case bytes.HasPrefix(header, magicZstd):
		return formatTarZstd
	case bytes.HasPrefix(header, magicXz):
		return formatTarXz
	case len(header) >= 262 && string(header[257:262]) == "ustar":
		return formatTar
	}
	return formatUnknown
}

// Extract unpacks the archive at archivePath into dest, which must exist.
// progress receives the share of the archive consumed so far.
func Extract(archivePath, dest string, progress TransferFunc) error {
	//nolint:gosec // G304: archive was downloaded by this process
	f, err := os.Open(archivePath)
	if err != nil {
		return extractionError("open archive", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return extractionError("stat archive", err)
	}

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return extractionError("read archive header", err)
	}
	format := sniffFormat(header[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return extractionError("rewind archive", err)
	}
	debug.Logf("update: extracting %s archive %s into %s", format, archivePath, dest)

	switch format {
	case formatZip:
		return extractZip(f, info.Size(), dest, progress)
	case formatTarGzip, formatTarZstd, formatTarXz, formatTar:
		counted := &countingReader{r: bufio.NewReader(f), total: info.Size(), report: progress}
		return extractTarStream(counted, format, dest)
	}
	return extractionError(fmt.Sprintf("unsupported archive format in %s", filepath.Base(archivePath)), nil)
}

func extractZip(f *os.File, size int64, dest string, progress TransferFunc) error {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return extractionError("read zip", err)
	}

	var total, done int64
	for _, entry := range zr.File {
		total += int64(entry.CompressedSize64)
	}

	for _, entry := range zr.File {
		target, err := entryPath(dest, entry.Name)
		if err != nil {
			return err
		}
		mode := entry.Mode()
		switch {
		case mode.IsDir():
			//nolint:gosec // G301: package folders need standard permissions
			if err := os.MkdirAll(target, 0755); err != nil {
				return extractionError("create dir", err)
			}
		case mode.IsRegular():
			rc, err := entry.Open()
			if err != nil {
				return extractionError(fmt.Sprintf("open %s", entry.Name), err)
			}
			err = writeEntry(target, rc, mode)
			_ = rc.Close()
			if err != nil {
				return err
			}
		default:
			debug.Logf("update: skipping non-regular zip entry %s (%s)", entry.Name, mode)
		}
		done += int64(entry.CompressedSize64)
		if progress != nil {
			progress(done, total)
		}
	}
	return nil
}

func extractTarStream(r io.Reader, format archiveFormat, dest string) error {
	var stream io.Reader
	switch format {
	case formatTarGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return extractionError("create gzip reader", err)
		}
		defer func() { _ = gz.Close() }()
		stream = gz
	case formatTarZstd:
		zst, err := zstd.NewReader(r)
		if err != nil {
			return extractionError("create zstd reader", err)
		}
		defer zst.Close()
		stream = zst
	case formatTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return extractionError("create xz reader", err)
		}
		stream = xzr
	default:
		stream = r
	}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return extractionError("read tar", err)
		}

		switch hdr.Typeflag {
		case tar.TypeXHeader, tar.TypeXGlobalHeader:
			continue
		case tar.TypeDir:
			target, err := entryPath(dest, hdr.Name)
			if err != nil {
				return err
			}
			//nolint:gosec // G301: package folders need standard permissions
			if err := os.MkdirAll(target, 0755); err != nil {
				return extractionError("create dir", err)
			}
		case tar.TypeReg:
			target, err := entryPath(dest, hdr.Name)
			if err != nil {
				return err
			}
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			debug.Logf("update: skipping tar entry %s of type %c", hdr.Name, hdr.Typeflag)
		}
	}
}

// entryPath maps an archive member name into dest, refusing names that
// would land outside it.
func entryPath(dest, name string) (string, error) {
	cleaned := strings.ReplaceAll(name, "\\", "/")
	target := filepath.Join(dest, filepath.FromSlash(cleaned))
	if target != filepath.Clean(dest) && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", extractionError(fmt.Sprintf("illegal file path in archive: %s", name), nil)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	//nolint:gosec // G301: package folders need standard permissions
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return extractionError("create parent dir", err)
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	//nolint:gosec // G304: target was checked by entryPath
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0200)
	if err != nil {
		return extractionError(fmt.Sprintf("create %s", target), err)
	}
	//nolint:gosec // G110: packages come from configured mirrors
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return extractionError(fmt.Sprintf("write %s", target), err)
	}
	if err := out.Close(); err != nil {
		return extractionError(fmt.Sprintf("close %s", target), err)
	}
	return nil
}

func extractionError(msg string, err error) error {
	return appErrors.New(appErrors.CodeExtractionFailed, msg, err)
}

type countingReader struct {
	r      io.Reader
	done   int64
	total  int64
	report TransferFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.done += int64(n)
	if n > 0 && c.report != nil {
		c.report(c.done, c.total)
	}
	return n, err
}
