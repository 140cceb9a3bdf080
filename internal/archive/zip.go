package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// zipReader is the random-access backend. Entries are read in memory
// straight from the central directory.
type zipReader struct {
	fsys    afero.Fs
	file    afero.File
	zr      *zip.Reader
	entries []Entry
	files   map[string]*zip.File
	closed  bool
}

func openZip(fsys afero.Fs, f afero.File, size int64) (*zipReader, error) {
	zr, err := zip.NewReader(f, size)
	if errors.Is(err, zip.ErrInsecurePath) && zr != nil {
		// unsafe names are flagged per entry instead
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read zip directory: %w", err)
	}

	r := &zipReader{
		fsys:    fsys,
		file:    f,
		zr:      zr,
		entries: make([]Entry, 0, len(zr.File)),
		files:   make(map[string]*zip.File, len(zr.File)),
	}

	for _, zf := range zr.File {
		name := NormalizePath(zf.Name)
		if name == "" {
			continue
		}
		r.entries = append(r.entries, Entry{
			Path:   name,
			IsDir:  zf.FileInfo().IsDir(),
			Size:   int64(zf.UncompressedSize64),
			Unsafe: !IsSafePath(name),
		})
		// first occurrence wins for duplicated names
		if _, ok := r.files[name]; !ok {
			r.files[name] = zf
		}
	}

	return r, nil
}

func (r *zipReader) Format() Format { return FormatZip }

func (r *zipReader) Entries() []Entry { return r.entries }

func (r *zipReader) ReadFile(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	name = NormalizePath(name)
	zf, ok := r.files[name]
	if !ok || zf.FileInfo().IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
	}

	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func (r *zipReader) ExtractTo(name, destDir string) (string, error) {
	data, err := r.ReadFile(name)
	if err != nil {
		return "", err
	}
	return writeExtracted(r.fsys, destDir, NormalizePath(name), data)
}

func (r *zipReader) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	return r.file.Close()
}

func writeExtracted(fsys afero.Fs, destDir, name string, data []byte) (string, error) {
	dest, err := destination(destDir, name)
	if err != nil {
		return "", fmt.Errorf("refusing to extract %s: %w", name, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := afero.WriteFile(fsys, dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return dest, nil
}
