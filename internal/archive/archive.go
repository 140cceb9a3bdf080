// Package archive provides uniform read and write access to comic book
// containers. Two backends are supported: zip (random access) and tar
// (sequential, optionally gzip-compressed).
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Format identifies a container backend.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	default:
		return "unknown"
	}
}

// Entry is a read-only view of one record inside a container.
type Entry struct {
	Path   string // slash-separated, no leading slash
	IsDir  bool
	Size   int64
	Unsafe bool // absolute or parent-escaping name; never extracted
}

// Reader is an open container. It is owned by a single caller and must be
// closed exactly once.
type Reader interface {
	Format() Format
	// Entries returns the entries in raw listing order.
	Entries() []Entry
	ReadFile(path string) ([]byte, error)
	// ExtractTo writes the entry below destDir and returns the written path.
	ExtractTo(path, destDir string) (string, error)
	Close() error
}

// Writer is a container opened for appends.
type Writer interface {
	Format() Format
	Append(path string, data []byte) error
	Close() error
}

var (
	ErrUnreadable    = errors.New("container unreadable")
	ErrEntryMissing  = errors.New("entry missing")
	ErrUnknownFormat = errors.New("unknown container format")
	ErrInvalidPath   = errors.New("invalid entry path")
	ErrClosed        = errors.New("container already closed")
)

const sniffLen = 512

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	ustarMagic    = []byte("ustar")
)

// Detect inspects the leading bytes of a container and falls back to the
// file name extension when the magic is inconclusive.
func Detect(head []byte, name string) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTar
	case len(head) >= 262 && bytes.Equal(head[257:262], ustarMagic):
		return FormatTar
	}
	return FormatForPath(name)
}

// FormatForPath maps a file name extension to a backend.
func FormatForPath(name string) Format {
	if isGzipPath(name) {
		return FormatTar
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cbz", ".zip":
		return FormatZip
	case ".cbt", ".tar":
		return FormatTar
	default:
		return FormatUnknown
	}
}

// isGzipPath reports whether name asks for a gzip-wrapped tar.
func isGzipPath(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar.gz")
}

// Open opens a container on the OS filesystem.
func Open(path string) (Reader, error) {
	return OpenFs(afero.NewOsFs(), path)
}

// OpenFs opens a container from fsys, selecting the backend once from the
// container magic.
func OpenFs(fsys afero.Fs, path string) (Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	var r Reader
	switch Detect(head, path) {
	case FormatZip:
		r, err = openZip(fsys, f, info.Size())
	case FormatTar:
		r, err = openTar(fsys, f, bytes.HasPrefix(head, gzipMagic))
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return r, nil
}

// Create opens a new container for appends at path. The backend is chosen
// from the path extension; anything that is not tar-like is written as zip.
// Tar output under a .tgz or .tar.gz name is gzip-compressed.
func Create(fsys afero.Fs, path string, format Format) (Writer, error) {
	if format == FormatUnknown {
		format = FormatForPath(path)
	}
	f, err := fsys.OpenFile(path, osCreateFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", path, err)
	}
	if format == FormatTar {
		return newTarWriter(f, isGzipPath(path)), nil
	}
	return newZipWriter(f), nil
}
