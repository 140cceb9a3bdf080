package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// tarReader is the sequential backend. Tar offers no random access, so every
// regular entry is spooled into a scratch directory when the container is
// opened; reads are then served from the scratch copies.
type tarReader struct {
	fsys    afero.Fs
	file    afero.File
	scratch string
	entries []Entry
	spooled map[string]string
	closed  bool
}

func openTar(fsys afero.Fs, f afero.File, gzipped bool) (*tarReader, error) {
	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	scratch, err := afero.TempDir(fsys, "", "cbzkit-tar-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	r := &tarReader{
		fsys:    fsys,
		file:    f,
		scratch: scratch,
		spooled: make(map[string]string),
	}

	if err := r.spool(tar.NewReader(src)); err != nil {
		fsys.RemoveAll(scratch)
		return nil, err
	}
	return r, nil
}

func (r *tarReader) spool(tr *tar.Reader) error {
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		name := NormalizePath(hdr.Name)
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			r.entries = append(r.entries, Entry{Path: name, IsDir: true})
			continue
		case tar.TypeReg:
		default:
			// links, devices and pax globals carry no page data
			continue
		}

		r.entries = append(r.entries, Entry{
			Path:   name,
			Size:   hdr.Size,
			Unsafe: !IsSafePath(name),
		})
		if _, ok := r.spooled[name]; ok {
			continue
		}

		// flat scratch names keep nested or hostile entry names harmless
		dest := filepath.Join(r.scratch, strconv.Itoa(i))
		out, err := r.fsys.Create(dest)
		if err != nil {
			return fmt.Errorf("failed to spool %s: %w", name, err)
		}
		_, copyErr := io.Copy(out, tr)
		closeErr := out.Close()
		if copyErr != nil {
			return fmt.Errorf("failed to spool %s: %w", name, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to spool %s: %w", name, closeErr)
		}
		r.spooled[name] = dest
	}
}

func (r *tarReader) Format() Format { return FormatTar }

func (r *tarReader) Entries() []Entry { return r.entries }

func (r *tarReader) ReadFile(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	name = NormalizePath(name)
	scratchPath, ok := r.spooled[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
	}
	data, err := afero.ReadFile(r.fsys, scratchPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read spooled entry %s: %w", name, err)
	}
	return data, nil
}

func (r *tarReader) ExtractTo(name, destDir string) (string, error) {
	data, err := r.ReadFile(name)
	if err != nil {
		return "", err
	}
	return writeExtracted(r.fsys, destDir, NormalizePath(name), data)
}

func (r *tarReader) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	rmErr := r.fsys.RemoveAll(r.scratch)
	if err := r.file.Close(); err != nil {
		return err
	}
	return rmErr
}
