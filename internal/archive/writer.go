package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

const (
	osCreateFlags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	entryMode     = 0o644
)

type zipWriter struct {
	file   afero.File
	zw     *zip.Writer
	closed bool
}

func newZipWriter(f afero.File) *zipWriter {
	return &zipWriter{file: f, zw: zip.NewWriter(f)}
}

func (w *zipWriter) Format() Format { return FormatZip }

// Append stores data uncompressed; page images are already compressed.
func (w *zipWriter) Append(name string, data []byte) error {
	if w.closed {
		return ErrClosed
	}
	name, err := appendPath(name)
	if err != nil {
		return err
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: time.Now(),
	}
	hdr.SetMode(entryMode)

	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *zipWriter) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	zipErr := w.zw.Close()
	fileErr := w.file.Close()
	if zipErr != nil {
		return fmt.Errorf("failed to finish zip: %w", zipErr)
	}
	return fileErr
}

type tarWriter struct {
	file   afero.File
	gz     *gzip.Writer
	tw     *tar.Writer
	closed bool
}

func newTarWriter(f afero.File, gzipped bool) *tarWriter {
	w := &tarWriter{file: f}
	if gzipped {
		w.gz = gzip.NewWriter(f)
		w.tw = tar.NewWriter(w.gz)
		return w
	}
	w.tw = tar.NewWriter(f)
	return w
}

func (w *tarWriter) Format() Format { return FormatTar }

func (w *tarWriter) Append(name string, data []byte) error {
	if w.closed {
		return ErrClosed
	}
	name, err := appendPath(name)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     entryMode,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *tarWriter) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	tarErr := w.tw.Close()
	var gzErr error
	if w.gz != nil {
		gzErr = w.gz.Close()
	}
	fileErr := w.file.Close()
	if tarErr != nil {
		return fmt.Errorf("failed to finish tar: %w", tarErr)
	}
	if gzErr != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", gzErr)
	}
	return fileErr
}

// appendPath validates an archive path for writing. Directory entries are
// implicit, so only file paths are accepted.
func appendPath(name string) (string, error) {
	name = NormalizePath(name)
	if !IsSafePath(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return path.Clean(name), nil
}
