package comic

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/pages"
)

// Thumbnail decodes the first page entry in raw listing order, not in page
// order. Nothing is cataloged or sized.
func (e *Engine) Thumbnail(ctx context.Context, path string) (image.Image, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	r, err := archive.OpenFs(e.opts.Fs, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ignored := pages.NewMatcher(e.opts.Ignore)
	for _, entry := range r.Entries() {
		if entry.IsDir || entry.Unsafe || !pages.IsPage(entry.Path) || ignored.Match(entry.Path) {
			continue
		}

		data, err := r.ReadFile(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read thumbnail %s: %w", entry.Path, err)
		}
		img, err := e.opts.Codec.Decode(data, pages.Ext(entry.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to decode thumbnail %s: %w", entry.Path, err)
		}

		if size := e.opts.ThumbnailSize; size > 0 {
			img = imaging.Fit(img, size, size, imaging.Lanczos)
		}
		e.log.Debug("thumbnail", "path", path, "entry", entry.Path, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		return img, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoThumbnailCandidate, path)
}
