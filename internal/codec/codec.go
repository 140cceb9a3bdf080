// Package codec decodes page bytes into raster images and encodes flattened
// pages back into container image formats.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	defaultJPEGQuality = 85
	defaultMaxPixels   = 100 * 1000 * 1000 // 100 megapixels
)

var (
	ErrUnsupported = errors.New("unsupported or corrupt image")
	ErrTooLarge    = errors.New("image too large to decode")
)

// Codec is the decode/encode service used for every page. Decode is keyed on
// the page extension; Encode reports the format it actually produced, which
// determines the extension written to the container.
type Codec interface {
	Decode(data []byte, ext string) (image.Image, error)
	Encode(img image.Image, format Format) ([]byte, Format, error)
}

// Format is a page image format.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
	// Auto writes JPEG unless the page carries transparency.
	Auto Format = "auto"
)

var imagingFormats = map[Format]imaging.Format{
	JPEG: imaging.JPEG,
	PNG:  imaging.PNG,
	GIF:  imaging.GIF,
	TIFF: imaging.TIFF,
	BMP:  imaging.BMP,
}

// ParseFormat accepts a format name or file extension ("jpg", ".png", "auto").
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch s {
	case "jpg", "jpeg":
		return JPEG, nil
	case "tif", "tiff":
		return TIFF, nil
	case "auto":
		return Auto, nil
	}
	if _, ok := imagingFormats[Format(s)]; ok {
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: format %q", ErrUnsupported, s)
}

// Ext returns the file extension, including the dot, for the format.
func (f Format) Ext() string {
	return "." + string(f)
}

// Options configures the default codec.
type Options struct {
	JPEGQuality int
	AutoOrient  bool
	MaxPixels   int
}

// Imaging is the default Codec built on disintegration/imaging.
type Imaging struct {
	JPEGQuality int
	AutoOrient  bool
	MaxPixels   int // total pixel limit checked before a full decode
}

// New creates an imaging-backed codec with defaults applied.
func New(opts Options) *Imaging {
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	if quality > 100 {
		quality = 100
	}

	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}

	return &Imaging{
		JPEGQuality: quality,
		AutoOrient:  opts.AutoOrient,
		MaxPixels:   maxPixels,
	}
}

// Decode turns page bytes into an image. The extension must name a supported
// page format; the bytes themselves are sniffed.
func (c *Imaging) Decode(data []byte, ext string) (image.Image, error) {
	format, err := ParseFormat(ext)
	if err != nil || format == Auto {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupported, ext)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if c.MaxPixels > 0 && pixels > uint64(c.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d (%d pixels)", ErrTooLarge, cfg.Width, cfg.Height, pixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	if c.AutoOrient {
		img = applyOrientation(img, readOrientation(data))
	}
	return img, nil
}

// Encode writes img in the requested format.
func (c *Imaging) Encode(img image.Image, format Format) ([]byte, Format, error) {
	if format == "" {
		format = JPEG
	}
	if format == Auto {
		format = chooseFormat(img)
	}
	target, ok := imagingFormats[format]
	if !ok {
		return nil, "", fmt.Errorf("%w: format %q", ErrUnsupported, format)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, target, imaging.JPEGQuality(c.JPEGQuality)); err != nil {
		return nil, "", fmt.Errorf("%s encode failed: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

// chooseFormat keeps transparent pages as PNG so alpha survives; opaque pages
// go to JPEG.
func chooseFormat(img image.Image) Format {
	if hasAlpha(img) {
		return PNG
	}
	return JPEG
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && x == nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
