// Package comic maps comic book containers onto layered documents and back.
//
// Load turns a container into a host document: pages are cataloged, decoded,
// sized and inserted with their folder structure mirrored as groups. Save
// walks a document, flattens and re-encodes each page, and atomically replaces
// the destination container. Thumbnail decodes only the first page entry.
package comic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/canvas"
	"github.com/yuanying/cbzkit/internal/codec"
	"github.com/yuanying/cbzkit/internal/host"
)

var (
	ErrNoThumbnailCandidate = errors.New("no thumbnail candidate")
	ErrCommitFailed         = errors.New("commit failed")
	ErrCancelled            = errors.New("cancelled")
	ErrNoPages              = errors.New("no decodable pages")
)

// MergeScope selects what is flattened for each page on save.
type MergeScope int

const (
	// MergeNode flattens only the page or group being written.
	MergeNode MergeScope = iota
	// MergeDocument flattens every visible layer of the document for every
	// page, as the legacy plug-in did. On multi-page documents each written
	// page then carries the content of all visible pages.
	MergeDocument
)

func (m MergeScope) String() string {
	if m == MergeDocument {
		return "document"
	}
	return "node"
}

// ParseMergeScope accepts "node" or "document".
func ParseMergeScope(s string) (MergeScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "node":
		return MergeNode, nil
	case "document":
		return MergeDocument, nil
	}
	return MergeNode, fmt.Errorf("unknown merge scope %q (want node or document)", s)
}

// Options holds the collaborators and tuning of an Engine. Zero values get
// defaults in New.
type Options struct {
	Host   host.Host
	Codec  codec.Codec
	Fs     afero.Fs
	Logger *slog.Logger

	// Workers bounds parallel page decoding. Reads stay sequential.
	Workers int
	// Ignore holds gitignore-style patterns for junk entries.
	Ignore []string
	// Strict makes a load without any decodable page fail with ErrNoPages.
	Strict bool

	// PageFormat is the encoder format for saved pages.
	PageFormat codec.Format
	// ContainerFormat selects the written backend; unknown picks it from the
	// destination extension.
	ContainerFormat archive.Format
	Merge           MergeScope
	// Confirm is asked before any save I/O; false cancels the save.
	Confirm func(dest string) bool

	// ThumbnailSize fits thumbnails into a size x size box when positive.
	ThumbnailSize int
}

// Engine runs load, save and thumbnail operations. It holds no per-call
// state, so one Engine may serve many calls.
type Engine struct {
	opts Options
	log  *slog.Logger
}

// New creates an engine, filling unset options with defaults.
func New(opts Options) *Engine {
	if opts.Host == nil {
		opts.Host = canvas.New()
	}
	if opts.Codec == nil {
		opts.Codec = codec.New(codec.Options{AutoOrient: true})
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PageFormat == "" {
		opts.PageFormat = codec.JPEG
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// Status is the tri-state outcome reported to the host.
type Status int

const (
	StatusSuccess Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// StatusOf classifies the error returned by an engine operation.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
