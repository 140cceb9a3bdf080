package comic

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/armon/go-radix"
	"github.com/sourcegraph/conc/stream"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/host"
	"github.com/yuanying/cbzkit/internal/metadata"
	"github.com/yuanying/cbzkit/internal/pages"
)

// Size is a canvas size. Both sides are at least 1.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// grow returns the componentwise maximum of s and r's size.
func (s Size) grow(r image.Rectangle) Size {
	return Size{Width: max(s.Width, r.Dx()), Height: max(s.Height, r.Dy())}
}

// LoadResult is a loaded document together with what was skipped.
type LoadResult struct {
	Document    host.Document
	Canvas      Size
	Pages       int
	Tree        *pages.Tree
	Diagnostics []pages.Diagnostic
	// Metadata is read from metadata.xml, else ComicInfo.xml; nil when
	// neither is present.
	Metadata *metadata.Record
	Format   archive.Format
}

type decodedPage struct {
	leaf *pages.Node
	img  image.Image
}

// Load opens the container at path and assembles it into a new host
// document. Pages that fail to decode are reported as diagnostics; only
// container-level failures are errors.
func (e *Engine) Load(ctx context.Context, path string) (*LoadResult, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	r, err := archive.OpenFs(e.opts.Fs, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cat := pages.Build(r.Entries(), pages.Options{Ignore: e.opts.Ignore})
	for _, d := range cat.Skipped {
		e.log.Warn("skipping entry", "entry", d.Path, "reason", d.Reason)
	}

	decoded, diags, err := e.decodePages(ctx, r, cat.Tree)
	if err != nil {
		return nil, err
	}
	if e.opts.Strict && len(decoded) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, path)
	}

	size := Size{Width: 1, Height: 1}
	for _, p := range decoded {
		size = size.grow(p.img.Bounds())
	}

	doc, err := e.assemble(decoded, size)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{
		Document:    doc,
		Canvas:      size,
		Pages:       len(decoded),
		Tree:        cat.Tree,
		Diagnostics: append(cat.Skipped, diags...),
		Metadata:    e.readMetadata(r),
		Format:      r.Format(),
	}
	e.log.Info("loaded container",
		"path", path,
		"format", res.Format,
		"pages", res.Pages,
		"skipped", len(res.Diagnostics),
		"canvas", size.String(),
	)
	return res, nil
}

// decodePages reads every leaf in tree order and decodes it. Reads are
// sequential on the handle; decoding fans out to Workers goroutines and the
// results are collected back in tree order.
func (e *Engine) decodePages(ctx context.Context, r archive.Reader, tree *pages.Tree) ([]decodedPage, []pages.Diagnostic, error) {
	leaves := tree.Leaves()
	decoded := make([]decodedPage, 0, len(leaves))
	var diags []pages.Diagnostic

	skip := func(leaf *pages.Node, err error) {
		e.log.Warn("skipping page", "entry", leaf.Path, "reason", pages.ReasonDecodeFailed, "error", err)
		diags = append(diags, pages.Diagnostic{Path: leaf.Path, Reason: pages.ReasonDecodeFailed, Err: err})
	}

	s := stream.New().WithMaxGoroutines(e.opts.Workers)
	var fatal error
	for _, leaf := range leaves {
		if fatal = cancelled(ctx); fatal != nil {
			break
		}
		data, err := r.ReadFile(leaf.Path)
		if err != nil {
			if errors.Is(err, archive.ErrEntryMissing) || errors.Is(err, archive.ErrClosed) {
				fatal = fmt.Errorf("failed to read page %s: %w", leaf.Path, err)
				break
			}
			s.Go(func() stream.Callback {
				return func() { skip(leaf, err) }
			})
			continue
		}
		s.Go(func() stream.Callback {
			img, err := e.opts.Codec.Decode(data, pages.Ext(leaf.Name))
			return func() {
				if err != nil {
					skip(leaf, err)
					return
				}
				decoded = append(decoded, decodedPage{leaf: leaf, img: img})
			}
		})
	}
	s.Wait()

	if fatal != nil {
		return nil, nil, fatal
	}
	return decoded, diags, nil
}

// assemble inserts decoded pages into a new document in tree order. Groups
// are created on first use, so a folder whose pages all failed to decode
// never appears. The canvas is resized once at the end; earlier pages keep
// their position.
func (e *Engine) assemble(decoded []decodedPage, size Size) (host.Document, error) {
	doc, err := e.opts.Host.NewDocument(1, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	groups := radix.New()
	for _, p := range decoded {
		parent, err := ensureGroups(doc, groups, p.leaf.Path)
		if err != nil {
			return nil, err
		}
		if _, err := doc.InsertLayer(p.img, p.leaf.Name, parent); err != nil {
			return nil, fmt.Errorf("failed to insert page %s: %w", p.leaf.Path, err)
		}
	}

	if err := doc.ResizeCanvas(size.Width, size.Height); err != nil {
		return nil, fmt.Errorf("failed to resize canvas to %s: %w", size, err)
	}
	return doc, nil
}

// ensureGroups returns the host group for the directory part of entryPath,
// creating missing levels. groups maps directory prefixes to host groups.
func ensureGroups(doc host.Document, groups *radix.Tree, entryPath string) (host.Group, error) {
	dirs, _ := archive.Split(entryPath)
	var parent host.Group
	prefix := ""
	for _, dir := range dirs {
		if prefix == "" {
			prefix = dir
		} else {
			prefix += "/" + dir
		}
		if v, ok := groups.Get(prefix); ok {
			parent = v.(host.Group)
			continue
		}
		g, err := doc.NewGroup(dir, parent)
		if err != nil {
			return nil, fmt.Errorf("failed to create group %s: %w", prefix, err)
		}
		groups.Insert(prefix, g)
		parent = g
	}
	return parent, nil
}

// readMetadata returns the record stored in the container, if any. A broken
// sidecar is logged and ignored.
func (e *Engine) readMetadata(r archive.Reader) *metadata.Record {
	sources := []struct {
		path  string
		parse func([]byte) (metadata.Record, error)
	}{
		{metadata.SidecarPath, metadata.Parse},
		{metadata.ComicInfoPath, metadata.ParseComicInfo},
	}
	for _, src := range sources {
		data, err := r.ReadFile(src.path)
		if err != nil {
			continue
		}
		rec, err := src.parse(data)
		if err != nil {
			e.log.Warn("ignoring metadata", "entry", src.path, "error", err)
			continue
		}
		return &rec
	}
	return nil
}
