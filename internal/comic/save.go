package comic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/codec"
	"github.com/yuanying/cbzkit/internal/host"
	"github.com/yuanying/cbzkit/internal/metadata"
	"github.com/yuanying/cbzkit/internal/pages"
)

// TempSuffix is appended to the destination path while a save is staged.
const TempSuffix = ".tmpsave"

// SaveResult describes a committed save.
type SaveResult struct {
	Path string
	// Entries lists the page paths written, in document order.
	Entries         []string
	MetadataWritten bool
}

// Save writes doc to dest. Everything is staged in dest+".tmpsave" and only
// renamed onto dest once the container is complete. On failure the staged
// file is left behind for inspection and dest is untouched; on cancellation
// the staged file is removed. rec is not validated here: callers check user
// input, and sidecars loaded from a container round-trip unchanged.
func (e *Engine) Save(ctx context.Context, doc host.Document, rec metadata.Record, dest string) (*SaveResult, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	if e.opts.Confirm != nil && !e.opts.Confirm(dest) {
		return nil, fmt.Errorf("%w: %s not confirmed", ErrCancelled, dest)
	}

	var sidecar []byte
	if rec.SaveRequested {
		// values read from a container are written back verbatim
		if err := rec.Validate(); err != nil {
			e.log.Warn("writing metadata with non-numeric date", "dest", dest, "error", err)
		}
		data, err := metadata.Marshal(rec)
		if err != nil {
			return nil, err
		}
		sidecar = data
	}

	p, err := openPending(e.opts.Fs, dest, e.opts.ContainerFormat)
	if err != nil {
		return nil, err
	}

	res := &SaveResult{Path: dest}
	if sidecar != nil {
		if err := p.append(metadata.SidecarPath, sidecar); err != nil {
			p.abandon()
			return nil, err
		}
		res.MetadataWritten = true
	}

	if err := e.writeNodes(ctx, doc, p, doc.TopLevel(), "", res); err != nil {
		if errors.Is(err, ErrCancelled) {
			p.discard()
		} else {
			p.abandon()
			e.log.Error("save failed", "dest", dest, "staged", p.tmp, "error", err)
		}
		return nil, err
	}

	if err := p.commit(); err != nil {
		e.log.Error("commit failed", "dest", dest, "staged", p.tmp, "error", err)
		return nil, err
	}

	e.log.Info("saved container", "path", dest, "pages", len(res.Entries), "metadata", res.MetadataWritten)
	return res, nil
}

// writeNodes walks nodes depth-first. Groups extend the archive prefix;
// every other node is flattened, encoded and appended.
func (e *Engine) writeNodes(ctx context.Context, doc host.Document, p *pendingArchive, nodes []host.Node, prefix string, res *SaveResult) error {
	for _, n := range nodes {
		if err := cancelled(ctx); err != nil {
			return err
		}

		if g, ok := n.(host.Group); ok {
			if err := e.writeNodes(ctx, doc, p, g.Children(), joinEntry(prefix, g.Name()), res); err != nil {
				return err
			}
			continue
		}

		img, err := e.flatten(doc, n)
		if errors.Is(err, host.ErrNothingVisible) {
			e.log.Warn("skipping hidden page", "page", n.Name())
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to flatten page %s: %w", n.Name(), err)
		}

		data, format, err := e.opts.Codec.Encode(img, e.opts.PageFormat)
		if err != nil {
			return fmt.Errorf("failed to encode page %s: %w", n.Name(), err)
		}

		name := p.unique(pageEntry(prefix, n.Name(), format, len(res.Entries)+1))
		if err := p.append(name, data); err != nil {
			return err
		}
		res.Entries = append(res.Entries, name)
	}
	return nil
}

func (e *Engine) flatten(doc host.Document, n host.Node) (image.Image, error) {
	if e.opts.Merge == MergeDocument {
		return doc.MergeVisible()
	}
	return doc.Flatten(n)
}

func joinEntry(prefix, name string) string {
	name = strings.Trim(archive.NormalizePath(name), "/")
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	}
	return prefix + "/" + name
}

// pageEntry names a written page: the layer name without its page extension
// plus the extension of the format the encoder produced.
func pageEntry(prefix, layerName string, format codec.Format, index int) string {
	base := layerName
	if ext := pages.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)-1]
	}
	if strings.TrimSpace(base) == "" {
		base = fmt.Sprintf("page-%03d", index)
	}
	return joinEntry(prefix, base+format.Ext())
}

// pendingArchive stages a save next to its destination.
type pendingArchive struct {
	fs     afero.Fs
	dest   string
	tmp    string
	w      archive.Writer
	seen   map[string]bool
	closed bool
}

func openPending(fs afero.Fs, dest string, format archive.Format) (*pendingArchive, error) {
	if format == archive.FormatUnknown {
		format = archive.FormatForPath(dest)
	}
	tmp := dest + TempSuffix
	w, err := archive.Create(fs, tmp, format)
	if err != nil {
		return nil, err
	}
	return &pendingArchive{fs: fs, dest: dest, tmp: tmp, w: w, seen: make(map[string]bool)}, nil
}

// unique suffixes name with -2, -3, ... until it has not been written yet.
func (p *pendingArchive) unique(name string) string {
	candidate := name
	for i := 2; p.seen[candidate]; i++ {
		dot := strings.LastIndexByte(name, '.')
		if dot <= strings.LastIndexByte(name, '/') {
			dot = len(name)
		}
		candidate = fmt.Sprintf("%s-%d%s", name[:dot], i, name[dot:])
	}
	p.seen[candidate] = true
	return candidate
}

func (p *pendingArchive) append(name string, data []byte) error {
	if err := p.w.Append(name, data); err != nil {
		return fmt.Errorf("failed to append %s: %w", name, err)
	}
	return nil
}

func (p *pendingArchive) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.w.Close()
}

// abandon closes the staged container and leaves it on disk.
func (p *pendingArchive) abandon() {
	p.close()
}

// discard closes and removes the staged container.
func (p *pendingArchive) discard() {
	p.close()
	p.fs.Remove(p.tmp)
}

// commit closes the staged container and moves it onto the destination.
// The destination is only removed first when the rename was refused because
// it already exists; any other rename failure leaves it untouched.
func (p *pendingArchive) commit() error {
	if err := p.close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommitFailed, p.tmp, err)
	}
	err := p.fs.Rename(p.tmp, p.dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: rename %s: %w", ErrCommitFailed, p.tmp, err)
	}
	if _, statErr := p.fs.Stat(p.tmp); statErr != nil {
		return fmt.Errorf("%w: staged %s: %w", ErrCommitFailed, p.tmp, statErr)
	}
	if err := p.fs.Remove(p.dest); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrCommitFailed, p.dest, err)
	}
	if err := p.fs.Rename(p.tmp, p.dest); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrCommitFailed, p.tmp, err)
	}
	return nil
}
