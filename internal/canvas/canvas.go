// Package canvas is an in-memory layered document that satisfies host.Host.
package canvas

import (
	"fmt"
	"image"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/yuanying/cbzkit/internal/host"
)

// Host creates in-memory documents.
type Host struct{}

func New() *Host { return &Host{} }

func (h *Host) NewDocument(width, height int) (host.Document, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", host.ErrInvalidSize, width, height)
	}
	return &Document{
		width:  width,
		height: height,
		index:  make(map[uuid.UUID]host.Node),
	}, nil
}

// Layer is one raster anchored at the canvas origin.
type Layer struct {
	id      uuid.UUID
	doc     *Document
	name    string
	img     image.Image
	visible bool
}

func (l *Layer) Name() string       { return l.name }
func (l *Layer) ID() uuid.UUID      { return l.id }
func (l *Layer) Image() image.Image { return l.img }
func (l *Layer) Visible() bool      { return l.visible }
func (l *Layer) SetVisible(v bool)  { l.visible = v }

// Group holds ordered child nodes.
type Group struct {
	id       uuid.UUID
	doc      *Document
	name     string
	children []host.Node
	visible  bool
}

func (g *Group) Name() string      { return g.name }
func (g *Group) ID() uuid.UUID     { return g.id }
func (g *Group) Visible() bool     { return g.visible }
func (g *Group) SetVisible(v bool) { g.visible = v }

// Children returns a copy of the child list.
func (g *Group) Children() []host.Node {
	return append([]host.Node(nil), g.children...)
}

// Document is the in-memory host document. It is not safe for concurrent use.
type Document struct {
	width, height int
	root          []host.Node
	index         map[uuid.UUID]host.Node
}

func (d *Document) InsertLayer(img image.Image, name string, parent host.Group) (host.Node, error) {
	if img == nil {
		return nil, fmt.Errorf("insert %q: nil image", name)
	}
	l := &Layer{id: uuid.New(), doc: d, name: name, img: img, visible: true}
	if err := d.attach(l, parent); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Document) NewGroup(name string, parent host.Group) (host.Group, error) {
	g := &Group{id: uuid.New(), doc: d, name: name, visible: true}
	if err := d.attach(g, parent); err != nil {
		return nil, err
	}
	return g, nil
}

func (d *Document) attach(n host.Node, parent host.Group) error {
	if parent == nil {
		d.root = append(d.root, n)
	} else {
		g, ok := parent.(*Group)
		if !ok || g.doc != d {
			return fmt.Errorf("%w: %q", host.ErrForeignNode, parent.Name())
		}
		g.children = append(g.children, n)
	}
	switch v := n.(type) {
	case *Layer:
		d.index[v.id] = v
	case *Group:
		d.index[v.id] = v
	}
	return nil
}

// ResizeCanvas changes the canvas size. Layers stay anchored at the origin.
func (d *Document) ResizeCanvas(width, height int) error {
	if width < 1 || height < 1 {
		return fmt.Errorf("%w: %dx%d", host.ErrInvalidSize, width, height)
	}
	d.width, d.height = width, height
	return nil
}

func (d *Document) Size() (int, int) { return d.width, d.height }

func (d *Document) TopLevel() []host.Node {
	return append([]host.Node(nil), d.root...)
}

// Find returns the node with the given id, or nil.
func (d *Document) Find(id uuid.UUID) host.Node {
	return d.index[id]
}

// Flatten composites the visible layers under n into an image sized to their
// union. Later layers paint over earlier ones.
func (d *Document) Flatten(n host.Node) (image.Image, error) {
	if !d.owns(n) {
		return nil, fmt.Errorf("%w: %q", host.ErrForeignNode, n.Name())
	}
	layers := visibleLayers([]host.Node{n})
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: %q", host.ErrNothingVisible, n.Name())
	}
	var w, h int
	for _, l := range layers {
		b := l.img.Bounds()
		w = max(w, b.Dx())
		h = max(h, b.Dy())
	}
	return composite(layers, w, h), nil
}

// MergeVisible composites every visible layer onto a canvas-sized image.
func (d *Document) MergeVisible() (image.Image, error) {
	layers := visibleLayers(d.root)
	if len(layers) == 0 {
		return nil, host.ErrNothingVisible
	}
	return composite(layers, d.width, d.height), nil
}

func (d *Document) owns(n host.Node) bool {
	switch v := n.(type) {
	case *Layer:
		return v.doc == d
	case *Group:
		return v.doc == d
	}
	return false
}

func visibleLayers(nodes []host.Node) []*Layer {
	var out []*Layer
	for _, n := range nodes {
		switch v := n.(type) {
		case *Layer:
			if v.visible {
				out = append(out, v)
			}
		case *Group:
			if v.visible {
				out = append(out, visibleLayers(v.children)...)
			}
		}
	}
	return out
}

func composite(layers []*Layer, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for _, l := range layers {
		b := l.img.Bounds()
		draw.Draw(dst, b.Sub(b.Min), l.img, b.Min, draw.Over)
	}
	return dst
}
