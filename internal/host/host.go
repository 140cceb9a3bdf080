// Package host declares the document model the comic engine drives. An
// image-editing host implements it; internal/canvas is the in-memory version
// used by the CLI and tests.
package host

import "image"

// Host creates documents.
type Host interface {
	NewDocument(width, height int) (Document, error)
}

// Document is a layered, possibly grouped, multi-page document.
type Document interface {
	// InsertLayer adds img as a new layer named name at the end of parent,
	// or at top level when parent is nil.
	InsertLayer(img image.Image, name string, parent Group) (Node, error)
	// NewGroup adds an empty group at the end of parent, or at top level
	// when parent is nil.
	NewGroup(name string, parent Group) (Group, error)
	// ResizeCanvas changes the canvas size without moving existing layers.
	ResizeCanvas(width, height int) error
	Size() (width, height int)
	// TopLevel lists the top-level nodes in document order.
	TopLevel() []Node
	// Flatten merges the visible content of n into one raster.
	Flatten(n Node) (image.Image, error)
	// MergeVisible merges every visible layer of the document.
	MergeVisible() (image.Image, error)
}

// Node is a layer or a group.
type Node interface {
	Name() string
}

// Group is a node with ordered children.
type Group interface {
	Node
	Children() []Node
}

// IsGroup reports whether n is a group.
func IsGroup(n Node) bool {
	_, ok := n.(Group)
	return ok
}
