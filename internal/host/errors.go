package host

import "errors"

var (
	// ErrNothingVisible is returned by Flatten when the node has no visible
	// pixels to merge.
	ErrNothingVisible = errors.New("nothing visible to flatten")
	// ErrForeignNode is returned when a node from another document is passed in.
	ErrForeignNode = errors.New("node does not belong to this document")
	ErrInvalidSize = errors.New("invalid canvas size")
)
