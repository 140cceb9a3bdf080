// Package pages builds the ordered page tree of a comic container.
//
// Entries are filtered by raster extension and grouped under their directory
// components; directories never need to exist as explicit entries. Every
// level of the tree is ordered by case-insensitive basename.
package pages

import (
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/yuanying/cbzkit/internal/archive"
)

// Extensions lists the page suffixes, matched case-insensitively.
var Extensions = []string{".jpg", ".jpeg", ".png", ".tiff", ".gif", ".bmp"}

// IsPage reports whether name ends in a supported raster extension.
func IsPage(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Ext returns the page extension of name without the dot, lower-cased, or
// "" when name is not a page.
func Ext(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return ext[1:]
		}
	}
	return ""
}

// Kind distinguishes leaves from groups.
type Kind int

const (
	KindLeaf Kind = iota
	KindGroup
)

// Node is one element of the page tree. A leaf is a decodable page; a group
// is one directory level and always has at least one child.
type Node struct {
	Kind     Kind
	Name     string // basename for leaves, directory name for groups
	Path     string // source entry path for leaves, directory prefix for groups
	Children []*Node
}

func (n *Node) IsGroup() bool { return n.Kind == KindGroup }

// Tree is the ordered page hierarchy of one container.
type Tree struct {
	Root []*Node
}

// Walk visits every node depth-first in page order.
func (t *Tree) Walk(fn func(n *Node, depth int) error) error {
	var walk func(nodes []*Node, depth int) error
	walk = func(nodes []*Node, depth int) error {
		for _, n := range nodes {
			if err := fn(n, depth); err != nil {
				return err
			}
			if n.IsGroup() {
				if err := walk(n.Children, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(t.Root, 0)
}

// Leaves returns the pages in tree order.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	t.Walk(func(n *Node, _ int) error {
		if !n.IsGroup() {
			leaves = append(leaves, n)
		}
		return nil
	})
	return leaves
}

// Len returns the number of pages.
func (t *Tree) Len() int {
	return len(t.Leaves())
}

// Options tunes catalog building.
type Options struct {
	// Ignore holds gitignore-style patterns; matching entries are skipped
	// with ReasonIgnored.
	Ignore []string
}

// Catalog is the outcome of scanning a container listing.
type Catalog struct {
	Tree    *Tree
	Skipped []Diagnostic
}

// Build scans entries in listing order and returns the ordered page tree
// together with the skipped entries.
func Build(entries []archive.Entry, opts Options) *Catalog {
	matcher := NewMatcher(opts.Ignore)
	b := &builder{
		tree:   &Tree{},
		groups: make(map[string]*Node),
		seen:   make(map[string]bool),
	}
	cat := &Catalog{Tree: b.tree}

	for _, e := range entries {
		if e.IsDir {
			continue
		}
		switch {
		case e.Unsafe:
			cat.Skipped = append(cat.Skipped, Diagnostic{Path: e.Path, Reason: ReasonUnsafePath})
		case matcher.Match(e.Path):
			cat.Skipped = append(cat.Skipped, Diagnostic{Path: e.Path, Reason: ReasonIgnored})
		case !IsPage(e.Path):
			cat.Skipped = append(cat.Skipped, Diagnostic{Path: e.Path, Reason: ReasonUnsupportedFormat})
		default:
			b.add(e.Path)
		}
	}

	sortNodes(b.tree.Root)
	return cat
}

// Matcher applies gitignore-style patterns to entry paths. A nil Matcher
// matches nothing.
type Matcher struct {
	gi *ignore.GitIgnore
}

// NewMatcher compiles patterns; it returns nil when there are none.
func NewMatcher(patterns []string) *Matcher {
	if len(patterns) == 0 {
		return nil
	}
	return &Matcher{gi: ignore.CompileIgnoreLines(patterns...)}
}

func (m *Matcher) Match(entryPath string) bool {
	return m != nil && m.gi.MatchesPath(entryPath)
}

type builder struct {
	tree   *Tree
	groups map[string]*Node
	seen   map[string]bool
}

func (b *builder) add(entryPath string) {
	if b.seen[entryPath] {
		return
	}
	b.seen[entryPath] = true

	dirs, base := archive.Split(entryPath)
	leaf := &Node{Kind: KindLeaf, Name: base, Path: entryPath}
	if len(dirs) == 0 {
		b.tree.Root = append(b.tree.Root, leaf)
		return
	}
	parent := b.findOrCreate(dirs)
	parent.Children = append(parent.Children, leaf)
}

// findOrCreate interns each directory prefix as a group node.
func (b *builder) findOrCreate(dirs []string) *Node {
	var parent *Node
	prefix := ""
	for _, dir := range dirs {
		if prefix == "" {
			prefix = dir
		} else {
			prefix = prefix + "/" + dir
		}
		g, ok := b.groups[prefix]
		if !ok {
			g = &Node{Kind: KindGroup, Name: dir, Path: prefix}
			b.groups[prefix] = g
			if parent == nil {
				b.tree.Root = append(b.tree.Root, g)
			} else {
				parent.Children = append(parent.Children, g)
			}
		}
		parent = g
	}
	return parent
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return less(nodes[i], nodes[j])
	})
	for _, n := range nodes {
		if n.IsGroup() {
			sortNodes(n.Children)
		}
	}
}

// less orders by lower-cased basename; the remaining keys only break ties
// so that the result does not depend on listing order.
func less(a, b *Node) bool {
	ka, kb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if ka != kb {
		return ka < kb
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Kind != b.Kind {
		return a.Kind == KindLeaf
	}
	return a.Path < b.Path
}
