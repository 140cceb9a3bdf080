package pages

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuanying/cbzkit/internal/archive"
)

func files(paths ...string) []archive.Entry {
	entries := make([]archive.Entry, 0, len(paths))
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			entries = append(entries, archive.Entry{Path: strings.TrimSuffix(p, "/"), IsDir: true})
			continue
		}
		entries = append(entries, archive.Entry{Path: p, Size: 1})
	}
	return entries
}

// outline flattens a tree into "depth:kind:path" lines for comparison.
func outline(t *Tree) []string {
	var lines []string
	t.Walk(func(n *Node, depth int) error {
		kind := "leaf"
		if n.IsGroup() {
			kind = "group"
		}
		lines = append(lines, fmt.Sprintf("%d:%s:%s", depth, kind, n.Path))
		return nil
	})
	return lines
}

func TestBuild_FlatOrdering(t *testing.T) {
	cat := Build(files("B.png", "a.jpg", "c.PNG", "10.gif"), Options{})

	assert.Equal(t, []string{
		"0:leaf:10.gif",
		"0:leaf:a.jpg",
		"0:leaf:B.png",
		"0:leaf:c.PNG",
	}, outline(cat.Tree))
	assert.Empty(t, cat.Skipped)
}

func TestBuild_FolderNesting(t *testing.T) {
	cat := Build(files("ch1/b.png", "c.png", "ch1/a.png"), Options{})

	require.Len(t, cat.Tree.Root, 2)
	assert.Equal(t, "c.png", cat.Tree.Root[0].Name)

	group := cat.Tree.Root[1]
	assert.True(t, group.IsGroup())
	assert.Equal(t, "ch1", group.Name)
	require.Len(t, group.Children, 2)
	assert.Equal(t, "a.png", group.Children[0].Name)
	assert.Equal(t, "ch1/a.png", group.Children[0].Path)
	assert.Equal(t, "b.png", group.Children[1].Name)
}

func TestBuild_DeepNestingWithoutDirectoryEntries(t *testing.T) {
	cat := Build(files("vol1/ch2/001.png", "vol1/ch1/002.png", "vol1/ch1/001.png", "vol1/cover.jpg"), Options{})

	assert.Equal(t, []string{
		"0:group:vol1",
		"1:group:vol1/ch1",
		"2:leaf:vol1/ch1/001.png",
		"2:leaf:vol1/ch1/002.png",
		"1:group:vol1/ch2",
		"2:leaf:vol1/ch2/001.png",
		"1:leaf:vol1/cover.jpg",
	}, outline(cat.Tree))
}

func TestBuild_EmptySegmentsDoNotCreateGroups(t *testing.T) {
	cat := Build(files("a//b.png", "a/./c.png"), Options{})

	assert.Equal(t, []string{
		"0:group:a",
		"1:leaf:a//b.png",
		"1:leaf:a/./c.png",
	}, outline(cat.Tree))
	for _, n := range cat.Tree.Root[0].Children {
		assert.NotEmpty(t, n.Name)
		assert.False(t, n.IsGroup())
	}
}

func TestBuild_DirectoryEntriesAreHintsOnly(t *testing.T) {
	cat := Build(files("empty/", "empty/readme.txt", "ch1/", "ch1/a.png"), Options{})

	assert.Equal(t, []string{"0:group:ch1", "1:leaf:ch1/a.png"}, outline(cat.Tree))
	require.Len(t, cat.Skipped, 1)
	assert.Equal(t, Diagnostic{Path: "empty/readme.txt", Reason: ReasonUnsupportedFormat}, cat.Skipped[0])
}

func TestBuild_UnsupportedEntriesAreCounted(t *testing.T) {
	cat := Build(files("001.png", "metadata.xml", "002.JPEG", "notes.txt", "ch1/Thumbs.db", "ch1/003.bmp", "004.webp"), Options{})

	assert.Equal(t, 3, cat.Tree.Len())
	assert.Equal(t, 4, Count(cat.Skipped, ReasonUnsupportedFormat))
	assert.Equal(t, "metadata.xml", cat.Skipped[0].Path)
}

func TestBuild_IgnorePatterns(t *testing.T) {
	cat := Build(files("__MACOSX/._001.png", ".DS_Store", "ch1/.DS_Store", "001.png", "info.txt"), Options{
		Ignore: []string{"__MACOSX/", ".DS_Store"},
	})

	assert.Equal(t, []string{"0:leaf:001.png"}, outline(cat.Tree))
	assert.Equal(t, 3, Count(cat.Skipped, ReasonIgnored))
	assert.Equal(t, 1, Count(cat.Skipped, ReasonUnsupportedFormat))
}

func TestBuild_UnsafeEntries(t *testing.T) {
	entries := []archive.Entry{
		{Path: "../escape.png", Unsafe: true},
		{Path: "ok.png"},
	}
	cat := Build(entries, Options{})

	assert.Equal(t, 1, cat.Tree.Len())
	require.Len(t, cat.Skipped, 1)
	assert.Equal(t, ReasonUnsafePath, cat.Skipped[0].Reason)
}

func TestBuild_DuplicateEntriesCollapse(t *testing.T) {
	cat := Build(files("a.png", "a.png"), Options{})
	assert.Equal(t, 1, cat.Tree.Len())
}

func TestBuild_OrderingIsInvariantUnderShuffle(t *testing.T) {
	paths := []string{
		"Cover.JPG", "cover.jpg", "01.png", "1.png", "ch10/b.png", "ch10/A.png",
		"ch2/x.gif", "CH2/y.gif", "ch2/", "extra.txt", "ch10/deep/z.tiff", "ch10/deep/Z.tiff",
		"Ch10.png",
	}
	want := outline(Build(files(paths...), Options{}).Tree)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		shuffled := append([]string(nil), paths...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := outline(Build(files(shuffled...), Options{}).Tree)
		require.Equal(t, want, got, "shuffle %d: %v", i, shuffled)
	}
}

func TestBuild_CaseCollidingNamesAreStable(t *testing.T) {
	cat := Build(files("a.png", "A.png"), Options{})
	assert.Equal(t, []string{"0:leaf:A.png", "0:leaf:a.png"}, outline(cat.Tree))
}

func TestIsPage(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":         true,
		"a.JPEG":        true,
		"dir/a.Png":     true,
		"scan.tiff":     true,
		"anim.gif":      true,
		"old.bmp":       true,
		"a.tif":         false,
		"a.webp":        false,
		"metadata.xml":  false,
		"jpg":           false,
		"archive.jpg.z": false,
	}
	for name, want := range tests {
		assert.Equal(t, want, IsPage(name), name)
	}
}

func TestExt(t *testing.T) {
	assert.Equal(t, "jpeg", Ext("ch1/A.JPEG"))
	assert.Equal(t, "png", Ext("x.png"))
	assert.Equal(t, "", Ext("x.txt"))
}

func TestTree_Render(t *testing.T) {
	cat := Build(files("ch1/a.png", "c.png"), Options{})
	out := cat.Tree.Render("book.cbz")

	assert.True(t, strings.HasPrefix(out, "book.cbz"))
	assert.Contains(t, out, "c.png")
	assert.Contains(t, out, "ch1/")
	assert.Contains(t, out, "a.png")
	assert.Less(t, strings.Index(out, "c.png"), strings.Index(out, "ch1/"))
}

func TestTree_WalkStopsOnError(t *testing.T) {
	cat := Build(files("a.png", "b.png", "c.png"), Options{})
	stop := fmt.Errorf("stop")
	visited := 0
	err := cat.Tree.Walk(func(n *Node, _ int) error {
		visited++
		if n.Name == "b.png" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, visited)
}
