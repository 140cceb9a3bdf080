package pages

import "github.com/disiqueira/gotree/v3"

// Render draws the tree as text; groups carry a trailing slash.
func (t *Tree) Render(rootLabel string) string {
	root := gotree.New(rootLabel)
	var add func(parent gotree.Tree, nodes []*Node)
	add = func(parent gotree.Tree, nodes []*Node) {
		for _, n := range nodes {
			if n.IsGroup() {
				add(parent.Add(n.Name+"/"), n.Children)
				continue
			}
			parent.Add(n.Name)
		}
	}
	add(root, t.Root)
	return root.Print()
}
