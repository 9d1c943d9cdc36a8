package fiber

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// DebugTree renders the fiber tree as a human-readable tree for debugging.
func DebugTree(root *Fiber) string {
	if root == nil {
		return "(empty)"
	}
	tree := treeprint.New()
	addFiberNode(tree, root)
	return tree.String()
}

func addFiberNode(node treeprint.Tree, f *Fiber) {
	label := f.Path.String()
	if label == "" {
		label = "(root)"
	}
	mark := ""
	if f.dirty {
		mark = " [dirty]"
	}
	branch := node.AddBranch(fmt.Sprintf("%s (renders=%d, nodes=%d)%s", label, f.renderCount, len(f.declared), mark))
	for _, c := range f.Children {
		addFiberNode(branch, c)
	}
}
