// Package layout holds the panel tree of a dashboard: an action bar on the
// left and a column that receives every panel the user opens.
package layout

import (
	stdliberrors "errors"
	"slices"
	"sync"
)

var (
	ErrPanelNotFound = stdliberrors.New("panel not found")
	ErrNotClosable   = stdliberrors.New("panel cannot be closed")
)

// NodeType is the kind of a tree node.
type NodeType string

const (
	NodeRow       NodeType = "row"
	NodeColumn    NodeType = "column"
	NodeComponent NodeType = "component"
)

// ActionBarTitle is the title of the fixed action bar panel.
const ActionBarTitle = "Actions"

const actionBarWidth = 20

// Node is one element of the tree. Width is a percentage of the parent and
// only set on children of a row.
type Node struct {
	Type     NodeType
	Width    int
	Children []*Node
	Panel    *Panel
}

// Layout is the root of the tree. It is safe for concurrent use.
type Layout struct {
	mu        sync.RWMutex
	root      *Node
	target    *Node
	actionBar *Panel
	panels    map[string]*Node
	onClose   []func(*Panel)
}

// New builds the initial tree: a row holding the action bar and an empty
// column.
func New() *Layout {
	bar := newPanel(ActionBarTitle, KindActionBar, false, nil)
	column := &Node{Type: NodeColumn, Width: 100 - actionBarWidth}
	root := &Node{
		Type: NodeRow,
		Children: []*Node{
			{Type: NodeComponent, Width: actionBarWidth, Panel: bar},
			column,
		},
	}
	return &Layout{
		root:      root,
		target:    column,
		actionBar: bar,
		panels:    map[string]*Node{bar.ID(): root.Children[0]},
	}
}

// ActionBar returns the fixed action bar panel.
func (l *Layout) ActionBar() *Panel {
	return l.actionBar
}

// AddPanel appends a closable panel to the column. Its content stays empty
// until Load runs loader.
func (l *Layout) AddPanel(title string, kind Kind, loader Loader) *Panel {
	p := newPanel(title, kind, true, loader)
	node := &Node{Type: NodeComponent, Panel: p}

	l.mu.Lock()
	l.target.Children = append(l.target.Children, node)
	l.panels[p.ID()] = node
	l.mu.Unlock()
	return p
}

// Panel looks a panel up by id.
func (l *Layout) Panel(id string) (*Panel, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	node, ok := l.panels[id]
	if !ok {
		return nil, false
	}
	return node.Panel, true
}

// Panels returns the opened panels in column order. The action bar is not
// included.
func (l *Layout) Panels() []*Panel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Panel, 0, len(l.target.Children))
	for _, child := range l.target.Children {
		out = append(out, child.Panel)
	}
	return out
}

// OnClose registers fn to run after a panel is removed. Listeners run in
// registration order on the goroutine that called Close.
func (l *Layout) OnClose(fn func(*Panel)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = append(l.onClose, fn)
}

// Close removes the panel and notifies close listeners.
func (l *Layout) Close(id string) error {
	l.mu.Lock()
	node, ok := l.panels[id]
	if !ok {
		l.mu.Unlock()
		return ErrPanelNotFound
	}
	if !node.Panel.Closable() {
		l.mu.Unlock()
		return ErrNotClosable
	}
	delete(l.panels, id)
	l.target.Children = slices.DeleteFunc(l.target.Children, func(n *Node) bool { return n == node })
	listeners := slices.Clone(l.onClose)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(node.Panel)
	}
	return nil
}

// Root returns a copy of the tree for inspection.
func (l *Layout) Root() Node {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyNode(l.root)
}

func copyNode(n *Node) Node {
	out := Node{Type: n.Type, Width: n.Width, Panel: n.Panel}
	for _, child := range n.Children {
		c := copyNode(child)
		out.Children = append(out.Children, &c)
	}
	return out
}
