package layout

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const minRenderWidth = 40

var (
	titleStyle = lipgloss.NewStyle().Bold(true)

	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
		Padding(0, 1)

	errorPanelStyle = panelStyle.
		BorderForeground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"})

	dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
)

// Render draws the tree as bordered text boxes, width columns wide.
func (l *Layout) Render(width int) string {
	if width < minRenderWidth {
		width = minRenderWidth
	}
	root := l.Root()
	return renderNode(&root, width)
}

func renderNode(n *Node, width int) string {
	switch n.Type {
	case NodeRow:
		parts := make([]string, 0, len(n.Children))
		remaining := width
		for i, child := range n.Children {
			w := width * child.Width / 100
			if i == len(n.Children)-1 || w <= 0 {
				w = remaining
			}
			remaining -= w
			parts = append(parts, renderNode(child, w))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	case NodeColumn:
		if len(n.Children) == 0 {
			return lipgloss.NewStyle().Width(width).Render(dimStyle.Render("(no panels open)"))
		}
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			parts = append(parts, renderNode(child, width))
		}
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	default:
		return renderPanel(n.Panel, width)
	}
}

func renderPanel(p *Panel, width int) string {
	style := panelStyle
	if p.Kind() == KindError {
		style = errorPanelStyle
	}
	// Width covers padding; the border adds two columns.
	inner := max(width-2, 1)
	body := strings.TrimRight(p.Content().Render(), "\n")
	return style.Width(inner).Render(titleStyle.Render(p.Title()) + "\n" + body)
}
