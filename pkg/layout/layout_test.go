package layout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayoutHasActionBarAndEmptyColumn(t *testing.T) {
	l := New()

	root := l.Root()
	require.Equal(t, NodeRow, root.Type)
	require.Len(t, root.Children, 2)
	assert.Equal(t, NodeComponent, root.Children[0].Type)
	assert.Equal(t, 20, root.Children[0].Width)
	assert.Same(t, l.ActionBar(), root.Children[0].Panel)
	assert.Equal(t, NodeColumn, root.Children[1].Type)
	assert.Empty(t, root.Children[1].Children)

	assert.Equal(t, ActionBarTitle, l.ActionBar().Title())
	assert.False(t, l.ActionBar().Closable())
	assert.Empty(t, l.Panels())
}

func TestAddPanelAndLazyLoad(t *testing.T) {
	l := New()
	calls := 0
	p := l.AddPanel("Start deploy", KindStartForm, func(context.Context) (string, error) {
		calls++
		return `<form id="deploy-form"></form>`, nil
	})

	assert.Equal(t, 0, calls, "loader must not run before Load")
	assert.Equal(t, "", p.Content().Render())
	assert.Equal(t, KindStartForm, p.Kind())
	assert.True(t, p.Closable())
	assert.NotEmpty(t, p.ID())

	got, ok := l.Panel(p.ID())
	require.True(t, ok)
	assert.Same(t, p, got)

	content, loadErr := p.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Equal(t, `<form id="deploy-form"></form>`, content.Render())

	_, _ = p.Load(context.Background())
	assert.Equal(t, 1, calls)
}

func TestLoadFailureLeavesPanelBlank(t *testing.T) {
	l := New()
	boom := errors.New("404")
	p := l.AddPanel("Start deploy", KindStartForm, func(context.Context) (string, error) {
		return "", boom
	})

	_, err := p.Load(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "", p.Content().Render())

	_, err = p.Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestReplaceDiscardsPendingLoader(t *testing.T) {
	l := New()
	p := l.AddPanel("Start deploy", KindStartForm, func(context.Context) (string, error) {
		return "form", nil
	})

	p.Replace(KindOutput, Text("step1"))
	content, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "step1", content.Render())
	assert.Equal(t, KindOutput, p.Kind())

	p.Replace(KindError, nil)
	assert.Equal(t, "", p.Content().Render())
}

func TestReplaceDuringLoadWins(t *testing.T) {
	l := New()
	var p *Panel
	p = l.AddPanel("Start deploy", KindStartForm, func(context.Context) (string, error) {
		p.Replace(KindOutput, Text("newer"))
		return "stale form", nil
	})

	content, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "newer", content.Render())
}

func TestCloseRemovesPanelAndNotifies(t *testing.T) {
	l := New()
	a := l.AddPanel("A", KindStartForm, nil)
	b := l.AddPanel("B", KindStartForm, nil)
	c := l.AddPanel("C", KindStartForm, nil)

	var closed []string
	l.OnClose(func(p *Panel) { closed = append(closed, "first:"+p.Title()) })
	l.OnClose(func(p *Panel) { closed = append(closed, "second:"+p.Title()) })

	require.NoError(t, l.Close(b.ID()))
	assert.Equal(t, []*Panel{a, c}, l.Panels())
	assert.Equal(t, []string{"first:B", "second:B"}, closed)

	_, ok := l.Panel(b.ID())
	assert.False(t, ok)

	assert.ErrorIs(t, l.Close(b.ID()), ErrPanelNotFound)
	assert.ErrorIs(t, l.Close(l.ActionBar().ID()), ErrNotClosable)
	assert.Len(t, closed, 2)
}

func TestCloseListenerMayCloseAnotherPanel(t *testing.T) {
	l := New()
	a := l.AddPanel("A", KindOutput, nil)
	b := l.AddPanel("B", KindOutput, nil)
	l.OnClose(func(p *Panel) {
		if p == a {
			_ = l.Close(b.ID())
		}
	})

	require.NoError(t, l.Close(a.ID()))
	assert.Empty(t, l.Panels())
}

func TestRender(t *testing.T) {
	l := New()
	l.ActionBar().Replace(KindActionBar, Text("echo\nsleep"))
	p := l.AddPanel("Start deploy", KindOutput, nil)
	p.Replace(KindOutput, Text("step1\nstep2"))
	failed := l.AddPanel("Start broken", KindStartForm, nil)
	failed.Replace(KindError, Text("start failed"))

	out := l.Render(100)
	for _, want := range []string{"Actions", "echo", "Start deploy", "step1", "step2", "start failed"} {
		assert.Contains(t, out, want)
	}
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 100)
	}

	empty := New().Render(10)
	assert.Contains(t, empty, "no panels open")
}
