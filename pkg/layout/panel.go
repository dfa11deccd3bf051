package layout

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind says what a panel is showing.
type Kind string

const (
	KindActionBar Kind = "action-bar"
	KindStartForm Kind = "start-form"
	KindOutput    Kind = "output"
	KindError     Kind = "error"
)

// Content is whatever a panel displays.
type Content interface {
	Render() string
}

// Text is static content, shown as-is.
type Text string

func (t Text) Render() string { return string(t) }

// Loader produces a panel's initial content on first Load.
type Loader func(ctx context.Context) (string, error)

// Panel is one node's payload in the layout tree.
type Panel struct {
	id       string
	title    string
	closable bool

	mu      sync.Mutex
	kind    Kind
	content Content
	loader  Loader
	// version advances on every Replace so a slow Load cannot clobber
	// newer content.
	version uint64

	loadMu  sync.Mutex
	loaded  bool
	loadErr error
}

func newPanel(title string, kind Kind, closable bool, loader Loader) *Panel {
	return &Panel{
		id:       uuid.NewString(),
		title:    title,
		closable: closable,
		kind:     kind,
		content:  Text(""),
		loader:   loader,
	}
}

func (p *Panel) ID() string { return p.id }

func (p *Panel) Title() string { return p.title }

// Closable is false only for the action bar.
func (p *Panel) Closable() bool { return p.closable }

// Kind returns the current content kind.
func (p *Panel) Kind() Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

// Content returns the current content. Before Load it is empty.
func (p *Panel) Content() Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// Load runs the loader once and installs its result verbatim. On failure
// the panel stays blank and the error is returned, now and on later calls.
func (p *Panel) Load(ctx context.Context) (Content, error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.mu.Lock()
	loader := p.loader
	version := p.version
	p.mu.Unlock()

	if p.loaded || loader == nil {
		return p.Content(), p.loadErr
	}

	markup, err := loader(ctx)

	p.mu.Lock()
	p.loaded = true
	p.loadErr = err
	if err == nil && p.version == version {
		p.content = Text(markup)
	}
	content := p.content
	p.mu.Unlock()
	return content, err
}

// LoadErr returns the error of a failed Load, or nil if Load has not run
// or succeeded.
func (p *Panel) LoadErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

// Replace swaps the panel content immediately. Any pending loader is
// discarded.
func (p *Panel) Replace(kind Kind, content Content) {
	if content == nil {
		content = Text("")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind = kind
	p.content = content
	p.loader = nil
	p.version++
}
