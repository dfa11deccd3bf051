// Package dashboard wires the push router, the invoker and the panel manager
// into one dashboard: an action bar, start forms and live run output.
package dashboard

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/actionator/pkg/invoker"
	"github.com/odvcencio/actionator/pkg/layout"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/panel"
	"github.com/odvcencio/actionator/pkg/router"
)

// DefaultActionBarPath is where servers publish the action bar markup.
const DefaultActionBarPath = "/static/gen/action_bar.html"

// ErrNoStartForm is returned by StartAction when no start form for the
// action is open.
var ErrNoStartForm = stdliberrors.New("no open start form")

// Descriptor identifies an action offered by the action bar.
type Descriptor = panel.Descriptor

// Options configures a Dashboard.
type Options struct {
	UniqueRuns bool
	Logger     *logging.Logger
}

// Dashboard is one client session against a server.
type Dashboard struct {
	invoker *invoker.Invoker
	router  *router.Router
	layout  *layout.Layout
	manager *panel.Manager
	logger  *logging.Logger

	mu      sync.RWMutex
	actions []Descriptor
}

// New composes a dashboard. The router is owned by the dashboard from here
// on: Init and Shutdown drive it.
func New(inv *invoker.Invoker, r *router.Router, opts Options) *Dashboard {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	l := layout.New()
	return &Dashboard{
		invoker: inv,
		router:  r,
		layout:  l,
		manager: panel.NewManager(l, inv, r, panel.Options{UniqueRuns: opts.UniqueRuns, Logger: logger}),
		logger:  logger,
	}
}

// Init starts push delivery.
func (d *Dashboard) Init(ctx context.Context) error {
	return d.router.Init(ctx)
}

// Shutdown stops push delivery and closes the channel.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	return d.router.Shutdown(ctx)
}

func (d *Dashboard) Layout() *layout.Layout { return d.layout }

func (d *Dashboard) Manager() *panel.Manager { return d.manager }

// LoadActionBar fetches the action bar into the Actions panel and records
// every action it offers. On a fetch failure the bar stays blank.
func (d *Dashboard) LoadActionBar(ctx context.Context, path string) ([]Descriptor, error) {
	if path == "" {
		path = DefaultActionBarPath
	}
	markup, err := d.invoker.Fetch(ctx, path)
	if err != nil {
		d.logger.Warn("action bar unavailable", "path", path, "error", err)
		return nil, err
	}

	descs, err := ParseActionBar(markup)
	if err != nil {
		return nil, err
	}
	d.layout.ActionBar().Replace(layout.KindActionBar, layout.Text(actionBarText(descs)))

	d.mu.Lock()
	d.actions = descs
	d.mu.Unlock()
	d.logger.Debug("action bar loaded", "actions", len(descs))
	return descs, nil
}

// ParseActionBar reads the actions out of action bar markup. Each entry is
// an element carrying data-action, data-form and data-submit attributes.
func ParseActionBar(markup string) ([]Descriptor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse action bar: %w", err)
	}
	var out []Descriptor
	doc.Find("[data-action]").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.AttrOr("data-action", ""))
		if name == "" {
			return
		}
		out = append(out, Descriptor{
			Name:           name,
			StartFormPath:  s.AttrOr("data-form", ""),
			ActionFormPath: s.AttrOr("data-submit", ""),
		})
	})
	return out, nil
}

func actionBarText(descs []Descriptor) string {
	names := make([]string, 0, len(descs))
	for _, desc := range descs {
		names = append(names, desc.Name)
	}
	return strings.Join(names, "\n")
}

// Actions returns the actions from the last loaded action bar.
func (d *Dashboard) Actions() []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Descriptor(nil), d.actions...)
}

func (d *Dashboard) lookup(name string) (Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, desc := range d.actions {
		if desc.Name == name {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// PrepareAction opens a start form panel for the named action.
func (d *Dashboard) PrepareAction(name, startFormPath string) *layout.Panel {
	desc := Descriptor{Name: name, StartFormPath: startFormPath}
	if known, ok := d.lookup(name); ok {
		desc.ActionFormPath = known.ActionFormPath
		if desc.StartFormPath == "" {
			desc.StartFormPath = known.StartFormPath
		}
	}
	return d.manager.OpenStartForm(desc)
}

// StartAction submits the oldest open start form of funcName. inputs stand
// in for what the user typed into the form.
func (d *Dashboard) StartAction(ctx context.Context, funcName, formID, actionFormPath string, inputs map[string]string) (*layout.Panel, invoker.Result, error) {
	p, ok := d.manager.PendingForm(funcName)
	if !ok {
		return nil, invoker.Result{Name: funcName}, fmt.Errorf("%w for %q", ErrNoStartForm, funcName)
	}
	res, err := d.manager.Submit(ctx, p.ID(), panel.Submission{
		FormID:         formID,
		ActionFormPath: actionFormPath,
		Inputs:         inputs,
	})
	return p, res, err
}

// Close closes a panel.
func (d *Dashboard) Close(panelID string) error {
	return d.manager.Close(panelID)
}

// Render draws the whole dashboard.
func (d *Dashboard) Render(width int) string {
	return d.layout.Render(width)
}
