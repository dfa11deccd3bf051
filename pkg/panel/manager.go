// Package panel drives the lifecycle of action panels: a start form that,
// once submitted, becomes the live output of the run it started.
package panel

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/actionator/pkg/form"
	"github.com/odvcencio/actionator/pkg/invoker"
	"github.com/odvcencio/actionator/pkg/layout"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/router"
	"github.com/odvcencio/actionator/pkg/telemetry"
)

var (
	ErrAlreadySubmitted = stdliberrors.New("panel already submitted")
	ErrPanelClosed      = stdliberrors.New("panel closed")
	ErrNotManaged       = stdliberrors.New("panel not managed")
)

// State of one action panel.
type State int

const (
	NotCreated State = iota
	StartForm
	Starting
	Running
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case NotCreated:
		return "not-created"
	case StartForm:
		return "start-form"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Descriptor identifies an action and where its form and start endpoint live.
type Descriptor struct {
	Name           string
	StartFormPath  string
	ActionFormPath string
}

// Invoker is the slice of *invoker.Invoker the manager needs.
type Invoker interface {
	Start(ctx context.Context, req invoker.Request) invoker.Result
	Fetch(ctx context.Context, path string) (string, error)
}

// Subscriber is the slice of *router.Router the manager needs.
type Subscriber interface {
	Subscribe(tag string, handler router.Handler) *router.Subscription
	Unsubscribe(sub *router.Subscription)
}

// Options configures a Manager.
type Options struct {
	// UniqueRuns tags each run with a fresh run id instead of the action
	// name, so two panels of one action never see each other's output.
	UniqueRuns bool
	NewRunID   func() string
	Logger     *logging.Logger
}

// Submission is what the user entered before pressing start.
type Submission struct {
	// FormID picks the form inside the panel markup; empty means the first.
	FormID string
	// ActionFormPath overrides the endpoint; otherwise the form's action
	// attribute, then the descriptor's, is used.
	ActionFormPath string
	Inputs         map[string]string
}

type entry struct {
	panel  *layout.Panel
	desc   Descriptor
	state  State
	sub    *router.Subscription
	output *Output
	result invoker.Result
}

// Manager owns the state machine of every panel it opened.
type Manager struct {
	layout  *layout.Layout
	invoker Invoker
	router  Subscriber
	opts    Options
	logger  *logging.Logger

	mu      sync.Mutex
	entries map[string]*entry
	// closed keeps only the ids of panels that are gone.
	closed map[string]struct{}
}

// NewManager creates a Manager and hooks it to l's close notifications.
func NewManager(l *layout.Layout, inv Invoker, r Subscriber, opts Options) *Manager {
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return ulid.Make().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		layout:  l,
		invoker: inv,
		router:  r,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*entry),
		closed:  make(map[string]struct{}),
	}
	l.OnClose(m.panelClosed)
	return m
}

// OpenStartForm adds a "Start <name>" panel whose content is fetched from
// desc.StartFormPath on first Load.
func (m *Manager) OpenStartForm(desc Descriptor) *layout.Panel {
	loader := func(ctx context.Context) (string, error) {
		return m.invoker.Fetch(ctx, desc.StartFormPath)
	}
	p := m.layout.AddPanel("Start "+desc.Name, layout.KindStartForm, loader)

	m.mu.Lock()
	m.entries[p.ID()] = &entry{panel: p, desc: desc, state: StartForm}
	m.mu.Unlock()

	m.logger.WithPanel(p.ID(), p.Title()).Debug("start form opened", "action", desc.Name)
	return p
}

// Submit collects the panel's form, subscribes an output surface under the
// run's tag and sends the start request. The subscription exists before the
// request goes out, so no early frame is missed.
//
// On success the panel shows the output; on failure it shows the reason and
// the subscription is dropped. A panel closed while the request is in
// flight stays closed and ErrPanelClosed is returned with the result.
func (m *Manager) Submit(ctx context.Context, panelID string, sub Submission) (invoker.Result, error) {
	m.mu.Lock()
	e, ok := m.entries[panelID]
	if !ok {
		_, gone := m.closed[panelID]
		m.mu.Unlock()
		if gone {
			return invoker.Result{}, ErrPanelClosed
		}
		return invoker.Result{}, ErrNotManaged
	}
	switch e.state {
	case StartForm:
	case Closed:
		m.mu.Unlock()
		return invoker.Result{}, ErrPanelClosed
	default:
		m.mu.Unlock()
		return invoker.Result{}, ErrAlreadySubmitted
	}
	e.state = Starting
	m.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "actionator.panel.submit",
		trace.WithAttributes(
			telemetry.AttrPanelID.String(panelID),
			telemetry.AttrAction.String(e.desc.Name),
		),
	)
	defer span.End()
	log := m.logger.WithPanel(panelID, e.panel.Title())

	params, path, err := m.collect(ctx, e, sub)
	if err != nil {
		// Nothing was sent; the form stays usable.
		m.mu.Lock()
		if e.state == Starting {
			e.state = StartForm
		}
		m.mu.Unlock()
		span.RecordError(err)
		log.Warn("could not collect start form", "error", err)
		return invoker.Result{Name: e.desc.Name}, err
	}

	tag, runID := e.desc.Name, ""
	if m.opts.UniqueRuns {
		runID = m.opts.NewRunID()
		tag = runID
	}
	span.SetAttributes(telemetry.AttrRunID.String(runID))

	out := NewOutput()
	m.mu.Lock()
	if e.state == Closed {
		m.mu.Unlock()
		return invoker.Result{Name: e.desc.Name}, ErrPanelClosed
	}
	e.output = out
	e.sub = m.router.Subscribe(tag, out.handle)
	m.mu.Unlock()

	res := m.invoker.Start(ctx, invoker.Request{
		Name:   e.desc.Name,
		Path:   path,
		RunID:  runID,
		Params: params,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	e.result = res
	if e.state == Closed {
		log.Debug("panel closed while starting", "status", res.Status)
		return res, ErrPanelClosed
	}
	if res.OK() {
		e.state = Running
		e.panel.Replace(layout.KindOutput, out)
		log.Info("action running", "run_id", res.RunID, "tag", tag)
		return res, nil
	}

	m.router.Unsubscribe(e.sub)
	e.sub = nil
	e.state = Failed
	e.panel.Replace(layout.KindError, layout.Text(failureText(e.desc.Name, res)))
	span.RecordError(res.Err)
	return res, res.Err
}

func (m *Manager) collect(ctx context.Context, e *entry, sub Submission) (map[string]string, string, error) {
	content, err := e.panel.Load(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load start form: %w", err)
	}
	f, err := form.Parse(content.Render(), sub.FormID)
	if err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(sub.Inputs))
	for name := range sub.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.Set(name, sub.Inputs[name])
	}

	path := sub.ActionFormPath
	if path == "" {
		path = f.Action
	}
	if path == "" {
		path = e.desc.ActionFormPath
	}
	return form.Collect(f), path, nil
}

func failureText(name string, res invoker.Result) string {
	reason := "unknown error"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	return fmt.Sprintf("Failed to start %s: %s", name, reason)
}

// Close removes the panel from the layout. Teardown happens in the close
// listener, so closes made directly on the layout are handled too.
func (m *Manager) Close(panelID string) error {
	return m.layout.Close(panelID)
}

func (m *Manager) panelClosed(p *layout.Panel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[p.ID()]
	if !ok {
		return
	}
	e.state = Closed
	if e.sub != nil {
		m.router.Unsubscribe(e.sub)
		e.sub = nil
	}
	delete(m.entries, p.ID())
	m.closed[p.ID()] = struct{}{}
	m.logger.WithPanel(p.ID(), p.Title()).Debug("panel closed")
}

// State reports where a panel is in its lifecycle. Unknown ids are
// NotCreated.
func (m *Manager) State(panelID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[panelID]; ok {
		return e.state
	}
	if _, ok := m.closed[panelID]; ok {
		return Closed
	}
	return NotCreated
}

// Output returns the output surface of a submitted panel that is still open.
func (m *Manager) Output(panelID string) (*Output, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[panelID]
	if !ok || e.output == nil {
		return nil, false
	}
	return e.output, true
}

// PendingForm returns the oldest open start form for the named action,
// skipping forms whose markup failed to load. If every open form failed, the
// oldest of them is returned so the caller sees the load error.
func (m *Manager) PendingForm(name string) (*layout.Panel, bool) {
	var broken *layout.Panel
	for _, p := range m.layout.Panels() {
		m.mu.Lock()
		e, ok := m.entries[p.ID()]
		pending := ok && e.state == StartForm && e.desc.Name == name
		m.mu.Unlock()
		if !pending {
			continue
		}
		if p.LoadErr() == nil {
			return p, true
		}
		if broken == nil {
			broken = p
		}
	}
	return broken, broken != nil
}
