package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/actionator/pkg/action"
	"github.com/odvcencio/actionator/pkg/bus"
	"github.com/odvcencio/actionator/pkg/invoker"
	"github.com/odvcencio/actionator/pkg/ipc"
	"github.com/odvcencio/actionator/pkg/layout"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/panel"
	"github.com/odvcencio/actionator/pkg/router"
	"github.com/odvcencio/actionator/pkg/storage"
)

type serverEnv struct {
	url   string
	srv   *ipc.Server
	store *storage.Store
}

func startServer(t *testing.T) *serverEnv {
	t.Helper()

	registry := action.NewRegistry()
	require.NoError(t, action.RegisterBuiltins(registry))
	require.NoError(t, registry.Register(action.Definition{
		Name:   "deploy",
		Fields: []action.Field{{Name: "env", Default: "staging"}},
		Func: func(_ context.Context, _ action.Params, emit action.Emitter) error {
			emit.Emit("step1")
			emit.Emit("step2")
			return nil
		},
	}))
	require.NoError(t, registry.Register(action.Definition{
		Name: "other",
		Func: func(_ context.Context, _ action.Params, emit action.Emitter) error {
			emit.Emit("x")
			return nil
		},
	}))

	store, err := storage.New(":memory:")
	require.NoError(t, err)
	msgBus := bus.NewMemoryBus()
	runner := action.NewRunner(registry, msgBus, store, logging.Nop())
	srv := ipc.NewServer(ipc.Config{}, registry, runner, store, logging.Nop())
	bridge := ipc.NewBusBridge(msgBus, srv.Hub(), logging.Nop())
	require.NoError(t, bridge.Start(context.Background()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = runner.Close(context.Background())
		bridge.Stop()
		_ = msgBus.Close()
		_ = store.Close()
	})
	return &serverEnv{url: ts.URL, srv: srv, store: store}
}

func connect(t *testing.T, ctx context.Context, env *serverEnv, opts Options) *Dashboard {
	t.Helper()
	inv, err := invoker.New(env.url, nil, nil)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(env.url, "http") + ipc.PushPath
	ch, err := router.Dial(ctx, wsURL, router.DialOptions{PingInterval: -1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.srv.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	d := New(inv, router.New(ch, router.Options{}), opts)
	require.NoError(t, d.Init(ctx))
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d
}

func TestDeployScenarioAgainstServer(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := connect(t, ctx, env, Options{})

	descs, err := d.LoadActionBar(ctx, "")
	require.NoError(t, err)
	var deploy Descriptor
	for _, desc := range descs {
		if desc.Name == "deploy" {
			deploy = desc
		}
	}
	require.Equal(t, "/static/gen/forms/deploy.html", deploy.StartFormPath)
	assert.Equal(t, "/api/actions/deploy", deploy.ActionFormPath)
	assert.Contains(t, d.Layout().ActionBar().Content().Render(), "deploy")

	p := d.PrepareAction("deploy", deploy.StartFormPath)
	assert.Equal(t, "Start deploy", p.Title())

	otherPanel := d.PrepareAction("other", "")
	_, res, err := d.StartAction(ctx, "other", "other-form", "", nil)
	require.NoError(t, err)
	require.True(t, res.OK())

	submitted, res, err := d.StartAction(ctx, "deploy", "deploy-form", "", map[string]string{"env": "prod"})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Same(t, p, submitted)
	assert.NotEmpty(t, res.RunID)

	out, ok := d.Manager().Output(p.ID())
	require.True(t, ok)
	lines, err := out.Wait(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1", "step2"}, lines)

	otherOut, ok := d.Manager().Output(otherPanel.ID())
	require.True(t, ok)
	otherLines, err := otherOut.Wait(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, otherLines)

	run, err := env.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, map[string]string{"env": "prod"}, run.Params)

	require.NoError(t, d.Close(p.ID()))
	assert.Equal(t, panel.Closed, d.Manager().State(p.ID()))
	assert.Equal(t, []string{"step1", "step2"}, out.Lines())

	rendered := d.Render(100)
	assert.Contains(t, rendered, "Start other")
	assert.NotContains(t, rendered, "Start deploy")
}

func TestUniqueRunsAgainstServer(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := connect(t, ctx, env, Options{UniqueRuns: true})

	_, err := d.LoadActionBar(ctx, "")
	require.NoError(t, err)

	a := d.PrepareAction("echo", "")
	b := d.PrepareAction("echo", "")
	_, resA, err := d.StartAction(ctx, "echo", "echo-form", "", map[string]string{"msg": "from a"})
	require.NoError(t, err)
	_, resB, err := d.StartAction(ctx, "echo", "echo-form", "", map[string]string{"msg": "from b"})
	require.NoError(t, err)
	assert.NotEqual(t, resA.RunID, resB.RunID)

	outA, _ := d.Manager().Output(a.ID())
	outB, _ := d.Manager().Output(b.ID())
	linesA, err := outA.Wait(ctx, 1)
	require.NoError(t, err)
	linesB, err := outB.Wait(ctx, 1)
	require.NoError(t, err)

	// Let any stray frame land before comparing.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"from a"}, linesA)
	assert.Equal(t, []string{"from a"}, outA.Lines())
	assert.Equal(t, []string{"from b"}, linesB)
	assert.Equal(t, []string{"from b"}, outB.Lines())
}

func TestStartActionWithoutOpenForm(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := connect(t, ctx, env, Options{})

	_, _, err := d.StartAction(ctx, "deploy", "deploy-form", "", nil)
	assert.ErrorIs(t, err, ErrNoStartForm)
}

func TestStartActionAfterFormLoadFailure(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := connect(t, ctx, env, Options{})

	broken := d.PrepareAction("deploy", "/static/gen/forms/missing.html")
	_, _, err := d.StartAction(ctx, "deploy", "deploy-form", "/api/actions/deploy", nil)
	require.Error(t, err)
	assert.Equal(t, panel.StartForm, d.Manager().State(broken.ID()))

	fresh := d.PrepareAction("deploy", "/static/gen/forms/deploy.html")
	p, res, err := d.StartAction(ctx, "deploy", "deploy-form", "", map[string]string{"env": "prod"})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Same(t, fresh, p)

	out, ok := d.Manager().Output(fresh.ID())
	require.True(t, ok)
	lines, err := out.Wait(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1", "step2"}, lines)
	assert.Equal(t, panel.StartForm, d.Manager().State(broken.ID()))
}

func TestUnknownActionShowsError(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := connect(t, ctx, env, Options{})

	// The form exists but the submit path points at an action the server
	// does not know.
	d.PrepareAction("deploy", "/static/gen/forms/deploy.html")
	p, res, err := d.StartAction(ctx, "deploy", "deploy-form", "/api/actions/missing", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, panel.Failed, d.Manager().State(p.ID()))
	assert.Equal(t, layout.KindError, p.Kind())
	assert.Contains(t, p.Content().Render(), "ACTION_UNKNOWN")
}

func TestLoadActionBarFailureLeavesBarBlank(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	inv, err := invoker.New(srv.URL, nil, nil)
	require.NoError(t, err)
	d := New(inv, router.New(router.NewPipe(1), router.Options{}), Options{})

	_, err = d.LoadActionBar(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "", d.Layout().ActionBar().Content().Render())
	assert.Empty(t, d.Actions())
}

func TestParseActionBar(t *testing.T) {
	markup := `<ul class="action-bar">
  <li id="deploy-action-but" data-action="deploy" data-form="/f/deploy.html" data-submit="/api/actions/deploy"><span>Deploy</span></li>
  <li data-action="">ignored</li>
  <li data-action="echo" data-form="/f/echo.html"></li>
</ul>`
	descs, err := ParseActionBar(markup)
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{
		{Name: "deploy", StartFormPath: "/f/deploy.html", ActionFormPath: "/api/actions/deploy"},
		{Name: "echo", StartFormPath: "/f/echo.html"},
	}, descs)
}
