package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/actionator/pkg/config"
	"github.com/odvcencio/actionator/pkg/dashboard"
	"github.com/odvcencio/actionator/pkg/invoker"
	"github.com/odvcencio/actionator/pkg/ipc"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/panel"
	"github.com/odvcencio/actionator/pkg/router"
)

type runOptions struct {
	action     string
	formPath   string
	formID     string
	submitPath string
	params     map[string]string
	maxLines   int
	wait       time.Duration
	showLayout bool
}

func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to a config file")
	baseURL := fs.String("base-url", "", "server to run against (default from config)")
	uniqueRuns := fs.Bool("unique", false, "tag the run with its own run id")
	noReconnect := fs.Bool("no-reconnect", false, "stop when the push channel drops")
	formPath := fs.String("form", "", "start form path (default from the action bar)")
	formID := fs.String("form-id", "", "id of the form inside the start form markup")
	submitPath := fs.String("submit", "", "start endpoint override")
	maxLines := fs.Int("lines", 0, "stop after this many output lines (0 = until interrupted)")
	wait := fs.Duration("wait", 0, "stop streaming after this long (0 = until interrupted)")
	showLayout := fs.Bool("layout", isTerminal(stdout), "draw the dashboard when streaming ends")
	params := paramsValue{}
	fs.Var(params, "p", "form input as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() == 0 {
		return withExitCode(fmt.Errorf("usage: actionator run <action> [-p key=value ...]"), exitUsage)
	}
	name := fs.Arg(0)
	// Flags may also follow the action name.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return withExitCode(fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " ")), exitUsage)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*baseURL); v != "" {
		cfg.Client.BaseURL = v
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "unique":
			cfg.Client.UniqueRuns = *uniqueRuns
		case "no-reconnect":
			cfg.Client.Reconnect = !*noReconnect
		}
	})
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, exitUsage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return runAction(ctx, cfg, runOptions{
		action:     name,
		formPath:   *formPath,
		formID:     *formID,
		submitPath: *submitPath,
		params:     params,
		maxLines:   *maxLines,
		wait:       *wait,
		showLayout: *showLayout,
	}, newLogger(cfg, "run"))
}

// runAction drives one dashboard session: open the start form, submit it and
// stream the run's output to stdout.
func runAction(ctx context.Context, cfg *config.Config, opts runOptions, logger *logging.Logger) error {
	if opts.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.wait)
		defer cancel()
	}

	inv, err := invoker.New(cfg.Client.BaseURL, &http.Client{Timeout: cfg.Client.RequestTimeout}, logger)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	ch, err := router.Dial(ctx, cfg.Client.PushURL(), router.DialOptions{
		NoReconnect:  !cfg.Client.Reconnect,
		ReconnectMin: cfg.Client.ReconnectMin,
		ReconnectMax: cfg.Client.ReconnectMax,
		Logger:       logger,
	})
	if err != nil {
		return withExitCode(err, exitUnavailable)
	}

	d := dashboard.New(inv, router.New(ch, router.Options{Logger: logger}), dashboard.Options{
		UniqueRuns: cfg.Client.UniqueRuns,
		Logger:     logger,
	})
	if err := d.Init(ctx); err != nil {
		_ = ch.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
	}()

	// A missing action bar leaves the bar blank; the form can still be
	// found at its conventional path.
	_, _ = d.LoadActionBar(ctx, cfg.Client.ActionBarPath)
	formPath := opts.formPath
	if formPath == "" && !knownAction(d.Actions(), opts.action) {
		formPath = ipc.StartFormPath(opts.action)
	}

	p := d.PrepareAction(opts.action, formPath)
	_, res, err := d.StartAction(ctx, opts.action, opts.formID, opts.submitPath, opts.params)
	if err != nil {
		if opts.showLayout {
			fmt.Fprintln(stdout, d.Render(terminalWidth()))
		}
		if res.Status != 0 || res.Err != nil {
			return withExitCode(err, exitUnavailable)
		}
		return err
	}
	if res.RunID != "" {
		statusWriter().Success("Started %s (run %s)", opts.action, res.RunID)
	}

	out, _ := d.Manager().Output(p.ID())
	err = streamOutput(ctx, out, stdout, opts.maxLines)
	if opts.showLayout {
		fmt.Fprintln(stdout, d.Render(terminalWidth()))
	}
	return err
}

func knownAction(descs []dashboard.Descriptor, name string) bool {
	for _, desc := range descs {
		if desc.Name == name {
			return true
		}
	}
	return false
}

// streamOutput writes output lines as they arrive until maxLines were
// written or ctx ends. Running out of time is not an error: runs have no end
// marker on the push channel.
func streamOutput(ctx context.Context, out *panel.Output, w io.Writer, maxLines int) error {
	seen := 0
	for {
		lines, err := out.Wait(ctx, seen+1)
		for _, line := range lines[seen:] {
			fmt.Fprintln(w, line)
			seen++
			if maxLines > 0 && seen >= maxLines {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// paramsValue collects repeated -p key=value flags; the last value of a key
// wins.
type paramsValue map[string]string

func (p paramsValue) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (p paramsValue) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	p[key] = val
	return nil
}
