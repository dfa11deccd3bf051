package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/odvcencio/actionator/pkg/config"
	"github.com/odvcencio/actionator/pkg/dashboard"
	"github.com/odvcencio/actionator/pkg/invoker"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/terminal"
)

const actionsAPIPath = "/api/actions"

type actionEntry struct {
	Name       string `json:"name"`
	FormPath   string `json:"form_path,omitempty"`
	SubmitPath string `json:"submit_path,omitempty"`
}

func runActionsCommand(args []string) error {
	fs := flag.NewFlagSet("actions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to a config file")
	baseURL := fs.String("base-url", "", "server to query (default from config)")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	long := fs.Bool("long", false, "print each action with its rendered description")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return withExitCode(fmt.Errorf("usage: actionator actions [--json]"), exitUsage)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*baseURL); v != "" {
		cfg.Client.BaseURL = v
		if err := cfg.Validate(); err != nil {
			return withExitCode(err, exitUsage)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	logger := newLogger(cfg, "actions")
	if *long {
		return describeActions(ctx, cfg, terminal.New(stdout, isTerminal(stdout), terminalWidth()), logger)
	}
	return listActions(ctx, cfg, *asJSON, stdout, logger)
}

// listActions prints the actions the server's action bar offers.
func listActions(ctx context.Context, cfg *config.Config, asJSON bool, w io.Writer, logger *logging.Logger) error {
	inv, err := invoker.New(cfg.Client.BaseURL, &http.Client{Timeout: cfg.Client.RequestTimeout}, logger)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	markup, err := inv.Fetch(ctx, cfg.Client.ActionBarPath)
	if err != nil {
		return withExitCode(err, exitUnavailable)
	}
	descs, err := dashboard.ParseActionBar(markup)
	if err != nil {
		return err
	}

	entries := make([]actionEntry, 0, len(descs))
	for _, desc := range descs {
		entries = append(entries, actionEntry{
			Name:       desc.Name,
			FormPath:   desc.StartFormPath,
			SubmitPath: desc.ActionFormPath,
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORM\tSUBMIT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.FormPath, e.SubmitPath)
	}
	return tw.Flush()
}

type actionSummary struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// describeActions prints every action with its markdown description.
func describeActions(ctx context.Context, cfg *config.Config, w *terminal.Writer, logger *logging.Logger) error {
	inv, err := invoker.New(cfg.Client.BaseURL, &http.Client{Timeout: cfg.Client.RequestTimeout}, logger)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	body, err := inv.Fetch(ctx, actionsAPIPath)
	if err != nil {
		return withExitCode(err, exitUnavailable)
	}
	var resp struct {
		Actions []actionSummary `json:"actions"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return fmt.Errorf("decode action list: %w", err)
	}
	for _, a := range resp.Actions {
		if err := w.Action(a.Name, a.Title, a.Description); err != nil {
			return err
		}
	}
	return nil
}
