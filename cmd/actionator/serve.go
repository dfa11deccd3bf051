package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/actionator/pkg/action"
	"github.com/odvcencio/actionator/pkg/bus"
	"github.com/odvcencio/actionator/pkg/config"
	"github.com/odvcencio/actionator/pkg/filewatch"
	"github.com/odvcencio/actionator/pkg/ipc"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/storage"
	"github.com/odvcencio/actionator/pkg/telemetry"
)

const runDrainTimeout = 10 * time.Second

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to a config file")
	bind := fs.String("bind", "", "address to bind the server (default from config)")
	actionsFile := fs.String("actions", "", "YAML file of command actions")
	dbPath := fs.String("db", "", "run history database (default ~/.actionator/runs.db)")
	natsURL := fs.String("nats", "", "NATS server URL; empty uses the in-process bus")
	noBuiltins := fs.Bool("no-builtins", false, "do not register the echo, sleep and env actions")
	var allowedOrigins []string
	fs.Var(&stringListValue{target: &allowedOrigins}, "allow-origin", "additional allowed Origin (repeatable, accepts comma-separated list)")

	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return withExitCode(fmt.Errorf("usage: actionator serve [flags]"), exitUsage)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*bind); v != "" {
		cfg.Server.Bind = v
	}
	if v := strings.TrimSpace(*actionsFile); v != "" {
		cfg.Actions.File = v
	}
	if v := strings.TrimSpace(*dbPath); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(*natsURL); v != "" {
		cfg.Bus.URL = v
	}
	if *noBuiltins {
		cfg.Actions.Builtins = false
	}
	cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, allowedOrigins...)
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, exitUsage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serve(ctx, cfg, newLogger(cfg, "serve"))
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(cfg.Tracing.ServiceName, version, stderr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	registry, err := buildRegistry(cfg.Actions)
	if err != nil {
		return withExitCode(err, exitUsage)
	}

	path, err := resolveDBPath(cfg.Storage.Path)
	if err != nil {
		return err
	}
	store, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("initializing run history: %w", err)
	}
	defer store.Close()

	msgBus, err := bus.New(bus.Config{URL: cfg.Bus.URL, Name: cfg.Bus.Name, Timeout: cfg.Bus.Timeout})
	if err != nil {
		return withExitCode(err, exitUnavailable)
	}
	defer msgBus.Close()

	runner := action.NewRunner(registry, msgBus, store, newLogger(cfg, "runner"))
	server := ipc.NewServer(ipc.Config{
		BindAddress:    cfg.Server.Bind,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxPushClients: cfg.Server.MaxPushClients,
		StartRate:      cfg.Server.StartRate,
		StartBurst:     cfg.Server.StartBurst,
		MaxBodyBytes:   int64(cfg.Server.MaxRequestBodyKB) * 1024,
		Version:        version,
	}, registry, runner, store, logger)

	bridge := ipc.NewBusBridge(msgBus, server.Hub(), newLogger(cfg, "bridge"))
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Stop()

	var watcher *filewatch.FileWatcher
	if cfg.Actions.File != "" && cfg.Actions.Watch {
		watcher, err = watchActions(registry, cfg.Actions.File, newLogger(cfg, "filewatch"))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), runDrainTimeout)
		defer cancel()
		if err := runner.Close(drainCtx); err != nil {
			logger.Warn("runs still active at shutdown", "active", runner.Active(), "error", err)
		}
		return nil
	})
	if cfg.Actions.File != "" {
		g.Go(func() error {
			reloadOnHangup(gctx, registry, cfg.Actions.File, logger)
			return nil
		})
	}
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	return g.Wait()
}

func buildRegistry(cfg config.ActionsConfig) (*action.Registry, error) {
	registry := action.NewRegistry()
	if cfg.Builtins {
		if err := action.RegisterBuiltins(registry); err != nil {
			return nil, err
		}
	}
	if cfg.File != "" {
		defs, err := action.LoadCommandFile(cfg.File)
		if err != nil {
			return nil, err
		}
		if err := registry.ReplaceCommands(defs); err != nil {
			return nil, err
		}
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no actions to serve (enable builtins or set actions.file)")
	}
	return registry, nil
}

// reloadOnHangup re-reads the command actions file on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, registry *action.Registry, path string, logger *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadCommands(registry, path); err != nil {
				logger.Error("reloading actions failed; keeping previous set", "file", path, "error", err)
				continue
			}
			logger.Info("actions reloaded", "file", path, "actions", registry.Len())
		}
	}
}

func watchActions(registry *action.Registry, path string, logger *logging.Logger) (*filewatch.FileWatcher, error) {
	watcher, err := filewatch.New(filewatch.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	watcher.Subscribe("", reloadOnChange(registry, path, logger))
	return watcher, nil
}

// reloadOnChange reloads the actions file after it settles on disk. A
// deleted file keeps the current actions.
func reloadOnChange(registry *action.Registry, path string, logger *logging.Logger) filewatch.FileChangeHandler {
	return func(change filewatch.FileChange) {
		if change.Type == filewatch.ChangeDeleted || change.Type == filewatch.ChangeRenamed {
			logger.Warn("actions file went away; keeping current actions", "file", change.Path, "change", change.Type)
			return
		}
		if err := reloadCommands(registry, path); err != nil {
			logger.Error("reloading actions failed; keeping previous set", "file", path, "error", err)
			return
		}
		logger.Info("actions reloaded", "file", path, "change", change.Type, "actions", registry.Len())
	}
}

func reloadCommands(registry *action.Registry, path string) error {
	defs, err := action.LoadCommandFile(path)
	if err != nil {
		return err
	}
	return registry.ReplaceCommands(defs)
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			*s.target = append(*s.target, trimmed)
		}
	}
	return nil
}
