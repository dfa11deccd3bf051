// Command actionator serves actions to browser dashboards and drives a
// headless dashboard from the terminal.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/term"

	"github.com/odvcencio/actionator/pkg/config"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(dispatchSubcommand(os.Args[1:]))
}

func dispatchSubcommand(args []string) int {
	if len(args) == 0 {
		printHelp(stderr)
		return exitUsage
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion(stdout)
		return exitOK
	case "--help", "-h", "help":
		printHelp(stdout)
		return exitOK
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "run":
		return runCommand(runRunCommand, args[1:])
	case "actions":
		return runCommand(runActionsCommand, args[1:])
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp(stderr)
		return exitUsage
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		code := exitCodeForError(err)
		if code != exitOK {
			statusWriter().Error("%v", err)
		}
		return code
	}
	return exitOK
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Actionator - run actions from a live dashboard")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  actionator <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve [--bind host:port]         Serve the action bar, start forms and push channel")
	fmt.Fprintln(w, "  run <action> [-p key=value]      Start an action and stream its output")
	fmt.Fprintln(w, "  actions [--json | --long]        List the actions a server offers")
	fmt.Fprintln(w, "  version                          Print version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts --config <path>; otherwise ~/.actionator/config.yaml,")
	fmt.Fprintln(w, "./.actionator/config.yaml and ACTIONATOR_* variables are used.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Actionator %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

// loadConfigFn allows tests to stub configuration loading.
var loadConfigFn = func(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := loadConfigFn(path)
	if err != nil {
		return nil, withExitCode(err, exitUsage)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) *logging.Logger {
	return logging.New(component, logging.Options{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Output: stderr,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// statusWriter prints human-facing status lines on stderr so stdout carries
// only run output.
func statusWriter() *terminal.Writer {
	return terminal.New(stderr, isTerminal(stderr), terminalWidth())
}

// terminalWidth is the width the dashboard is drawn at; 100 columns when
// stdout is not a terminal.
func terminalWidth() int {
	if f, ok := stdout.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 100
}
