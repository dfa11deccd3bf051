package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/actionator/pkg/action"
	"github.com/odvcencio/actionator/pkg/config"
	"github.com/odvcencio/actionator/pkg/logging"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return &out, &errOut
}

func stubConfig(t *testing.T, fn func(string) (*config.Config, error)) {
	t.Helper()
	prev := loadConfigFn
	loadConfigFn = fn
	t.Cleanup(func() { loadConfigFn = prev })
}

func TestDispatchSubcommandVersion(t *testing.T) {
	out, _ := captureOutput(t)
	if code := dispatchSubcommand([]string{"version"}); code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	if !strings.Contains(out.String(), "Actionator "+version) {
		t.Errorf("unexpected version output: %q", out.String())
	}
}

func TestDispatchSubcommandUnknown(t *testing.T) {
	_, errOut := captureOutput(t)
	if code := dispatchSubcommand([]string{"bogus"}); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(errOut.String(), `unknown command "bogus"`) {
		t.Errorf("expected unknown command message, got %q", errOut.String())
	}
	if code := dispatchSubcommand(nil); code != exitUsage {
		t.Fatalf("no-args exit code = %d, want %d", code, exitUsage)
	}
}

func TestExitCodeForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"help", flag.ErrHelp, exitOK},
		{"wrapped help", withExitCode(flag.ErrHelp, exitUsage), exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"coded", withExitCode(errors.New("down"), exitUnavailable), exitUnavailable},
		{"zero code", exitError{err: errors.New("x")}, exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeForError(tc.err); got != tc.want {
				t.Errorf("exitCodeForError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
	if withExitCode(nil, exitUsage) != nil {
		t.Error("withExitCode(nil) should stay nil")
	}
}

func TestRunCommandUsageErrors(t *testing.T) {
	captureOutput(t)
	stubConfig(t, func(string) (*config.Config, error) { return config.DefaultConfig(), nil })

	for _, args := range [][]string{
		nil,
		{"echo", "extra"},
		{"echo", "-p", "novalue"},
		{"--lines", "x", "echo"},
	} {
		err := runRunCommand(args)
		if err == nil {
			t.Fatalf("runRunCommand(%q): expected error", args)
		}
		if code := exitCodeForError(err); code != exitUsage {
			t.Errorf("runRunCommand(%q) exit code = %d, want %d", args, code, exitUsage)
		}
	}
}

func TestRunCommandRejectsBadBaseURL(t *testing.T) {
	captureOutput(t)
	stubConfig(t, func(string) (*config.Config, error) { return config.DefaultConfig(), nil })

	err := runRunCommand([]string{"--base-url", "ftp://example.com", "echo"})
	if code := exitCodeForError(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitUsage, err)
	}
}

func TestServeConfigErrors(t *testing.T) {
	captureOutput(t)
	stubConfig(t, func(string) (*config.Config, error) { return nil, errors.New("bad yaml") })
	if code := exitCodeForError(runServeCommand(nil)); code != exitUsage {
		t.Fatalf("load failure exit code = %d, want %d", code, exitUsage)
	}

	stubConfig(t, func(string) (*config.Config, error) { return config.DefaultConfig(), nil })
	if code := exitCodeForError(runServeCommand([]string{"--bind", "no-port"})); code != exitUsage {
		t.Fatalf("bad bind exit code = %d, want %d", code, exitUsage)
	}
	if code := exitCodeForError(runServeCommand([]string{"stray"})); code != exitUsage {
		t.Fatalf("stray argument exit code = %d, want %d", code, exitUsage)
	}
}

func TestParamsValue(t *testing.T) {
	p := paramsValue{}
	for _, v := range []string{"env=staging", "env=prod", "empty=", "expr=a=b"} {
		if err := p.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if p["env"] != "prod" || p["empty"] != "" || p["expr"] != "a=b" {
		t.Errorf("unexpected params: %v", p)
	}
	if got := p.String(); got != "empty=,env=prod,expr=a=b" {
		t.Errorf("String() = %q", got)
	}
	for _, bad := range []string{"novalue", "=x", " =x"} {
		if err := p.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
}

const commandFile = `
actions:
  - name: greet
    command: ["sh", "-c", "echo hello $ACTION_NAME"]
    fields:
      - name: name
`

func TestBuildRegistry(t *testing.T) {
	if _, err := buildRegistry(config.ActionsConfig{}); err == nil {
		t.Fatal("expected error for a registry with no actions")
	}

	reg, err := buildRegistry(config.ActionsConfig{Builtins: true})
	if err != nil {
		t.Fatalf("builtins: %v", err)
	}
	if _, ok := reg.Get("echo"); !ok {
		t.Error("echo builtin missing")
	}

	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(commandFile), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err = buildRegistry(config.ActionsConfig{Builtins: true, File: path})
	if err != nil {
		t.Fatalf("command file: %v", err)
	}
	if _, ok := reg.Get("greet"); !ok {
		t.Error("command action missing")
	}

	if _, err := buildRegistry(config.ActionsConfig{File: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for a missing actions file")
	}
}

func TestReloadCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(commandFile), 0o600); err != nil {
		t.Fatal(err)
	}
	reg := action.NewRegistry()
	if err := action.RegisterBuiltins(reg); err != nil {
		t.Fatal(err)
	}
	if err := reloadCommands(reg, path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reg.Get("greet"); !ok {
		t.Fatal("greet missing after reload")
	}

	renamed := strings.Replace(commandFile, "greet", "wave", 1)
	if err := os.WriteFile(path, []byte(renamed), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := reloadCommands(reg, path); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if _, ok := reg.Get("greet"); ok {
		t.Error("greet should be gone after reload")
	}
	if _, ok := reg.Get("wave"); !ok {
		t.Error("wave missing after reload")
	}

	if err := os.WriteFile(path, []byte("actions: [ {"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := reloadCommands(reg, path); err == nil {
		t.Fatal("expected error for a broken file")
	}
	if _, ok := reg.Get("wave"); !ok {
		t.Error("a failed reload should keep the previous set")
	}
}

func TestResolveDBPath(t *testing.T) {
	t.Setenv(envActionatorDataDir, "")

	got, err := resolveDBPath(":memory:")
	if err != nil || got != ":memory:" {
		t.Fatalf("resolveDBPath(:memory:) = %q, %v", got, err)
	}

	got, err = resolveDBPath("/var/lib/actionator/runs.db")
	if err != nil || got != "/var/lib/actionator/runs.db" {
		t.Fatalf("explicit path = %q, %v", got, err)
	}

	dir := t.TempDir()
	t.Setenv(envActionatorDataDir, dir)
	got, err = resolveDBPath("")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "runs.db"); got != want {
		t.Errorf("data dir path = %q, want %q", got, want)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envActionatorDataDir, "")
	got, err = resolveDBPath("")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".actionator", "runs.db"); got != want {
		t.Errorf("home path = %q, want %q", got, want)
	}
}

func TestWatchActionsReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(commandFile), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := buildRegistry(config.ActionsConfig{File: path})
	if err != nil {
		t.Fatal(err)
	}
	watcher, err := watchActions(reg, path, logging.Nop())
	if err != nil {
		t.Fatalf("watchActions: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	renamed := strings.Replace(commandFile, "greet", "wave", 1)
	if err := os.WriteFile(path, []byte(renamed), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("wave"); ok {
			if _, stale := reg.Get("greet"); stale {
				t.Fatal("greet should be replaced")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("actions file change was not picked up")
}
