package action

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
)

const actionsYAML = `
actions:
  - name: deploy
    title: Deploy
    description: |
      Ships the **current** build.
    command: ["sh", "-c", "echo deploying $ACTION_ENV"]
    dir: scripts
    timeout: 30s
    fields:
      - name: env
        type: select
        options: [staging, prod]
`

func TestParseCommands(t *testing.T) {
	defs, err := ParseCommands([]byte(actionsYAML), "/srv/actions")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "deploy", def.Name)
	assert.Equal(t, "Deploy", def.Title)
	assert.Contains(t, def.Description, "**current**")
	require.Len(t, def.Fields, 1)
	assert.Equal(t, []string{"staging", "prod"}, def.Fields[0].Options)
	assert.NotNil(t, def.Func)
}

func TestParseCommandsErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "actions: [",
		"no command": "actions:\n  - name: x\n",
		"bad name":   "actions:\n  - name: a.b\n    command: [pwd]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCommands([]byte(doc), "")
			require.Error(t, err)
			code := apperrors.GetCode(err)
			assert.Contains(t, []apperrors.ErrorCode{apperrors.ErrCodeConfigInvalid, apperrors.ErrCodeActionInvalid}, code)
		})
	}
}

func TestLoadCommandFileMissing(t *testing.T) {
	_, err := LoadCommandFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigLoad))
}

func TestLoadCommandFileResolvesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("actions:\n  - name: pwd\n    command: [pwd]\n    dir: .\n"), 0o600))

	defs, err := LoadCommandFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestParamEnvName(t *testing.T) {
	assert.Equal(t, "ACTION_ENV", ParamEnvName("env"))
	assert.Equal(t, "ACTION_DRY_RUN", ParamEnvName("dry-run"))
	assert.Equal(t, "ACTION_A_B2", ParamEnvName("a.b2"))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandFuncStreamsOutput(t *testing.T) {
	requireShell(t)

	fn := CommandFunc(CommandSpec{
		Command: []string{"sh", "-c", "echo one $ACTION_ENV; echo two >&2; echo $EXTRA"},
		Env:     map[string]string{"EXTRA": "three"},
	})

	var mu sync.Mutex
	var lines []string
	err := fn(context.Background(), Params{"env": "prod"}, EmitterFunc(func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}))
	require.NoError(t, err)

	sort.Strings(lines)
	assert.Equal(t, []string{"one prod", "three", "two"}, lines)
}

func TestCommandFuncFailure(t *testing.T) {
	requireShell(t)

	fn := CommandFunc(CommandSpec{Command: []string{"sh", "-c", "echo partial; exit 3"}})
	lines, err := collect(fn, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, lines)
}

func TestCommandFuncTimeout(t *testing.T) {
	requireShell(t)

	fn := CommandFunc(CommandSpec{
		Command: []string{"sh", "-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	start := time.Now()
	_, err := collect(fn, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandFuncMissingBinary(t *testing.T) {
	fn := CommandFunc(CommandSpec{Command: []string{"/nonexistent/actionator-binary"}})
	_, err := collect(fn, nil)
	assert.Error(t, err)
}
