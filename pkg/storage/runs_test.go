package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "actionator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.RecordStart(ctx, Run{
		ID:        "run-1",
		Action:    "deploy",
		Params:    map[string]string{"env": "prod"},
		StartedAt: started,
	}))
	require.NoError(t, store.AppendMessage(ctx, "run-1", 1, "step1", started.Add(time.Second)))
	require.NoError(t, store.AppendMessage(ctx, "run-1", 2, "step2", started.Add(2*time.Second)))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, map[string]string{"env": "prod"}, run.Params)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, store.Finish(ctx, "run-1", RunStatusSucceeded, "", started.Add(3*time.Second)))

	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(started.Add(3*time.Second)))

	msgs, err := store.Messages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "step1", msgs[0].Msg)
	assert.Equal(t, "step2", msgs[1].Msg)
}

func TestGetRunMissing(t *testing.T) {
	store := newTestStore(t)
	run, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestFinishUnknownRun(t *testing.T) {
	store := newTestStore(t)
	err := store.Finish(context.Background(), "nope", RunStatusFailed, "boom", time.Now())
	assert.Error(t, err)
}

func TestListRunsOrderAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{"echo", "deploy", "echo"} {
		require.NoError(t, store.RecordStart(ctx, Run{
			ID:        action + "-" + string(rune('a'+i)),
			Action:    action,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "echo-c", all[0].ID)
	assert.Equal(t, "echo-a", all[2].ID)
	assert.Equal(t, map[string]string{}, all[0].Params)

	echo, err := store.ListRuns(ctx, "echo", 1)
	require.NoError(t, err)
	require.Len(t, echo, 1)
	assert.Equal(t, "echo-c", echo[0].ID)
}

func TestMemoryDatabase(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordStart(context.Background(), Run{ID: "r", Action: "echo"}))
	runs, err := store.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMigrationsRecorded(t *testing.T) {
	store := newTestStore(t)
	version, err := store.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestDatabaseFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "actionator.db")
	store, err := New(path)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSqliteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/a.db?_pragma=busy_timeout(5000)", "/tmp/a.db", true},
		{"/var/lib/actionator.db", "/var/lib/actionator.db", true},
		{"libsql://remote", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		assert.Equal(t, tt.path, path, tt.dsn)
		assert.Equal(t, tt.onDisk, onDisk, tt.dsn)
	}
}
