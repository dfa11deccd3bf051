package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, opts Options) *FileWatcher {
	t.Helper()
	fw, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close() })
	return fw
}

func TestSubscribeAndNotify(t *testing.T) {
	fw := newTestWatcher(t, Options{})
	var calls []FileChange
	fw.Subscribe("*.yaml", func(change FileChange) {
		calls = append(calls, change)
	})

	fw.Notify(FileChange{Path: "/etc/actionator/actions.yaml", Type: ChangeModified})
	fw.Notify(FileChange{Path: "README.md", Type: ChangeModified})

	require.Len(t, calls, 1)
	assert.Equal(t, "/etc/actionator/actions.yaml", calls[0].Path)
}

func TestRecentChangesLimit(t *testing.T) {
	fw := newTestWatcher(t, Options{MaxHistory: 2})
	fw.Notify(FileChange{Path: "a", Type: ChangeModified})
	fw.Notify(FileChange{Path: "b", Type: ChangeModified})
	fw.Notify(FileChange{Path: "c", Type: ChangeModified})

	recent := fw.RecentChanges(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Path)
	assert.Equal(t, "b", recent[1].Path)
}

func TestUnsubscribe(t *testing.T) {
	fw := newTestWatcher(t, Options{})
	called := false
	id := fw.Subscribe("", func(FileChange) { called = true })
	fw.Unsubscribe(id)
	fw.Notify(FileChange{Path: "actions.yaml", Type: ChangeModified})
	assert.False(t, called)
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("", "/a/b.yaml"))
	assert.True(t, matchesPattern("*", "/a/b.yaml"))
	assert.True(t, matchesPattern("*.yaml", "/a/b.yaml"))
	assert.True(t, matchesPattern("/a/*.yaml", "/a/b.yaml"))
	assert.False(t, matchesPattern("*.yml", "/a/b.yaml"))
}

func TestRunReportsWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "actions.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("actions: []\n"), 0o600))

	fw := newTestWatcher(t, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, fw.Add(watched))

	changes := make(chan FileChange, 16)
	fw.Subscribe("", func(c FileChange) { changes <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(watched, []byte("actions: [{}]\n"), 0o600))

	select {
	case c := <-changes:
		abs, err := filepath.Abs(watched)
		require.NoError(t, err)
		assert.Equal(t, abs, c.Path)
		assert.Contains(t, []ChangeType{ChangeCreated, ChangeModified}, c.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	for _, c := range fw.RecentChanges(0) {
		assert.NotEqual(t, filepath.Base(other), filepath.Base(c.Path))
	}
}
