// Package filewatch reports changes to individual files on disk.
package filewatch

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/actionator/pkg/logging"
)

// ChangeType describes the kind of file change observed.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

const (
	defaultMaxHistory = 100
	defaultDebounce   = 200 * time.Millisecond
)

// FileChange is one settled change to a watched file.
type FileChange struct {
	Path string
	Type ChangeType
	At   time.Time
}

// FileChangeHandler receives file change notifications.
type FileChangeHandler func(change FileChange)

// Subscription binds a pattern to a handler.
type Subscription struct {
	ID      string
	Pattern string
	Handler FileChangeHandler
}

// Options configures a FileWatcher.
type Options struct {
	// Debounce folds bursts of events for one file (editors often write,
	// rename and chmod in quick succession) into a single change.
	Debounce   time.Duration
	MaxHistory int
	Logger     *logging.Logger
}

// FileWatcher watches a set of files and fans settled changes out to
// subscribers.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	logger    *logging.Logger
	closeOnce sync.Once

	mu            sync.RWMutex
	files         map[string]bool
	subscriptions map[string]*Subscription
	recentChanges []FileChange
	maxHistory    int
}

// New creates a watcher. Nothing is watched until Add is called.
func New(opts Options) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = defaultMaxHistory
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileWatcher{
		watcher:       w,
		debounce:      opts.Debounce,
		logger:        logger,
		files:         make(map[string]bool),
		subscriptions: make(map[string]*Subscription),
		maxHistory:    opts.MaxHistory,
	}, nil
}

// Add starts watching file. Its directory is watched so replacing the file
// by rename is seen too; other files in that directory are ignored.
func (fw *FileWatcher) Add(file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", file, err)
	}
	fw.mu.Lock()
	fw.files[abs] = true
	fw.mu.Unlock()
	return nil
}

// Subscribe registers a file change handler for a glob pattern. An empty
// pattern matches every file.
func (fw *FileWatcher) Subscribe(pattern string, handler FileChangeHandler) string {
	if fw == nil || handler == nil {
		return ""
	}
	id := ulid.Make().String()
	sub := &Subscription{
		ID:      id,
		Pattern: strings.TrimSpace(pattern),
		Handler: handler,
	}
	fw.mu.Lock()
	fw.subscriptions[id] = sub
	fw.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (fw *FileWatcher) Unsubscribe(id string) {
	if fw == nil || strings.TrimSpace(id) == "" {
		return
	}
	fw.mu.Lock()
	delete(fw.subscriptions, id)
	fw.mu.Unlock()
}

// Run delivers changes until ctx is done, then releases the watcher.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.Close()

	pending := make(map[string]FileChange)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			change, ok := fw.translate(ev)
			if !ok {
				continue
			}
			pending[change.Path] = change
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn("file watch error", "error", err)
		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				fw.Notify(pending[p])
			}
			clear(pending)
		}
	}
}

func (fw *FileWatcher) translate(ev fsnotify.Event) (FileChange, bool) {
	name := filepath.Clean(ev.Name)
	fw.mu.RLock()
	watched := fw.files[name]
	fw.mu.RUnlock()
	if !watched {
		return FileChange{}, false
	}

	var typ ChangeType
	switch {
	case ev.Has(fsnotify.Remove):
		typ = ChangeDeleted
	case ev.Has(fsnotify.Rename):
		typ = ChangeRenamed
	case ev.Has(fsnotify.Create):
		typ = ChangeCreated
	case ev.Has(fsnotify.Write):
		typ = ChangeModified
	default:
		return FileChange{}, false
	}
	return FileChange{Path: name, Type: typ, At: time.Now()}, true
}

// Close stops watching. Run calls it on exit.
func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}

// Notify publishes a file change event.
func (fw *FileWatcher) Notify(change FileChange) {
	if fw == nil {
		return
	}
	fw.mu.Lock()
	fw.recentChanges = append(fw.recentChanges, change)
	if len(fw.recentChanges) > fw.maxHistory {
		fw.recentChanges = fw.recentChanges[len(fw.recentChanges)-fw.maxHistory:]
	}
	subs := make([]*Subscription, 0, len(fw.subscriptions))
	for _, sub := range fw.subscriptions {
		subs = append(subs, sub)
	}
	fw.mu.Unlock()

	for _, sub := range subs {
		if matchesPattern(sub.Pattern, change.Path) {
			sub.Handler(change)
		}
	}
}

// RecentChanges returns the most recent changes (newest first).
func (fw *FileWatcher) RecentChanges(limit int) []FileChange {
	if fw == nil {
		return nil
	}
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	if limit <= 0 || limit > len(fw.recentChanges) {
		limit = len(fw.recentChanges)
	}
	out := make([]FileChange, 0, limit)
	for i := len(fw.recentChanges) - 1; i >= len(fw.recentChanges)-limit; i-- {
		out = append(out, fw.recentChanges[i])
	}
	return out
}

func matchesPattern(pattern, filePath string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	cleanPath := filepath.ToSlash(strings.TrimSpace(filePath))
	cleanPattern := filepath.ToSlash(pattern)
	if ok, _ := path.Match(cleanPattern, cleanPath); ok {
		return true
	}
	if !strings.Contains(cleanPattern, "/") {
		if ok, _ := path.Match(cleanPattern, path.Base(cleanPath)); ok {
			return true
		}
	}
	return false
}
