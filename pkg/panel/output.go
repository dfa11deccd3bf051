package panel

import (
	"context"
	"strings"
	"sync"

	"github.com/odvcencio/actionator/pkg/wire"
)

// Output is the live log a running panel shows: one line per push message,
// in arrival order.
type Output struct {
	mu      sync.Mutex
	lines   []string
	changed chan struct{}
}

// NewOutput returns an empty output surface.
func NewOutput() *Output {
	return &Output{changed: make(chan struct{})}
}

// Append adds a line and wakes waiters.
func (o *Output) Append(line string) {
	o.mu.Lock()
	o.lines = append(o.lines, line)
	close(o.changed)
	o.changed = make(chan struct{})
	o.mu.Unlock()
}

func (o *Output) handle(f wire.Frame) {
	o.Append(f.Msg)
}

// Lines returns a copy of the lines so far.
func (o *Output) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}

func (o *Output) Render() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.lines, "\n")
}

// Wait blocks until at least n lines have arrived or ctx is done, and
// returns the lines seen.
func (o *Output) Wait(ctx context.Context, n int) ([]string, error) {
	for {
		o.mu.Lock()
		if len(o.lines) >= n {
			lines := append([]string(nil), o.lines...)
			o.mu.Unlock()
			return lines, nil
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return o.Lines(), ctx.Err()
		}
	}
}
