// Package router demultiplexes the shared push channel. Each inbound frame is
// delivered to the handlers subscribed under its correlation tag.
//
// Delivery is at-most-once and best effort: frames whose tag has no
// subscriber are dropped and counted, never buffered or replayed. A handler
// subscribed after a frame arrived will not see it.
package router

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/telemetry"
	"github.com/odvcencio/actionator/pkg/wire"
)

var (
	// ErrAlreadyStarted is returned by a second Init.
	ErrAlreadyStarted = stdliberrors.New("router already started")
	// ErrShutdown is returned by Init after Shutdown.
	ErrShutdown = stdliberrors.New("router shut down")
)

// Handler receives frames for one tag. Handlers run on the router's dispatch
// goroutine, one at a time, and must not block for long.
type Handler func(wire.Frame)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	tag     string
	handler Handler
	router  *Router
}

// Tag returns the correlation tag the subscription listens on.
func (s *Subscription) Tag() string {
	return s.tag
}

// Unsubscribe removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.router == nil {
		return
	}
	s.router.Unsubscribe(s)
}

// Options configures a Router.
type Options struct {
	Logger *logging.Logger
}

// Router owns one push channel and the subscriber table for it.
type Router struct {
	channel Channel
	logger  *logging.Logger

	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID uint64

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New creates a router reading from channel. Nothing is read until Init.
func New(channel Channel, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{
		channel: channel,
		logger:  logger,
		subs:    make(map[string][]*Subscription),
		done:    make(chan struct{}),
	}
}

// Init starts the dispatch loop. The loop stops when ctx is cancelled, on
// Shutdown, or when the channel fails for good.
func (r *Router) Init(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.stopped {
		return ErrShutdown
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(loopCtx)
	return nil
}

func (r *Router) loop(ctx context.Context) {
	defer close(r.done)
	for {
		data, err := r.channel.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("push channel failed, delivery stopped", "error", err)
			r.lifeMu.Lock()
			r.err = err
			r.lifeMu.Unlock()
			return
		}
		r.Dispatch(ctx, data)
	}
}

// Shutdown stops the dispatch loop and closes the channel. It waits for an
// in-flight dispatch to finish or for ctx to expire.
func (r *Router) Shutdown(ctx context.Context) error {
	r.lifeMu.Lock()
	if r.stopped {
		r.lifeMu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	cancel := r.cancel
	r.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	closeErr := r.channel.Close()
	if !started {
		return closeErr
	}

	select {
	case <-r.done:
		return closeErr
	case <-ctx.Done():
		return fmt.Errorf("router shutdown: %w", ctx.Err())
	}
}

// Done is closed once the dispatch loop has exited.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Err returns the channel error that stopped delivery, if any.
func (r *Router) Err() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.err
}

// Subscribe registers handler for every future frame tagged tag. Several
// subscriptions may share a tag; all of them receive each frame, in
// registration order.
func (r *Router) Subscribe(tag string, handler Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &Subscription{id: r.nextID, tag: tag, handler: handler, router: r}
	r.subs[tag] = append(r.subs[tag], sub)
	return sub
}

// Unsubscribe removes sub. Unknown subscriptions are ignored. A frame being
// dispatched concurrently may still reach sub's handler; none after that.
func (r *Router) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[sub.tag]
	for i, s := range list {
		if s != sub {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, sub.tag)
		} else {
			r.subs[sub.tag] = next
		}
		return
	}
}

// Subscribers returns how many subscriptions listen on tag.
func (r *Router) Subscribers(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[tag])
}

// Dispatch decodes one frame and delivers it. Malformed frames are logged
// and dropped.
func (r *Router) Dispatch(ctx context.Context, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil || frame.ForFunc == "" {
		metricDropped.WithLabelValues(dropMalformed).Inc()
		r.logger.Warn("dropping malformed push frame", "error", err, "bytes", len(data))
		return
	}
	tag := frame.Tag()

	r.mu.RLock()
	handlers := r.subs[tag]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		metricDropped.WithLabelValues(dropUnmatched).Inc()
		r.logger.Debug("no subscriber for frame", "tag", tag)
		return
	}

	_, span := telemetry.StartSpan(ctx, "actionator.router.dispatch",
		trace.WithAttributes(
			telemetry.AttrFrameTag.String(tag),
			telemetry.AttrSubscribers.Int(len(handlers)),
		),
	)
	defer span.End()

	// The slice is replaced, never mutated, so the snapshot stays valid.
	for _, sub := range handlers {
		r.deliver(sub, frame)
	}
	metricDispatched.Inc()
}

func (r *Router) deliver(sub *Subscription, frame wire.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push handler panicked", "tag", sub.tag, "panic", rec)
		}
	}()
	sub.handler(frame)
}
