package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/actionator/pkg/bus"
	apperrors "github.com/odvcencio/actionator/pkg/errors"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/storage"
	"github.com/odvcencio/actionator/pkg/telemetry"
	"github.com/odvcencio/actionator/pkg/wire"
)

// publishWait bounds how long one Emit waits on a consumer that is not
// keeping up before the frame is dropped.
const publishWait = 30 * time.Second

var (
	// ErrUnknownAction is returned by Start for names not in the registry.
	ErrUnknownAction = errors.New("unknown action")
	// ErrRunnerClosed is returned by Start after Close.
	ErrRunnerClosed = errors.New("runner closed")
)

// History records runs. *storage.Store implements it.
type History interface {
	RecordStart(ctx context.Context, run storage.Run) error
	AppendMessage(ctx context.Context, runID string, seq int, msg string, at time.Time) error
	Finish(ctx context.Context, runID, status, errMsg string, at time.Time) error
}

// Runner starts actions in the background and publishes their progress.
type Runner struct {
	registry *Registry
	bus      bus.MessageBus
	history  History
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewRunner creates a runner. history may be nil.
func NewRunner(registry *Registry, msgBus bus.MessageBus, history History, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		registry: registry,
		bus:      msgBus,
		history:  history,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the named action and returns its run id without waiting for
// it to finish. When runID is empty a new one is generated for history and
// frames are tagged by action name only. The run is not bound to ctx: it
// continues after the caller returns.
func (r *Runner) Start(ctx context.Context, name, runID string, params Params) (string, error) {
	if r.isClosed() {
		return "", ErrRunnerClosed
	}
	def, ok := r.registry.Get(name)
	if !ok {
		return "", apperrors.Wrap(ErrUnknownAction, apperrors.ErrCodeActionUnknown, "unknown action").
			WithContext("action", name)
	}
	echoRunID := runID != ""
	if runID == "" {
		runID = ulid.Make().String()
	} else if !ValidRunID(runID) {
		return "", apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid run id %q", runID)
	}
	if params == nil {
		params = Params{}
	}

	log := r.logger.WithRun(name, runID)
	if r.history != nil {
		err := r.history.RecordStart(ctx, storage.Run{
			ID:        runID,
			Action:    name,
			Params:    params,
			StartedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("failed to record run start", "error", err)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	r.wg.Add(1)
	r.active.Add(1)
	r.mu.Unlock()
	go r.execute(def, runID, echoRunID, params, log)

	log.Info("action started", "params", len(params))
	return runID, nil
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Active returns the number of runs in flight.
func (r *Runner) Active() int64 {
	return r.active.Load()
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels in-flight runs and waits for them until ctx expires.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(def Definition, runID string, echoRunID bool, params Params, log *logging.Logger) {
	defer r.wg.Done()
	defer r.active.Add(-1)

	ctx, span := telemetry.StartSpan(r.ctx, "actionator.run",
		trace.WithAttributes(
			telemetry.AttrAction.String(def.Name),
			telemetry.AttrRunID.String(runID),
			telemetry.AttrParamCount.Int(len(params)),
		),
	)
	defer span.End()

	emitter := &runEmitter{
		ctx:     ctx,
		action:  def.Name,
		runID:   runID,
		echo:    echoRunID,
		bus:     r.bus,
		history: r.history,
		log:     log,
	}

	started := time.Now()
	err := invoke(ctx, def.Func, params, emitter)

	status := storage.RunStatusSucceeded
	errMsg := ""
	if err != nil {
		status = storage.RunStatusFailed
		errMsg = err.Error()
		emitter.Emit("error: " + errMsg)
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
	}
	span.SetAttributes(telemetry.AttrMessageSeq.Int(emitter.Count()))

	if r.history != nil {
		// The runner context may already be cancelled on shutdown.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := r.history.Finish(finishCtx, runID, status, errMsg, time.Now().UTC()); ferr != nil {
			log.Warn("failed to record run finish", "error", ferr)
		}
		cancel()
	}

	if err != nil {
		log.Warn("action failed", "error", err, "duration", time.Since(started), "messages", emitter.Count())
		return
	}
	log.Info("action finished", "duration", time.Since(started), "messages", emitter.Count())
}

func invoke(ctx context.Context, fn Func, params Params, emit Emitter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panicked: %v", rec)
		}
	}()
	return fn(ctx, params, emit)
}

// runEmitter publishes each message as a frame and appends it to history.
// Frames carry the run id only when the client issued it. Safe for
// concurrent use; messages are numbered in the order Emit is called.
type runEmitter struct {
	ctx     context.Context
	action  string
	runID   string
	echo    bool
	bus     bus.MessageBus
	history History
	log     *logging.Logger

	mu  sync.Mutex
	seq int
}

func (e *runEmitter) Emit(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++

	frame := wire.Frame{ForFunc: e.action, Msg: msg}
	if e.echo {
		frame.RunID = e.runID
	}
	data, err := frame.Encode()
	if err != nil {
		e.log.Warn("failed to encode frame", "error", err)
		return
	}
	// Frames still flow while the run is being cancelled so the final error
	// line reaches the dashboard.
	ctx := context.WithoutCancel(e.ctx)
	pubCtx, cancel := context.WithTimeout(ctx, publishWait)
	err = e.bus.Publish(pubCtx, Subject(e.action), data)
	cancel()
	if err != nil {
		e.log.Warn("failed to publish frame", "error", err, "seq", e.seq)
	}
	if e.history != nil {
		if err := e.history.AppendMessage(ctx, e.runID, e.seq, msg, time.Now().UTC()); err != nil {
			e.log.Warn("failed to record message", "error", err, "seq", e.seq)
		}
	}
}

func (e *runEmitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
