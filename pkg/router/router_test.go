package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/actionator/pkg/wire"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(f wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, f.Msg)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func frame(t *testing.T, forFunc, msg string) []byte {
	t.Helper()
	data, err := wire.Frame{ForFunc: forFunc, Msg: msg}.Encode()
	require.NoError(t, err)
	return data
}

func TestDispatchDeliversEveryFrameInOrder(t *testing.T) {
	r := New(NewPipe(1), Options{})
	rec := &recorder{}
	r.Subscribe("deploy", rec.handle)

	var want []string
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("step%d", i)
		want = append(want, msg)
		r.Dispatch(context.Background(), frame(t, "deploy", msg))
	}
	assert.Equal(t, want, rec.got())
}

func TestDispatchIgnoresOtherTags(t *testing.T) {
	r := New(NewPipe(1), Options{})
	deploy := &recorder{}
	other := &recorder{}
	r.Subscribe("deploy", deploy.handle)
	r.Subscribe("other", other.handle)

	ctx := context.Background()
	r.Dispatch(ctx, frame(t, "deploy", "step1"))
	r.Dispatch(ctx, frame(t, "other", "x"))
	r.Dispatch(ctx, frame(t, "deploy", "step2"))
	r.Dispatch(ctx, frame(t, "nobody", "dropped"))

	assert.Equal(t, []string{"step1", "step2"}, deploy.got())
	assert.Equal(t, []string{"x"}, other.got())
}

func TestDispatchFansOutInRegistrationOrder(t *testing.T) {
	r := New(NewPipe(1), Options{})
	var order []string
	r.Subscribe("deploy", func(f wire.Frame) { order = append(order, "first:"+f.Msg) })
	r.Subscribe("deploy", func(f wire.Frame) { order = append(order, "second:"+f.Msg) })
	r.Subscribe("deploy", func(f wire.Frame) { order = append(order, "third:"+f.Msg) })

	r.Dispatch(context.Background(), frame(t, "deploy", "a"))
	assert.Equal(t, []string{"first:a", "second:a", "third:a"}, order)
	assert.Equal(t, 3, r.Subscribers("deploy"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New(NewPipe(1), Options{})
	kept := &recorder{}
	gone := &recorder{}
	r.Subscribe("deploy", kept.handle)
	sub := r.Subscribe("deploy", gone.handle)

	ctx := context.Background()
	r.Dispatch(ctx, frame(t, "deploy", "step1"))
	sub.Unsubscribe()
	sub.Unsubscribe()
	r.Unsubscribe(nil)
	r.Dispatch(ctx, frame(t, "deploy", "step2"))

	assert.Equal(t, []string{"step1"}, gone.got())
	assert.Equal(t, []string{"step1", "step2"}, kept.got())
	assert.Equal(t, 1, r.Subscribers("deploy"))
}

func TestUnsubscribeFromHandlerDuringDispatch(t *testing.T) {
	r := New(NewPipe(1), Options{})
	later := &recorder{}
	var self *Subscription
	calls := 0
	self = r.Subscribe("deploy", func(wire.Frame) {
		calls++
		self.Unsubscribe()
	})
	r.Subscribe("deploy", later.handle)

	ctx := context.Background()
	r.Dispatch(ctx, frame(t, "deploy", "one"))
	r.Dispatch(ctx, frame(t, "deploy", "two"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"one", "two"}, later.got())
}

func TestDispatchRoutesByRunIDWhenPresent(t *testing.T) {
	r := New(NewPipe(1), Options{})
	byName := &recorder{}
	byRun := &recorder{}
	r.Subscribe("deploy", byName.handle)
	r.Subscribe("01RUN", byRun.handle)

	data, err := wire.Frame{ForFunc: "deploy", RunID: "01RUN", Msg: "tagged"}.Encode()
	require.NoError(t, err)
	r.Dispatch(context.Background(), data)

	assert.Equal(t, []string{"tagged"}, byRun.got())
	assert.Empty(t, byName.got())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	r := New(NewPipe(1), Options{})
	rec := &recorder{}
	r.Subscribe("deploy", rec.handle)

	ctx := context.Background()
	r.Dispatch(ctx, []byte("not json"))
	r.Dispatch(ctx, []byte(`{"msg":"no tag"}`))
	r.Dispatch(ctx, frame(t, "deploy", "ok"))

	assert.Equal(t, []string{"ok"}, rec.got())
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	r := New(NewPipe(1), Options{})
	rec := &recorder{}
	r.Subscribe("deploy", func(wire.Frame) { panic("boom") })
	r.Subscribe("deploy", rec.handle)

	assert.NotPanics(t, func() {
		r.Dispatch(context.Background(), frame(t, "deploy", "still delivered"))
	})
	assert.Equal(t, []string{"still delivered"}, rec.got())
}

func TestInitReadsChannelUntilShutdown(t *testing.T) {
	pipe := NewPipe(8)
	r := New(pipe, Options{})
	received := make(chan string, 8)
	r.Subscribe("deploy", func(f wire.Frame) { received <- f.Msg })

	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	require.ErrorIs(t, r.Init(ctx), ErrAlreadyStarted)

	require.NoError(t, pipe.Send(ctx, frame(t, "deploy", "step1")))
	require.NoError(t, pipe.Send(ctx, frame(t, "other", "x")))
	require.NoError(t, pipe.Send(ctx, frame(t, "deploy", "step2")))

	for _, want := range []string{"step1", "step2"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
	require.NoError(t, r.Shutdown(shutdownCtx))
	require.ErrorIs(t, r.Init(ctx), ErrShutdown)
	assert.NoError(t, r.Err())

	select {
	case <-r.Done():
	default:
		t.Fatal("expected dispatch loop to have exited")
	}
	assert.ErrorIs(t, pipe.Send(ctx, frame(t, "deploy", "late")), ErrChannelClosed)
}

type failingChannel struct{ err error }

func (c failingChannel) Read(context.Context) ([]byte, error) { return nil, c.err }
func (c failingChannel) Close() error                         { return nil }

func TestChannelFailureStopsDelivery(t *testing.T) {
	boom := fmt.Errorf("connection reset")
	r := New(failingChannel{err: boom}, Options{})
	require.NoError(t, r.Init(context.Background()))

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
	assert.ErrorIs(t, r.Err(), boom)
}

func TestShutdownWithoutInitClosesChannel(t *testing.T) {
	pipe := NewPipe(1)
	r := New(pipe, Options{})
	require.NoError(t, r.Shutdown(context.Background()))

	_, err := pipe.Read(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)
}
