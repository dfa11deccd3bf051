package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputAppendAndRender(t *testing.T) {
	out := NewOutput()
	assert.Equal(t, "", out.Render())

	out.Append("step1")
	out.Append("step2")

	assert.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"step1", "step2"}, out.Lines())
	assert.Equal(t, "step1\nstep2", out.Render())

	lines := out.Lines()
	lines[0] = "mutated"
	assert.Equal(t, "step1", out.Lines()[0])
}

func TestOutputWait(t *testing.T) {
	out := NewOutput()
	go func() {
		time.Sleep(10 * time.Millisecond)
		out.Append("a")
		out.Append("b")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lines, err := out.Wait(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestOutputWaitTimesOut(t *testing.T) {
	out := NewOutput()
	out.Append("only")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	lines, err := out.Wait(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"only"}, lines)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
