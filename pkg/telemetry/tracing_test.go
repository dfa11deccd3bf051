package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("actionator-test", "test", &buf)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "actionator.test.span")
	span.SetAttributes(AttrAction.String("deploy"), AttrRunID.String("01HRUN"))
	RecordError(ctx, errors.New("boom"))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "actionator.test.span")
	assert.Contains(t, out, "deploy")
	assert.Contains(t, out, "actionator-test")
}

func TestNilProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(context.Background(), nil)
	})
}
