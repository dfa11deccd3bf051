package router

import (
	"context"
	stdliberrors "errors"
	"sync"
)

// ErrChannelClosed is returned by Read once a channel has been closed.
var ErrChannelClosed = stdliberrors.New("push channel closed")

// Channel is the inbound side of the shared push connection. Read blocks
// until a frame arrives; an error ends delivery.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Pipe is an in-process Channel. Frames sent on it are read in order.
type Pipe struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPipe creates a Pipe that buffers up to size frames.
func NewPipe(size int) *Pipe {
	return &Pipe{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// Send queues a frame, blocking while the buffer is full.
func (p *Pipe) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case p.frames <- data:
		return nil
	case <-p.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.frames:
		return data, nil
	case <-p.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
