package ipc

import (
	"context"
	"sync"

	"github.com/odvcencio/actionator/pkg/action"
	"github.com/odvcencio/actionator/pkg/bus"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/wire"
)

// BusBridge forwards run frames from the MessageBus to the push Hub. With a
// NATS bus every server sharing the subject tree sees every run.
type BusBridge struct {
	bus    bus.MessageBus
	hub    *Hub
	logger *logging.Logger
	subs   []bus.Subscription
	mu     sync.Mutex
}

// NewBusBridge creates a bridge between MessageBus and IPC Hub.
func NewBusBridge(b bus.MessageBus, h *Hub, logger *logging.Logger) *BusBridge {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BusBridge{
		bus:    b,
		hub:    h,
		logger: logger,
	}
}

// Start subscribes to every run subject.
func (br *BusBridge) Start(ctx context.Context) error {
	sub, err := br.bus.Subscribe(ctx, action.SubjectPrefix+">", br.forwardToHub)
	if err != nil {
		return err
	}
	br.mu.Lock()
	br.subs = append(br.subs, sub)
	br.mu.Unlock()
	return nil
}

// Stop unsubscribes from all MessageBus subjects.
func (br *BusBridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, sub := range br.subs {
		_ = sub.Unsubscribe()
	}
	br.subs = nil
}

func (br *BusBridge) forwardToHub(msg *bus.Message) {
	frame, err := wire.DecodeFrame(msg.Data)
	if err != nil || frame.ForFunc == "" {
		metricBridgeMalformed.Inc()
		br.logger.Warn("dropping malformed frame", "subject", msg.Subject, "error", err)
		return
	}
	br.hub.Broadcast(frame)
}
