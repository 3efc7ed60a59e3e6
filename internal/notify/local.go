package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/metrics"
	"github.com/edvin/mfafarm/internal/model"
)

// LocalBus delivers notifications synchronously to in-process subscribers.
// It backs single-node setups and tests.
type LocalBus struct {
	logger zerolog.Logger
	mu     sync.Mutex
	subs   subscribers
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(logger zerolog.Logger) *LocalBus {
	return &LocalBus{logger: logger.With().Str("component", "local-bus").Logger()}
}

func (b *LocalBus) Publish(_ context.Context, n model.Notification) {
	b.mu.Lock()
	handlers := b.subs.snapshot()
	b.mu.Unlock()

	metrics.NotificationSent(n.Kind, "ok")
	for _, h := range handlers {
		metrics.NotificationReceived(n.Kind, "ok")
		h(n)
	}
}

func (b *LocalBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.subs.add(h)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs.handlers, id)
	}
}
