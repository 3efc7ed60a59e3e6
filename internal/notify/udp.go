package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/metrics"
	"github.com/edvin/mfafarm/internal/model"
)

// sendTimeout bounds a single datagram write so Publish never stalls the caller.
const sendTimeout = 500 * time.Millisecond

// ErrBusClosed is returned by Run after Close.
var ErrBusClosed = errors.New("notify: bus is closed")

// UDPBus broadcasts frames to a local-segment address and dispatches
// received frames to subscribers.
type UDPBus struct {
	logger zerolog.Logger
	conn   net.PacketConn
	target net.Addr

	mu     sync.Mutex
	subs   subscribers
	closed bool
}

// ListenUDP opens a broadcast-capable socket on listenAddr that publishes to target.
func ListenUDP(logger zerolog.Logger, listenAddr, target string) (*UDPBus, error) {
	taddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("notify: resolve %s: %w", target, err)
	}
	conn, err := listenBroadcast(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("notify: listen %s: %w", listenAddr, err)
	}
	return NewUDPBus(logger, conn, taddr), nil
}

// NewUDPBus wraps an existing packet connection.
func NewUDPBus(logger zerolog.Logger, conn net.PacketConn, target net.Addr) *UDPBus {
	return &UDPBus{
		logger: logger.With().Str("component", "udp-bus").Str("target", target.String()).Logger(),
		conn:   conn,
		target: target,
	}
}

// Send writes one notification to the wire and reports transport errors.
func (b *UDPBus) Send(ctx context.Context, n model.Notification) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	frame, err := EncodeFrame(n)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := b.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("notify: set deadline: %w", err)
	}
	if _, err := b.conn.WriteTo(frame, b.target); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	return nil
}

// Publish sends n and swallows any failure after logging it.
func (b *UDPBus) Publish(ctx context.Context, n model.Notification) {
	if err := b.Send(ctx, n); err != nil {
		metrics.NotificationSent(n.Kind, "error")
		b.logger.Warn().Err(err).
			Str("step", "publish").
			Str("kind", n.Kind.String()).
			Str("text", n.Text).
			Msg("notification not delivered")
		return
	}
	metrics.NotificationSent(n.Kind, "ok")
}

func (b *UDPBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.subs.add(h)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs.handlers, id)
	}
}

// Run reads frames until ctx is cancelled or the bus is closed.
// Malformed frames are dropped.
func (b *UDPBus) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Close()
	}()

	buf := make([]byte, MaxFrameSize)
	for {
		nr, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return ErrBusClosed
			}
			b.logger.Warn().Err(err).Msg("read failed")
			continue
		}

		n, err := DecodeFrame(buf[:nr])
		if err != nil {
			metrics.NotificationReceived(n.Kind, "dropped")
			b.logger.Debug().Err(err).Str("from", from.String()).Msg("dropping malformed frame")
			continue
		}
		metrics.NotificationReceived(n.Kind, "ok")
		b.dispatch(n)
	}
}

func (b *UDPBus) dispatch(n model.Notification) {
	b.mu.Lock()
	handlers := b.subs.snapshot()
	b.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

// Close stops the receive loop. It is safe to call more than once.
func (b *UDPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}
