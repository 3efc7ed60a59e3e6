package core

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
)

const reactorQueue = 256

// Reactor applies notifications from other nodes to the local controllers.
// Bus handlers only enqueue; the work runs on the Run goroutine so a slow
// store never stalls the receive loop.
type Reactor struct {
	configs   *ConfigController
	services  *ServiceController
	topology  *TopologyManager
	logger    zerolog.Logger
	localName string
	refresh   time.Duration

	ch chan model.Notification
}

// NewReactor creates a Reactor. refresh, when positive, is the interval of
// the periodic topology refresh.
func NewReactor(configs *ConfigController, services *ServiceController, topology *TopologyManager, logger zerolog.Logger, localName string, refresh time.Duration) *Reactor {
	return &Reactor{
		configs:   configs,
		services:  services,
		topology:  topology,
		logger:    logger.With().Str("component", "reactor").Logger(),
		localName: localName,
		refresh:   refresh,
		ch:        make(chan model.Notification, reactorQueue),
	}
}

// Attach subscribes the reactor to bus and returns the unsubscribe func.
func (r *Reactor) Attach(bus notify.Bus) func() {
	return bus.Subscribe(r.enqueue)
}

func (r *Reactor) enqueue(n model.Notification) {
	select {
	case r.ch <- n:
	default:
		r.logger.Warn().Str("kind", n.Kind.String()).Msg("reactor queue full, dropping notification")
	}
}

// Run processes queued notifications until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.refresh > 0 {
		ticker := time.NewTicker(r.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}
	r.logger.Info().Dur("refresh", r.refresh).Msg("reactor started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reactor stopped")
			return
		case n := <-r.ch:
			r.Handle(ctx, n)
		case <-tick:
			r.refreshTopology(ctx)
		}
	}
}

// Handle applies one notification synchronously.
func (r *Reactor) Handle(ctx context.Context, n model.Notification) {
	if _, ok := model.ServiceStateFor(n.Kind); ok {
		r.services.HandleNotification(n)
		return
	}

	if n.Channel == model.ChannelHub {
		if n.Kind == model.NotifyNodeInformation && r.addressedHere(n.Text) {
			if err := r.topology.RegisterLocal(ctx); err != nil {
				r.logger.Error().Err(err).Msg("register local node failed")
			}
		}
		return
	}

	if n.Origin == platform.ProcessID() {
		return
	}

	switch n.Kind {
	case model.NotifyConfigCreated, model.NotifyConfigReload, model.NotifyNodeRegistered:
		if err := r.configs.Reload(ctx); err != nil {
			r.logger.Warn().Err(err).Str("kind", n.Kind.String()).Str("from", n.Text).Msg("reload after notification failed")
		}
	case model.NotifyConfigDeleted:
		r.configs.Clear()
	}
}

func (r *Reactor) addressedHere(name string) bool {
	if platform.IsLocal(name) {
		return true
	}
	if strings.EqualFold(name, r.localName) {
		return true
	}
	short, _, _ := strings.Cut(r.localName, ".")
	return strings.EqualFold(name, short)
}

func (r *Reactor) refreshTopology(ctx context.Context) {
	if !r.configs.Loaded() {
		return
	}
	primary, err := r.topology.IsPrimary(ctx)
	if err != nil || !primary {
		return
	}
	if _, err := r.topology.Discover(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("periodic topology refresh failed")
		return
	}
	if cfg := r.configs.Current(); cfg != nil && cfg.Dirty {
		if err := r.configs.Save(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("save refreshed topology failed")
		}
	}
}
