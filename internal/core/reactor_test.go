package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
)

func newReactor(h *harness) *Reactor {
	return NewReactor(h.configs, h.services, h.topology, zerolog.Nop(), localFQDN, 0)
}

func TestReactor_ReloadOnRemoteSave(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)

	updated := h.store.Stored()
	updated.Theme.Name = "contoso"
	h.store.cfg = updated

	r.Handle(context.Background(), remote(model.NotifyConfigReload, remoteFQDN))
	assert.Equal(t, "contoso", h.configs.Current().Theme.Name)
}

func TestReactor_IgnoresOwnConfigNotifications(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)
	reads := h.store.reads

	r.Handle(context.Background(), notify.New(model.NotifyConfigReload, localFQDN))
	assert.Equal(t, reads, h.store.reads)
}

func TestReactor_ConfigDeleted(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)

	r.Handle(context.Background(), remote(model.NotifyConfigDeleted, remoteFQDN))
	assert.False(t, h.configs.Loaded())
	assert.True(t, h.cache.deleted)
}

func TestReactor_ServiceNotification(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)

	n := remote(model.NotifyServiceStopped, remoteFQDN)
	n.Service = model.ServiceMFA
	r.Handle(context.Background(), n)
	assert.Equal(t, model.ServiceStopped, h.services.State(model.ServiceMFA, remoteFQDN))
}

func TestReactor_NodeInformationForThisNode(t *testing.T) {
	h := loadedHarness(t)
	cfg := h.store.Stored()
	cfg.Farm.Nodes = cfg.Farm.Nodes[1:]
	h.store.cfg = cfg
	require.NoError(t, h.configs.Reload(context.Background()))
	h.bus.Reset()
	r := newReactor(h)

	r.Handle(context.Background(), notify.ToHub(model.NotifyNodeInformation, "adfs1"))
	assert.Contains(t, h.store.Stored().Farm.Names(), localFQDN)
	assert.Equal(t, 1, h.bus.Count(model.NotifyNodeRegistered))
}

func TestReactor_NodeInformationForOtherNode(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)

	r.Handle(context.Background(), notify.ToHub(model.NotifyNodeInformation, "adfs9.corp.local"))
	assert.Zero(t, h.store.writes)
	assert.Empty(t, h.bus.sent)
}

func TestReactor_RunDrainsQueue(t *testing.T) {
	h := loadedHarness(t)
	farm := notify.NewLocalBus(zerolog.Nop())
	r := newReactor(h)
	unsubscribe := r.Attach(farm)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	farm.Publish(ctx, remote(model.NotifyConfigDeleted, remoteFQDN))
	assert.Eventually(t, func() bool { return !h.configs.Loaded() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop")
	}
}

func TestReactor_RefreshSavesOnlyOnChange(t *testing.T) {
	h := loadedHarness(t)
	r := newReactor(h)
	ctx := context.Background()

	r.refreshTopology(ctx)
	require.Equal(t, 1, h.bus.Count(model.NotifyConfigReload))
	writes := h.store.writes

	for i := 0; i < 3; i++ {
		r.refreshTopology(ctx)
	}
	assert.Equal(t, writes, h.store.writes)
	assert.Equal(t, 1, h.bus.Count(model.NotifyConfigReload))
}
