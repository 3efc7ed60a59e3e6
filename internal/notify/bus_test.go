package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/platform"
)

func TestNew_SetsOriginAndChannel(t *testing.T) {
	n := New(model.NotifyConfigCreated, "adfs1")
	assert.Equal(t, model.ChannelManagement, n.Channel)
	assert.Equal(t, platform.ProcessID(), n.Origin)
	assert.Equal(t, "adfs1", n.Text)

	h := ToHub(model.NotifyNodeInformation, "adfs2")
	assert.Equal(t, model.ChannelHub, h.Channel)
}

func TestLocalBus_FanOutAndUnsubscribe(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx := context.Background()

	var a, b []model.NotificationKind
	unsubA := bus.Subscribe(func(n model.Notification) { a = append(a, n.Kind) })
	bus.Subscribe(func(n model.Notification) { b = append(b, n.Kind) })

	bus.Publish(ctx, New(model.NotifyServicePending, "x"))
	unsubA()
	bus.Publish(ctx, New(model.NotifyServiceRunning, "x"))

	assert.Equal(t, []model.NotificationKind{model.NotifyServicePending}, a)
	assert.Equal(t, []model.NotificationKind{model.NotifyServicePending, model.NotifyServiceRunning}, b)
}

func TestFilterAndKinds(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx := context.Background()

	var hub, reloads int
	bus.Subscribe(Filter(model.ChannelHub, func(model.Notification) { hub++ }))
	bus.Subscribe(Kinds(func(model.Notification) { reloads++ }, model.NotifyConfigReload))

	bus.Publish(ctx, New(model.NotifyConfigReload, ""))
	bus.Publish(ctx, ToHub(model.NotifyNodeInformation, "adfs2"))
	bus.Publish(ctx, New(model.NotifyServiceRunning, ""))

	assert.Equal(t, 1, hub)
	assert.Equal(t, 1, reloads)
}
