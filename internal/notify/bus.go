// Package notify implements the farm notification bus: a best-effort,
// connectionless broadcast of small typed events between nodes.
//
// Delivery is not guaranteed, not ordered across publishers and not
// durable. Receivers treat notifications as hints to re-query
// authoritative state, never as the state itself.
package notify

import (
	"context"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/platform"
)

// Handler receives notifications. Handlers run on the bus's receive
// goroutine and must not block for long.
type Handler func(n model.Notification)

// Bus publishes and delivers farm notifications.
//
// Publish never fails the caller: implementations log and swallow
// transport errors.
type Bus interface {
	Publish(ctx context.Context, n model.Notification)
	Subscribe(h Handler) (unsubscribe func())
}

// New builds a management-channel notification originating from this process.
func New(kind model.NotificationKind, text string) model.Notification {
	return model.Notification{
		Kind:    kind,
		Channel: model.ChannelManagement,
		Text:    text,
		Origin:  platform.ProcessID(),
	}
}

// ToHub builds a notification addressed to the notification hub.
func ToHub(kind model.NotificationKind, text string) model.Notification {
	n := New(kind, text)
	n.Channel = model.ChannelHub
	return n
}

// Filter wraps h so that it only sees notifications on channel ch.
func Filter(ch model.Channel, h Handler) Handler {
	return func(n model.Notification) {
		if n.Channel == ch {
			h(n)
		}
	}
}

// Kinds wraps h so that it only sees the listed kinds.
func Kinds(h Handler, kinds ...model.NotificationKind) Handler {
	set := make(map[model.NotificationKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(n model.Notification) {
		if _, ok := set[n.Kind]; ok {
			h(n)
		}
	}
}

// subscribers is the fan-out list shared by bus implementations.
type subscribers struct {
	next     int
	handlers map[int]Handler
}

func (s *subscribers) add(h Handler) int {
	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h
	return id
}

func (s *subscribers) snapshot() []Handler {
	out := make([]Handler, 0, len(s.handlers))
	for i := 0; i < s.next; i++ {
		if h, ok := s.handlers[i]; ok {
			out = append(out, h)
		}
	}
	return out
}
