package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/metrics"
	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
	"github.com/edvin/mfafarm/internal/svcctl"
)

// ServiceObserver is called on every service state transition. node is
// empty for the local node. err is set on transitions to ServiceError.
type ServiceObserver func(svc model.Service, node string, state model.ServiceState, err error)

// ServiceSpec binds a managed service to its OS service name and start timeout.
type ServiceSpec struct {
	Name    string
	Timeout time.Duration
}

type serviceKey struct {
	svc  model.Service
	node string
}

// ServiceController tracks the run state of the MFA service and the
// notification hub, locally and on remote nodes.
type ServiceController struct {
	ctl       svcctl.Controller
	bus       notify.Bus
	logger    zerolog.Logger
	specs     map[model.Service]ServiceSpec
	localName string

	mu        sync.Mutex
	states    map[serviceKey]model.ServiceState
	observers []ServiceObserver
}

// NewServiceController creates a ServiceController. localName is the name
// carried by notifications about the local node.
func NewServiceController(ctl svcctl.Controller, bus notify.Bus, logger zerolog.Logger, specs map[model.Service]ServiceSpec, localName string) *ServiceController {
	c := &ServiceController{
		ctl:       ctl,
		bus:       bus,
		logger:    logger.With().Str("component", "service-state").Logger(),
		specs:     specs,
		localName: localName,
		states:    make(map[serviceKey]model.ServiceState),
	}
	c.observers = []ServiceObserver{c.record}
	return c
}

// Observe installs an additional observer. The built-in observer that
// records state always runs first.
func (c *ServiceController) Observe(o ServiceObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the last observed state of svc on node.
func (c *ServiceController) State(svc model.Service, node string) model.ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[serviceKey{svc, normalizeNode(node)}]
}

func (c *ServiceController) record(svc model.Service, node string, state model.ServiceState, _ error) {
	c.mu.Lock()
	c.states[serviceKey{svc, node}] = state
	c.mu.Unlock()
	metrics.ObserveServiceState(svc, c.label(node), state)
}

func (c *ServiceController) emit(svc model.Service, node string, state model.ServiceState, err error) {
	c.mu.Lock()
	obs := append([]ServiceObserver(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range obs {
		o(svc, node, state, err)
	}
}

func (c *ServiceController) broadcast(ctx context.Context, svc model.Service, node string, kind model.NotificationKind) {
	n := notify.New(kind, c.label(node))
	n.Service = svc
	c.bus.Publish(ctx, n)
}

// transition records state locally and announces it on the bus.
func (c *ServiceController) transition(ctx context.Context, svc model.Service, node string, state model.ServiceState, kind model.NotificationKind, err error) {
	c.emit(svc, node, state, err)
	c.broadcast(ctx, svc, node, kind)
}

func (c *ServiceController) label(node string) string {
	if node == "" {
		return c.localName
	}
	return node
}

func (c *ServiceController) spec(svc model.Service) (ServiceSpec, error) {
	s, ok := c.specs[svc]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("unknown service %q", svc)
	}
	return s, nil
}

func normalizeNode(node string) string {
	if platform.IsLocal(node) {
		return ""
	}
	return node
}

// Start brings svc up on node (empty for local). It announces Pending, skips
// the start request when the service is already running or starting, waits
// for Running and announces the outcome. Failures are announced before
// they are returned.
func (c *ServiceController) Start(ctx context.Context, svc model.Service, node string) error {
	return c.drive(ctx, svc, normalizeNode(node), true)
}

// Stop is the mirror of Start targeting the stopped state.
func (c *ServiceController) Stop(ctx context.Context, svc model.Service, node string) error {
	return c.drive(ctx, svc, normalizeNode(node), false)
}

// Restart fully stops then starts svc on node.
func (c *ServiceController) Restart(ctx context.Context, svc model.Service, node string) error {
	if err := c.Stop(ctx, svc, node); err != nil {
		return err
	}
	return c.Start(ctx, svc, node)
}

func (c *ServiceController) drive(ctx context.Context, svc model.Service, node string, up bool) error {
	spec, err := c.spec(svc)
	if err != nil {
		return err
	}

	c.transition(ctx, svc, node, model.ServicePending, model.NotifyServicePending, nil)

	if err := c.reach(ctx, spec, node, up); err != nil {
		c.logger.Error().Err(err).Str("service", spec.Name).Str("node", c.label(node)).Msg("service transition failed")
		c.transition(ctx, svc, node, model.ServiceError, model.NotifyServiceInError, err)
		return err
	}

	if up {
		c.transition(ctx, svc, node, model.ServiceRunning, model.NotifyServiceRunning, nil)
	} else {
		c.transition(ctx, svc, node, model.ServiceStopped, model.NotifyServiceStopped, nil)
	}
	return nil
}

func (c *ServiceController) reach(ctx context.Context, spec ServiceSpec, node string, up bool) error {
	target, pending := svcctl.StatusRunning, svcctl.StatusStartPending
	request := c.ctl.Start
	if !up {
		target, pending = svcctl.StatusStopped, svcctl.StatusStopPending
		request = c.ctl.Stop
	}

	st, err := c.ctl.Query(ctx, spec.Name, node)
	if err != nil {
		return fmt.Errorf("query %s: %w", spec.Name, err)
	}
	if st == target {
		return nil
	}
	if st != pending {
		if err := request(ctx, spec.Name, node); err != nil {
			return fmt.Errorf("request %s %s: %w", spec.Name, target, err)
		}
	}
	if err := svcctl.WaitForStatus(ctx, c.ctl, spec.Name, node, target, spec.Timeout); err != nil {
		if errors.Is(err, svcctl.ErrTimeout) {
			return fmt.Errorf("%w: %w", ErrServiceTransitionTimeout, err)
		}
		return err
	}
	return nil
}

// Probe queries svc on node without recording or announcing anything.
func (c *ServiceController) Probe(ctx context.Context, svc model.Service, node string) (svcctl.Status, error) {
	spec, err := c.spec(svc)
	if err != nil {
		return svcctl.StatusUnknown, err
	}
	return c.ctl.Query(ctx, spec.Name, normalizeNode(node))
}

// IsRunning reports whether svc is running on node. Query failures count as not running.
func (c *ServiceController) IsRunning(ctx context.Context, svc model.Service, node string) bool {
	spec, err := c.spec(svc)
	if err != nil {
		return false
	}
	st, err := c.ctl.Query(ctx, spec.Name, normalizeNode(node))
	return err == nil && st == svcctl.StatusRunning
}

// IsPlatformNode reports whether node hosts the federation service at all.
func (c *ServiceController) IsPlatformNode(ctx context.Context, node string) bool {
	spec, err := c.spec(model.ServiceMFA)
	if err != nil {
		return false
	}
	_, err = c.ctl.Query(ctx, spec.Name, normalizeNode(node))
	return err == nil
}

// EnsureLocal starts the local MFA service when it is not running.
func (c *ServiceController) EnsureLocal(ctx context.Context) error {
	if !c.IsPlatformNode(ctx, "") {
		return ErrPlatformUnsupported
	}
	if c.IsRunning(ctx, model.ServiceMFA, "") {
		return nil
	}
	return c.Start(ctx, model.ServiceMFA, "")
}

// HandleNotification mirrors service state announced by other processes.
// Notifications are hints; the mirrored state is what the sender last saw.
func (c *ServiceController) HandleNotification(n model.Notification) {
	state, ok := model.ServiceStateFor(n.Kind)
	if !ok || n.Origin == platform.ProcessID() || n.Service == "" {
		return
	}
	node := n.Text
	if node == c.localName {
		node = ""
	}
	var err error
	if state == model.ServiceError {
		err = fmt.Errorf("%s reported an error on %s", n.Service, n.Text)
	}
	c.emit(n.Service, node, state, err)
}
