//go:build windows

package svcctl

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// SCM implements Controller against the Windows service control manager,
// locally or on a remote node.
type SCM struct {
	logger zerolog.Logger
}

// NewSCM creates a Controller backed by the service control manager.
func NewSCM(logger zerolog.Logger) *SCM {
	return &SCM{logger: logger.With().Str("svc_ctl", "scm").Logger()}
}

func connect(node string) (*mgr.Mgr, error) {
	if node == "" {
		return mgr.Connect()
	}
	return mgr.ConnectRemote(node)
}

func (s *SCM) open(service, node string) (*mgr.Mgr, *mgr.Service, error) {
	m, err := connect(node)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to service manager on %s: %w", nodeLabel(node), err)
	}
	h, err := m.OpenService(service)
	if err != nil {
		m.Disconnect()
		return nil, nil, fmt.Errorf("open service %s on %s: %w", service, nodeLabel(node), err)
	}
	return m, h, nil
}

func (s *SCM) Query(_ context.Context, service, node string) (Status, error) {
	m, h, err := s.open(service, node)
	if err != nil {
		return StatusUnknown, err
	}
	defer m.Disconnect()
	defer h.Close()

	st, err := h.Query()
	if err != nil {
		return StatusUnknown, fmt.Errorf("query %s: %w", service, err)
	}
	return fromState(st.State), nil
}

func (s *SCM) Start(_ context.Context, service, node string) error {
	m, h, err := s.open(service, node)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer h.Close()

	s.logger.Debug().Str("service", service).Str("node", nodeLabel(node)).Msg("start")
	if err := h.Start(); err != nil {
		return fmt.Errorf("start %s: %w", service, err)
	}
	return nil
}

func (s *SCM) Stop(_ context.Context, service, node string) error {
	m, h, err := s.open(service, node)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer h.Close()

	s.logger.Debug().Str("service", service).Str("node", nodeLabel(node)).Msg("stop")
	if _, err := h.Control(svc.Stop); err != nil {
		return fmt.Errorf("stop %s: %w", service, err)
	}
	return nil
}

func fromState(st svc.State) Status {
	switch st {
	case svc.Stopped:
		return StatusStopped
	case svc.StartPending, svc.ContinuePending:
		return StatusStartPending
	case svc.StopPending, svc.PausePending:
		return StatusStopPending
	case svc.Running:
		return StatusRunning
	case svc.Paused:
		return StatusPaused
	default:
		return StatusUnknown
	}
}
