// Package svcctl wraps the operating system's service-control primitive:
// query, start and stop a named service on the local or a remote node.
package svcctl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the service-control state of a service.
type Status int

const (
	StatusUnknown Status = iota
	StatusStopped
	StatusStartPending
	StatusStopPending
	StatusRunning
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStartPending:
		return "start-pending"
	case StatusStopPending:
		return "stop-pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrTimeout is returned by WaitForStatus when the target state is not
// reached in time.
var ErrTimeout = errors.New("timed out waiting for service status")

// Controller abstracts the init system. An empty node addresses the local machine.
//
// Windows nodes use SCM. Linux development nodes use Systemd.
type Controller interface {
	// Query returns the current status of service on node.
	Query(ctx context.Context, service, node string) (Status, error)

	// Start asks the init system to start service. It does not wait.
	Start(ctx context.Context, service, node string) error

	// Stop asks the init system to stop service. It does not wait.
	Stop(ctx context.Context, service, node string) error
}

// PollInterval is how often WaitForStatus re-queries the service.
var PollInterval = 250 * time.Millisecond

// WaitForStatus polls until service on node reports want or timeout elapses.
func WaitForStatus(ctx context.Context, c Controller, service, node string, want Status, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	last := StatusUnknown
	for {
		st, err := c.Query(ctx, service, node)
		if err == nil {
			last = st
			if st == want {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s on %s is %s, want %s", ErrTimeout, service, nodeLabel(node), last, want)
		case <-ticker.C:
		}
	}
}

func nodeLabel(node string) string {
	if node == "" {
		return "local"
	}
	return node
}
