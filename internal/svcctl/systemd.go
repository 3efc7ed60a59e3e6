package svcctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Systemd implements Controller using systemctl. Remote nodes are reached
// with systemctl's -H transport.
type Systemd struct {
	logger zerolog.Logger
	run    func(ctx context.Context, args ...string) ([]byte, error)
}

// NewSystemd creates a Controller backed by systemd.
func NewSystemd(logger zerolog.Logger) *Systemd {
	return &Systemd{
		logger: logger.With().Str("svc_ctl", "systemd").Logger(),
		run:    sysctl,
	}
}

func (s *Systemd) args(node string, args ...string) []string {
	if node == "" {
		return args
	}
	return append([]string{"-H", node}, args...)
}

func (s *Systemd) Query(ctx context.Context, service, node string) (Status, error) {
	// is-active exits non-zero for every state but "active"; the state is still on stdout.
	out, err := s.run(ctx, s.args(node, "is-active", service)...)
	state := strings.TrimSpace(string(out))
	switch state {
	case "active", "reloading":
		return StatusRunning, nil
	case "activating":
		return StatusStartPending, nil
	case "deactivating":
		return StatusStopPending, nil
	case "inactive", "failed":
		return StatusStopped, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("query %s: %w", service, err)
	}
	return StatusUnknown, nil
}

func (s *Systemd) Start(ctx context.Context, service, node string) error {
	s.logger.Debug().Str("unit", service).Str("node", nodeLabel(node)).Msg("start")
	_, err := s.run(ctx, s.args(node, "start", service)...)
	return err
}

func (s *Systemd) Stop(ctx context.Context, service, node string) error {
	s.logger.Debug().Str("unit", service).Str("node", nodeLabel(node)).Msg("stop")
	_, err := s.run(ctx, s.args(node, "stop", service)...)
	return err
}

func sysctl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("systemctl %v: %s: %w", args, strings.TrimSpace(string(output)), err)
	}
	return output, nil
}
