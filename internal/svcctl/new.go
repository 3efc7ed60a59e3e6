package svcctl

import (
	"fmt"

	"github.com/rs/zerolog"
)

// New selects the Controller for initSystem ("scm" or "systemd").
func New(logger zerolog.Logger, initSystem string) (Controller, error) {
	switch initSystem {
	case "systemd":
		return NewSystemd(logger), nil
	case "scm":
		return newSCM(logger)
	default:
		return nil, fmt.Errorf("unknown init system %q", initSystem)
	}
}
