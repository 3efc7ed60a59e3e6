//go:build windows

package svcctl

import "github.com/rs/zerolog"

func newSCM(logger zerolog.Logger) (Controller, error) {
	return NewSCM(logger), nil
}
