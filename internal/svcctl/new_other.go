//go:build !windows

package svcctl

import (
	"errors"

	"github.com/rs/zerolog"
)

func newSCM(zerolog.Logger) (Controller, error) {
	return nil, errors.New("the service control manager is only available on windows")
}
