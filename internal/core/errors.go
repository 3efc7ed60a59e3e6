package core

import "errors"

// Distinguished failure kinds surfaced by the control plane. Callers test
// them with errors.Is; the wrapped cause stays available in the message.
var (
	// ErrPlatformUnsupported means the local node is not a member of a
	// supported federation platform.
	ErrPlatformUnsupported = errors.New("platform not supported")

	// ErrFarmNotInitialized means the operation needs a farm topology that
	// was never discovered, or no configuration could be loaded.
	ErrFarmNotInitialized = errors.New("farm not initialized")

	// ErrConfigurationUnavailable means reading or writing the durable
	// configuration store failed.
	ErrConfigurationUnavailable = errors.New("configuration unavailable")

	// ErrServiceTransitionTimeout means a service did not reach its
	// target state in time.
	ErrServiceTransitionTimeout = errors.New("service transition timed out")

	// ErrProvisioningFailure means a schema or credential step failed.
	ErrProvisioningFailure = errors.New("provisioning failed")

	// ErrNotSupported means the operation conflicts with the store mode or
	// key policy in effect.
	ErrNotSupported = errors.New("not supported")
)

var (
	// ErrAlreadyRegistered is returned by Register when a farm configuration exists.
	ErrAlreadyRegistered = errors.New("provider already registered")

	// ErrUnknownNode is returned when a named node is not in the topology.
	ErrUnknownNode = errors.New("node not in farm topology")
)
