package model

// ServiceState is the observed run-state of an OS-level farm service.
type ServiceState int

const (
	ServiceUnknown ServiceState = iota
	ServicePending
	ServiceRunning
	ServiceStopped
	ServiceError
)

func (s ServiceState) String() string {
	switch s {
	case ServicePending:
		return "pending"
	case ServiceRunning:
		return "running"
	case ServiceStopped:
		return "stopped"
	case ServiceError:
		return "error"
	default:
		return "unknown"
	}
}

// ConfigState is the lifecycle state of the shared configuration.
type ConfigState int

const (
	ConfigUnknown ConfigState = iota
	ConfigLoaded
	ConfigDirty
	ConfigSaved
	ConfigStopped
	ConfigError
)

func (s ConfigState) String() string {
	switch s {
	case ConfigLoaded:
		return "loaded"
	case ConfigDirty:
		return "dirty"
	case ConfigSaved:
		return "saved"
	case ConfigStopped:
		return "stopped"
	case ConfigError:
		return "error"
	default:
		return "unknown"
	}
}

// Service identifies one of the two services the control plane manages.
type Service string

const (
	// ServiceMFA is the authentication add-on host service.
	ServiceMFA Service = "mfa"
	// ServiceNotifHub is the companion notification hub.
	ServiceNotifHub Service = "notifhub"
)
