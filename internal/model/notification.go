package model

// NotificationKind enumerates the farm-wide events carried by the notification bus.
type NotificationKind byte

const (
	NotifyServicePending NotificationKind = iota + 1
	NotifyServiceRunning
	NotifyServiceStopped
	NotifyServiceInError
	NotifyConfigCreated
	NotifyConfigReload
	NotifyConfigDeleted
	NotifyNodeRegistered
	// NotifyNodeInformation asks the notification hub to collect and
	// broadcast information about a node.
	NotifyNodeInformation
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyServicePending:
		return "service_pending"
	case NotifyServiceRunning:
		return "service_running"
	case NotifyServiceStopped:
		return "service_stopped"
	case NotifyServiceInError:
		return "service_in_error"
	case NotifyConfigCreated:
		return "config_created"
	case NotifyConfigReload:
		return "config_reload"
	case NotifyConfigDeleted:
		return "config_deleted"
	case NotifyNodeRegistered:
		return "node_registered"
	case NotifyNodeInformation:
		return "node_information"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k NotificationKind) Valid() bool {
	return k >= NotifyServicePending && k <= NotifyNodeInformation
}

// Channel names the consumer role a notification is addressed to.
type Channel string

const (
	// ChannelManagement reaches management consumers (agents, consoles).
	ChannelManagement Channel = "MGT"
	// ChannelHub reaches the notification hub service.
	ChannelHub Channel = "NOT"
)

// Notification is an ephemeral farm event. It is never persisted.
// Text usually carries a node name. Service is set on service state events.
type Notification struct {
	Kind    NotificationKind `cbor:"1,keyasint"`
	Channel Channel          `cbor:"2,keyasint"`
	Text    string           `cbor:"3,keyasint"`
	Origin  string           `cbor:"4,keyasint"`
	Service Service          `cbor:"5,keyasint,omitempty"`
}

// ServiceStateFor maps a service notification kind to the state it announces.
func ServiceStateFor(k NotificationKind) (ServiceState, bool) {
	switch k {
	case NotifyServicePending:
		return ServicePending, true
	case NotifyServiceRunning:
		return ServiceRunning, true
	case NotifyServiceStopped:
		return ServiceStopped, true
	case NotifyServiceInError:
		return ServiceError, true
	}
	return ServiceUnknown, false
}
