package model

import "fmt"

// ResourceState is the lifecycle state the management API reports for a codespace.
type ResourceState string

const (
	ResourceStateAvailable ResourceState = "Available"
	ResourceStateStarting  ResourceState = "Starting"
	ResourceStateShutdown  ResourceState = "Shutdown"
	ResourceStateUnknown   ResourceState = "Unknown"
)

// ParseResourceState folds the provider's fine-grained state strings into the
// four states the bot reasons about. Unrecognized values map to Unknown.
func ParseResourceState(raw string) ResourceState {
	switch raw {
	case "Available":
		return ResourceStateAvailable
	case "Starting", "Queued", "Provisioning", "Awaiting", "Rebuilding", "Updating", "Created", "Exporting", "Moved":
		return ResourceStateStarting
	case "Shutdown", "ShuttingDown", "Deleted", "Archived", "Unavailable":
		return ResourceStateShutdown
	default:
		return ResourceStateUnknown
	}
}

// NotificationMode selects where owner notifications are delivered.
type NotificationMode string

const (
	NotifyDM       NotificationMode = "dm"
	NotifyChannel  NotificationMode = "channel"
	NotifyDisabled NotificationMode = "disabled"
)

// ParseNotificationMode validates a user-supplied notification mode.
func ParseNotificationMode(s string) (NotificationMode, error) {
	switch NotificationMode(s) {
	case NotifyDM, NotifyChannel, NotifyDisabled:
		return NotificationMode(s), nil
	default:
		return "", fmt.Errorf("unknown notification mode %q", s)
	}
}

// EndpointKind distinguishes the provider-issued URL from tunnel URLs.
type EndpointKind string

const (
	// EndpointAuthoritative is the provider's canonical URL, guaranteed to map
	// to the current boot of the machine.
	EndpointAuthoritative EndpointKind = "authoritative"
	// EndpointSecondary is a tunnel URL that may be stale or flap.
	EndpointSecondary EndpointKind = "secondary"
)

// WakeOutcome is the terminal state of a wake campaign.
type WakeOutcome string

const (
	WakeReady                WakeOutcome = "ready"
	WakeReachableUnconfirmed WakeOutcome = "reachable_unconfirmed"
	WakeTimedOut             WakeOutcome = "timed_out"
)
