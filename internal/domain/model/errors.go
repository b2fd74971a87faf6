package model

import "errors"

// Error taxonomy shared by the application services and the command layer.
var (
	// ErrConfiguration means the request cannot proceed until the owner fixes
	// their setup (no probe endpoint, no credential, no binding). Not retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrUpstreamRejection means the management API refused an operation.
	ErrUpstreamRejection = errors.New("upstream rejected request")

	ErrNoAccess          = errors.New("no codespace bound or delegated to caller")
	ErrNotBound          = errors.New("caller has no bound codespace")
	ErrCredentialExpired = errors.New("owner credential missing or expired")
	ErrBindingExpired    = errors.New("binding lapsed after inactivity")
	ErrSelfDelegation    = errors.New("owner cannot delegate to themself")
	ErrAlreadyDelegate   = errors.New("identity is already a delegate")
	ErrNotDelegate       = errors.New("identity is not a delegate")
	ErrNoTunnel          = errors.New("no tunnel url recorded for codespace")
	ErrNoResource        = errors.New("no codespace found for credential")

	// ErrGameHostUnavailable means the web server inside the codespace did
	// not answer through the tunnel.
	ErrGameHostUnavailable = errors.New("game host not responding")
)
