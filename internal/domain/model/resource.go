package model

import "time"

// Resource is the management API's description of a codespace.
type Resource struct {
	Name         string
	State        ResourceState
	RawState     string
	WebURL       string
	RepoFullName string
	LastUsedAt   time.Time
}
