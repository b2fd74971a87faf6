package model

// Access is the answer to "which codespace may this caller operate, using
// whose credential". The zero value means no access.
type Access struct {
	OwnerID    string
	Binding    *Binding
	Credential *Credential
	// Delegated is true when the caller is not the owner.
	Delegated bool
}

// Found reports whether the caller resolved to a binding.
func (a Access) Found() bool {
	return a.Binding != nil
}

// ResourceName returns the bound codespace, or "" when there is no access.
func (a Access) ResourceName() string {
	if a.Binding == nil {
		return ""
	}
	return a.Binding.ResourceName
}
