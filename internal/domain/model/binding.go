package model

import (
	"slices"
	"time"
)

// MaxHistory caps the number of previously bound codespaces kept per owner.
const MaxHistory = 10

// NotificationPrefs is where an owner wants to hear about their codespace.
type NotificationPrefs struct {
	Mode      NotificationMode
	ChannelID string
}

// Binding is one owner's claim over one codespace and the identities the
// owner delegated control to. Bindings are keyed by OwnerID, so an identity
// owns at most one binding.
type Binding struct {
	OwnerID      string
	ResourceName string
	// ResourceURL caches the provider-issued web URL from the last describe.
	ResourceURL string
	// TunnelURL is the secondary endpoint reported by the in-VM startup script.
	TunnelURL string
	Delegates []string
	// History lists previously bound codespaces, most recent first.
	History   []string
	Notify    NotificationPrefs
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDelegate reports whether id was granted control by the owner.
func (b *Binding) IsDelegate(id string) bool {
	return slices.Contains(b.Delegates, id)
}

// AddDelegate grants id control. The owner is rejected and the delegate set
// is left untouched.
func (b *Binding) AddDelegate(id string) error {
	if id == b.OwnerID {
		return ErrSelfDelegation
	}
	if b.IsDelegate(id) {
		return ErrAlreadyDelegate
	}
	b.Delegates = append(b.Delegates, id)
	return nil
}

// RemoveDelegate revokes id.
func (b *Binding) RemoveDelegate(id string) error {
	i := slices.Index(b.Delegates, id)
	if i < 0 {
		return ErrNotDelegate
	}
	b.Delegates = slices.Delete(b.Delegates, i, i+1)
	return nil
}

// Rebind points the binding at a new codespace. Delegates are preserved and
// the previous codespace moves to the front of History exactly once; the new
// one is removed from it. Cached endpoints belong to the old machine and are
// dropped.
func (b *Binding) Rebind(resource string) {
	if resource == b.ResourceName {
		return
	}
	prev := b.ResourceName
	hist := slices.DeleteFunc(slices.Clone(b.History), func(h string) bool {
		return h == prev || h == resource
	})
	b.History = hist
	if prev != "" {
		b.History = append([]string{prev}, hist...)
		if len(b.History) > MaxHistory {
			b.History = b.History[:MaxHistory]
		}
	}
	b.ResourceName = resource
	b.ResourceURL = ""
	b.TunnelURL = ""
}

// IsLive reports whether the binding's inactivity window is still open.
func (b *Binding) IsLive(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// Renew slides the inactivity window to now+ttl. A zero ttl disables lapsing.
func (b *Binding) Renew(now time.Time, ttl time.Duration) {
	b.UpdatedAt = now
	if ttl <= 0 {
		b.ExpiresAt = nil
		return
	}
	exp := now.Add(ttl)
	b.ExpiresAt = &exp
}
