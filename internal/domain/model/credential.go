package model

import "time"

// Credential holds the personal access token an owner configured, plus
// denormalized pointers to the resource it currently controls.
type Credential struct {
	OwnerID      string
	Secret       string
	IssuedAt     time.Time
	ExpiresAt    *time.Time // nil means no expiry was recorded.
	ResourceName string
	GitHubLogin  string
	RepoFullName string
	UpdatedAt    time.Time
}

// IsValid reports whether the credential can be used at now. A credential
// without a recorded expiry is treated as valid; this keeps credentials
// configured before expiries were tracked working.
func (c *Credential) IsValid(now time.Time) bool {
	if c == nil || c.Secret == "" {
		return false
	}
	if c.ExpiresAt == nil {
		return true
	}
	return now.Before(*c.ExpiresAt)
}

// Expired reports whether an expiry is recorded and has passed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Renew slides the expiry to now+ttl. The secret is never touched.
// A zero ttl leaves the credential as is.
func (c *Credential) Renew(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	exp := now.Add(ttl)
	c.ExpiresAt = &exp
	c.UpdatedAt = now
}

// Clear drops the secret and its expiry, leaving the cached pointers.
func (c *Credential) Clear(now time.Time) {
	c.Secret = ""
	c.ExpiresAt = nil
	c.UpdatedAt = now
}
