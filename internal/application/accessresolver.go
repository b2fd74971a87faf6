// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// AccessResolver answers which codespace a caller may operate and with whose
// credential. Owners resolve to their own binding; everyone else resolves to
// the first binding, in ascending owner ID order, that lists them as a
// delegate.
type AccessResolver struct {
	bindings      driven.BindingStore
	credentials   driven.CredentialStore
	bindingTTL    time.Duration
	credentialTTL time.Duration
	now           func() time.Time
}

// NewAccessResolver creates an AccessResolver. A zero TTL disables the
// corresponding sliding expiry.
func NewAccessResolver(
	bindings driven.BindingStore,
	credentials driven.CredentialStore,
	bindingTTL time.Duration,
	credentialTTL time.Duration,
) *AccessResolver {
	return &AccessResolver{
		bindings:      bindings,
		credentials:   credentials,
		bindingTTL:    bindingTTL,
		credentialTTL: credentialTTL,
		now:           time.Now,
	}
}

// Resolve looks up the caller's access without mutating anything. An empty
// Access means no access; the error is reserved for storage failures.
func (r *AccessResolver) Resolve(ctx context.Context, callerID string) (model.Access, error) {
	binding, err := r.bindings.Get(ctx, callerID)
	if err != nil {
		return model.Access{}, fmt.Errorf("loading binding for %s: %w", callerID, err)
	}

	delegated := false
	if binding == nil {
		all, err := r.bindings.ListAll(ctx)
		if err != nil {
			return model.Access{}, fmt.Errorf("listing bindings: %w", err)
		}
		slices.SortStableFunc(all, func(a, b model.Binding) int {
			return strings.Compare(a.OwnerID, b.OwnerID)
		})
		for i := range all {
			if all[i].IsDelegate(callerID) {
				binding = &all[i]
				delegated = true
				break
			}
		}
	}
	if binding == nil {
		return model.Access{}, nil
	}

	cred, err := r.credentials.Get(ctx, binding.OwnerID)
	if err != nil {
		return model.Access{}, fmt.Errorf("loading credential for %s: %w", binding.OwnerID, err)
	}

	return model.Access{
		OwnerID:    binding.OwnerID,
		Binding:    binding,
		Credential: cred,
		Delegated:  delegated,
	}, nil
}

// Authorize resolves the caller and checks that both the binding's
// inactivity window and the owner's credential are live. Failures wrap
// model.ErrConfiguration together with the specific cause.
func (r *AccessResolver) Authorize(ctx context.Context, callerID string) (model.Access, error) {
	access, err := r.Resolve(ctx, callerID)
	if err != nil {
		return model.Access{}, err
	}

	now := r.now()
	switch {
	case !access.Found():
		return access, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoAccess)
	case !access.Binding.IsLive(now):
		return access, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrBindingExpired)
	case !r.CredentialIsValid(access.Credential):
		return access, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrCredentialExpired)
	}
	return access, nil
}

// CredentialIsValid reports whether cred has a secret and has not expired.
func (r *AccessResolver) CredentialIsValid(cred *model.Credential) bool {
	return cred.IsValid(r.now())
}

// Renew slides the binding's inactivity window and the credential's expiry
// after a successful action by the owner or a delegate.
func (r *AccessResolver) Renew(ctx context.Context, access model.Access) error {
	if !access.Found() {
		return nil
	}
	now := r.now()

	b := *access.Binding
	b.Renew(now, r.bindingTTL)
	if err := r.bindings.Put(ctx, b); err != nil {
		return fmt.Errorf("renewing binding for %s: %w", b.OwnerID, err)
	}
	*access.Binding = b

	if access.Credential == nil || r.credentialTTL <= 0 {
		return nil
	}
	c := *access.Credential
	c.Renew(now, r.credentialTTL)
	if err := r.credentials.Put(ctx, c); err != nil {
		return fmt.Errorf("renewing credential for %s: %w", c.OwnerID, err)
	}
	*access.Credential = c
	return nil
}
