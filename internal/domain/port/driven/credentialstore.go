package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// SPACEWAKE_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SPACEWAKE_SECRET_KEY")

// CredentialStore defines the driven port for per-owner credential persistence.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext secrets at the domain boundary.
type CredentialStore interface {
	// Get returns the owner's credential, or (nil, nil) if none is stored.
	Get(ctx context.Context, ownerID string) (*model.Credential, error)
	// Put creates or replaces the owner's credential.
	Put(ctx context.Context, cred model.Credential) error
	Delete(ctx context.Context, ownerID string) error
	// ListAll returns every stored credential ordered by owner ID.
	ListAll(ctx context.Context) ([]model.Credential, error)
}
