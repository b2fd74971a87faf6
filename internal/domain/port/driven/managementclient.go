package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// ErrAlreadyRunning is wrapped by ManagementClient.Start when the codespace
// was already up. Callers treat it as non-fatal.
var ErrAlreadyRunning = errors.New("codespace already running")

// ManagementClient defines the driven port for the codespace control API.
// Every call is a single request; retry policy belongs to the caller.
// Any non-success response is returned as an error.
type ManagementClient interface {
	Start(ctx context.Context, token, name string) error
	Stop(ctx context.Context, token, name string) error
	Describe(ctx context.Context, token, name string) (*model.Resource, error)
	// List returns the codespaces visible to the token's user.
	List(ctx context.Context, token string) ([]model.Resource, error)
	// ValidateToken returns the login the token authenticates as.
	ValidateToken(ctx context.Context, token string) (string, error)
}
