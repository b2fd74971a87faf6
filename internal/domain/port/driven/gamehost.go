package driven

import (
	"context"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// GameHost talks to the web server the startup script runs inside the
// codespace, reached through its tunnel URL.
type GameHost interface {
	Health(ctx context.Context, baseURL string) error
	// FetchToken returns the bearer token the in-VM server expects.
	FetchToken(ctx context.Context, baseURL string) (string, error)
	// StartServer launches the game server and returns any address the
	// launcher already knows about.
	StartServer(ctx context.Context, baseURL, token string) (string, error)
	ServerAddress(ctx context.Context, baseURL, token string) (string, error)
}

// GameStatusChecker queries a public status API for a game server address.
type GameStatusChecker interface {
	Check(ctx context.Context, address string) (*model.GameServerStatus, error)
}

// AddonEventSource drains the event queue the addon keeps inside the
// codespace, reached through the same tunnel URL as GameHost.
type AddonEventSource interface {
	// Events returns the pending events. A host without an event queue
	// returns an empty slice.
	Events(ctx context.Context, baseURL string) ([]model.AddonEvent, error)
	MarkProcessed(ctx context.Context, baseURL string, id int64) error
	MarkFailed(ctx context.Context, baseURL string, id int64, reason string) error
}
