package driven

import (
	"context"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// WatchStore persists the game server addresses under monitoring.
type WatchStore interface {
	// Put registers or replaces the watch for w.Address.
	Put(ctx context.Context, w model.GameWatch) error
	// Delete removes the watch. Deleting an unknown address is not an error.
	Delete(ctx context.Context, address string) error
	ListAll(ctx context.Context) ([]model.GameWatch, error)
	// SetOnline records the last observed online state.
	SetOnline(ctx context.Context, address string, online bool) error
}
