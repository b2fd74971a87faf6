package driven

import (
	"context"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// BindingStore defines the driven port for owner bindings, their delegate
// sets and binding history.
type BindingStore interface {
	// Get returns the owner's binding, or (nil, nil) if the owner has none.
	Get(ctx context.Context, ownerID string) (*model.Binding, error)
	// Put creates or replaces the binding, including delegates and history.
	Put(ctx context.Context, b model.Binding) error
	Delete(ctx context.Context, ownerID string) error
	// ListAll returns every binding ordered by owner ID. The order is part of
	// the contract: delegate resolution relies on it being stable.
	ListAll(ctx context.Context) ([]model.Binding, error)
}
