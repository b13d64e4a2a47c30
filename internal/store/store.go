// Package store provides data storage interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// Store errors.
var (
	ErrNotFound    = errors.New("item not found")
	ErrInvalidName = errors.New("invalid item name")
	ErrNilItem     = errors.New("item cannot be nil")
)

// Store defines the interface for item storage operations. Items are kept
// in insertion order and addressed by name; when several items share a
// name the first one wins.
type Store interface {
	// List returns all items in insertion order.
	List(ctx context.Context) ([]model.Item, error)

	// Get returns the first item with the given name.
	Get(ctx context.Context, name string) (*model.Item, error)

	// Create appends an item to the end of the store.
	Create(ctx context.Context, item *model.Item) (*model.Item, error)

	// Update overwrites the patched fields of the first item with the given
	// name. The item keeps its position even if it is renamed. An unknown
	// name is reported before an invalid patch.
	Update(ctx context.Context, name string, patch model.ItemPatch) (*model.Item, error)

	// Delete removes the first item with the given name.
	Delete(ctx context.Context, name string) error

	// Len returns the number of stored items.
	Len(ctx context.Context) (int, error)

	// Reset removes every item.
	Reset(ctx context.Context) error
}
