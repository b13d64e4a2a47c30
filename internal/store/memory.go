package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// MemoryStore implements Store with an ordered in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []model.Item
}

// NewMemoryStore creates a new MemoryStore, optionally seeded with items in
// the given order.
func NewMemoryStore(seed ...model.Item) *MemoryStore {
	items := make([]model.Item, 0, len(seed))
	items = append(items, seed...)

	return &MemoryStore{
		items: items,
	}
}

// List returns a copy of all items in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list items: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.Item, len(s.items))
	copy(items, s.items)

	return items, nil
}

// Get retrieves the first item with the given name.
func (s *MemoryStore) Get(ctx context.Context, name string) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get item: %w", ctx.Err())
	default:
	}

	if name == "" {
		return nil, ErrInvalidName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return nil, ErrNotFound
	}

	item := s.items[idx]
	return &item, nil
}

// Create appends an item and returns the stored copy.
func (s *MemoryStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("create item: %w", ctx.Err())
	default:
	}

	if item == nil {
		return nil, fmt.Errorf("create item: %w", ErrNilItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newItem := *item
	s.items = append(s.items, newItem)

	return &newItem, nil
}

// Update applies patch to the first item with the given name in place.
// The patch is validated only once the item is found, so ErrNotFound takes
// precedence over model.ErrEmptyPatch and model.ErrValidation.
func (s *MemoryStore) Update(ctx context.Context, name string, patch model.ItemPatch) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("update item: %w", ctx.Err())
	default:
	}

	if name == "" {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return nil, ErrNotFound
	}

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	updated := patch.Apply(s.items[idx])
	s.items[idx] = updated

	return &updated, nil
}

// Delete removes the first item with the given name, keeping the relative
// order of the remaining items.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("delete item: %w", ctx.Err())
	default:
	}

	if name == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return ErrNotFound
	}

	s.items = append(s.items[:idx], s.items[idx+1:]...)

	return nil
}

// Len returns the number of stored items.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("count items: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items), nil
}

// Reset removes every item.
func (s *MemoryStore) Reset(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("reset items: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]

	return nil
}

// indexOf returns the position of the first item named name, or -1.
// Callers must hold s.mu.
func (s *MemoryStore) indexOf(name string) int {
	for i := range s.items {
		if s.items[i].Name == name {
			return i
		}
	}
	return -1
}
