package store

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// Operation result labels.
const (
	resultSuccess  = "success"
	resultNotFound = "not_found"
	resultError    = "error"
)

// InstrumentedStore wraps a Store and records Prometheus metrics for every
// operation.
type InstrumentedStore struct {
	next       Store
	operations *prometheus.CounterVec
	items      prometheus.Gauge
}

// NewInstrumentedStore wraps next and registers its metrics with reg.
func NewInstrumentedStore(next Store, reg prometheus.Registerer) *InstrumentedStore {
	factory := promauto.With(reg)

	s := &InstrumentedStore{
		next: next,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "items_store_operations_total",
				Help: "Total number of item store operations",
			},
			[]string{"operation", "result"},
		),
		items: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "items_store_items",
				Help: "Number of items currently held by the store",
			},
		),
	}
	s.refreshGauge(context.Background(), nil)

	return s
}

// List returns all items from the wrapped store.
func (s *InstrumentedStore) List(ctx context.Context) ([]model.Item, error) {
	items, err := s.next.List(ctx)
	s.observe("list", err)
	return items, err
}

// Get retrieves an item by name from the wrapped store.
func (s *InstrumentedStore) Get(ctx context.Context, name string) (*model.Item, error) {
	item, err := s.next.Get(ctx, name)
	s.observe("get", err)
	return item, err
}

// Create appends an item to the wrapped store.
func (s *InstrumentedStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	created, err := s.next.Create(ctx, item)
	s.observe("create", err)
	s.refreshGauge(ctx, err)
	return created, err
}

// Update patches an item in the wrapped store.
func (s *InstrumentedStore) Update(
	ctx context.Context,
	name string,
	patch model.ItemPatch,
) (*model.Item, error) {
	updated, err := s.next.Update(ctx, name, patch)
	s.observe("update", err)
	return updated, err
}

// Delete removes an item from the wrapped store.
func (s *InstrumentedStore) Delete(ctx context.Context, name string) error {
	err := s.next.Delete(ctx, name)
	s.observe("delete", err)
	s.refreshGauge(ctx, err)
	return err
}

// Len returns the number of items in the wrapped store.
func (s *InstrumentedStore) Len(ctx context.Context) (int, error) {
	return s.next.Len(ctx)
}

// Reset empties the wrapped store.
func (s *InstrumentedStore) Reset(ctx context.Context) error {
	err := s.next.Reset(ctx)
	s.observe("reset", err)
	s.refreshGauge(ctx, err)
	return err
}

func (s *InstrumentedStore) observe(operation string, err error) {
	s.operations.WithLabelValues(operation, resultLabel(err)).Inc()
}

// refreshGauge syncs the item gauge after a successful mutation.
func (s *InstrumentedStore) refreshGauge(ctx context.Context, err error) {
	if err != nil {
		return
	}
	if n, lenErr := s.next.Len(ctx); lenErr == nil {
		s.items.Set(float64(n))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrNotFound):
		return resultNotFound
	default:
		return resultError
	}
}
