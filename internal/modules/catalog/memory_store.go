package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the catalog in process. It backs the "memory" store driver
// and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products []Product // newest first
	now      func() time.Time
	watchers *watcherSet
}

type MemoryStoreOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		watchers: newWatcherSet(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *MemoryStore) Insert(ctx context.Context, d Draft) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	if err := d.Validate(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	createdAt := s.now().UTC()
	if len(s.products) > 0 && createdAt.Before(s.products[0].CreatedAt) {
		createdAt = s.products[0].CreatedAt
	}

	p := Product{
		ID:        uuid.New(),
		Name:      d.Name,
		Price:     d.Price,
		ImageURL:  d.ImageURL,
		CreatedAt: createdAt,
	}

	s.products = append([]Product{p}, s.products...)
	s.mu.Unlock()

	s.watchers.markAllDirty()

	return p.ID, nil
}

func (s *MemoryStore) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if price.IsNegative() {
		return ErrInvalidPrice
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}

	s.products[idx].Price = price
	s.mu.Unlock()

	s.watchers.markAllDirty()

	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}

	s.products = append(s.products[:idx], s.products[idx+1:]...)
	s.mu.Unlock()

	s.watchers.markAllDirty()

	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.watchers.add(ctx, s.snapshot, onSnapshot, onError), nil
}

// Watchers returns the number of live subscriptions.
func (s *MemoryStore) Watchers() int {
	return s.watchers.len()
}

func (s *MemoryStore) snapshot(context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]Product, len(s.products))
	copy(products, s.products)

	return Snapshot{Products: products}, nil
}

func (s *MemoryStore) indexOf(id uuid.UUID) int {
	for i, p := range s.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}
