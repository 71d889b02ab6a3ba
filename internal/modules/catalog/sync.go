package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"go.uber.org/zap"
)

var ErrAlreadyActive = errors.New("catalog sync was already activated")

// Sync mirrors the live product feed for one mounted screen. It owns exactly
// one subscription between Activate and Deactivate, and every snapshot it
// receives replaces the local list as a whole.
type Sync struct {
	store Store
	log   *zap.Logger

	mu          sync.RWMutex
	products    []Product
	loading     bool
	loaded      bool
	started     bool
	active      bool
	err         error
	unsubscribe Unsubscribe

	settled     chan struct{}
	settledOnce sync.Once
	changes     chan struct{}
}

type State struct {
	Products []Product
	Loading  bool
	Lost     bool
	Err      error
}

func NewSync(store Store, log *zap.Logger) *Sync {
	return &Sync{
		store:    store,
		log:      log,
		products: []Product{},
		settled:  make(chan struct{}),
		changes:  make(chan struct{}, 1),
	}
}

// Activate opens the subscription. Loading reports true until the first
// snapshot arrives.
func (s *Sync) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.started = true
	s.active = true
	s.loading = true
	s.mu.Unlock()

	unsubscribe, err := s.store.Watch(ctx, s.apply, s.fail)
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.loading = false
		s.err = err
		s.mu.Unlock()
		s.settle()
		return err
	}

	s.mu.Lock()
	if !s.active {
		// Deactivated while the subscription was being opened.
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// Deactivate releases the subscription. Snapshots delivered afterwards are
// ignored.
func (s *Sync) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Sync) apply(snapshot Snapshot) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.products = core.Clone(snapshot.Products)
	s.loading = false
	s.loaded = true
	s.err = nil
	s.mu.Unlock()

	s.settle()
	s.signal()
}

func (s *Sync) fail(err error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()

	s.log.Error("catalog sync lost", zap.Error(err))

	s.settle()
	s.signal()
}

func (s *Sync) settle() {
	s.settledOnce.Do(func() { close(s.settled) })
}

func (s *Sync) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Products returns a copy of the latest snapshot's list.
func (s *Sync) Products() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Clone(s.products)
}

func (s *Sync) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err reports why the feed was lost. It is cleared by the next snapshot.
func (s *Sync) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Sync) Lost() bool {
	return s.Err() != nil
}

func (s *Sync) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return State{
		Products: core.Clone(s.products),
		Loading:  s.loading,
		Lost:     s.err != nil,
		Err:      s.err,
	}
}

// Changes fires after every applied snapshot or error. Signals coalesce, so
// readers should always look at State rather than count events.
func (s *Sync) Changes() <-chan struct{} {
	return s.changes
}

// WaitLoaded blocks until the first snapshot or the first error arrives.
func (s *Sync) WaitLoaded(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.settled:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return s.err
	}

	return nil
}
