package catalog

import (
	"context"
	"sync"
)

type snapshotLoader func(context.Context) (Snapshot, error)

// watcher re-reads the full snapshot whenever it is marked dirty. Signals
// that arrive while a read is in progress collapse into one more read, so a
// slow subscriber always catches up to the latest state instead of replaying
// history.
type watcher struct {
	dirty      chan struct{}
	done       chan struct{}
	once       sync.Once
	onSnapshot func(Snapshot)
	onError    func(error)
}

func newWatcher(onSnapshot func(Snapshot), onError func(error)) *watcher {
	if onError == nil {
		onError = func(error) {}
	}

	return &watcher{
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		onSnapshot: onSnapshot,
		onError:    onError,
	}
}

func (w *watcher) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *watcher) fail(err error) {
	if !w.stopped() {
		w.onError(err)
	}
}

func (w *watcher) run(ctx context.Context, load snapshotLoader) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.dirty:
		}

		snapshot, err := load(ctx)
		if w.stopped() || ctx.Err() != nil {
			return
		}

		if err != nil {
			w.onError(err)
			continue
		}

		w.onSnapshot(snapshot)
	}
}

type watcherSet struct {
	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]*watcher
}

func newWatcherSet() *watcherSet {
	return &watcherSet{watchers: make(map[uint64]*watcher)}
}

// add registers a watcher, primes it with an initial read and starts its
// delivery loop.
func (s *watcherSet) add(
	ctx context.Context,
	load snapshotLoader,
	onSnapshot func(Snapshot),
	onError func(error),
) Unsubscribe {
	w := newWatcher(onSnapshot, onError)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	unsubscribe := func() {
		w.stop()

		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}

	go func() {
		defer unsubscribe()
		w.run(ctx, load)
	}()

	w.markDirty()

	return unsubscribe
}

func (s *watcherSet) markAllDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		w.markDirty()
	}
}

func (s *watcherSet) failAll(err error) {
	s.mu.Lock()
	watchers := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.fail(err)
	}
}

func (s *watcherSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *watcherSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.watchers {
		w.stop()
		delete(s.watchers, id)
	}
}
