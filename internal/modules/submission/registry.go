package submission

import (
	"sync"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Registry owns the forms of every connected viewer, keyed by the id kept in
// the viewer's form cookie.
type Registry struct {
	store   catalog.Store
	storage storage.ObjectStorage
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	forms map[uuid.UUID]*Form
}

func NewRegistry(store catalog.Store, objects storage.ObjectStorage, opts Options, log *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		storage: objects,
		opts:    opts,
		log:     log,
		now:     time.Now,
		forms:   make(map[uuid.UUID]*Form),
	}
}

// Get returns the form with the given id, creating it on first use.
func (r *Registry) Get(id uuid.UUID) *Form {
	r.mu.Lock()
	defer r.mu.Unlock()

	form, ok := r.forms[id]
	if !ok {
		form = NewForm(id, r.store, r.storage, r.opts, r.log)
		form.now = r.now
		form.lastActive = r.now()
		r.forms[id] = form
		return form
	}

	form.touch()
	return form
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// EvictIdle drops forms untouched for longer than ttl. Forms with a
// submission in flight or an open progress stream are kept.
func (r *Registry) EvictIdle(ttl time.Duration) int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, form := range r.forms {
		idle, busy := form.idleSince(now)
		if busy || idle < ttl {
			continue
		}

		delete(r.forms, id)
		evicted++
	}

	if evicted > 0 {
		r.log.Debug("evicted idle forms", zap.Int("count", evicted))
	}

	return evicted
}

// ScheduleEviction registers EvictIdle on c to run once a minute.
func (r *Registry) ScheduleEviction(c *cron.Cron, ttl time.Duration) (cron.EntryID, error) {
	return c.AddFunc("@every 1m", func() {
		r.EvictIdle(ttl)
	})
}
