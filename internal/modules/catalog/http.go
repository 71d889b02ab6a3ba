package catalog

import (
	"context"
	"net/http"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"go.uber.org/zap"
)

const (
	SnapshotEvent = "snapshot"
	SyncLostEvent = "sync-lost"
	keepAlive     = 25 * time.Second
)

type SnapshotView struct {
	Loading  bool          `json:"loading"`
	Lost     bool          `json:"lost"`
	Message  string        `json:"message,omitempty"`
	Products []ProductView `json:"products"`
}

func NewSnapshotView(state State) SnapshotView {
	view := SnapshotView{
		Loading:  state.Loading,
		Lost:     state.Lost,
		Products: core.Map(state.Products, NewProductView),
	}

	if state.Lost {
		view.Message = "Live updates were interrupted. Reconnecting..."
	}

	return view
}

type ProductsHTTPHandler struct {
	store Store
	log   *zap.Logger
}

func NewProductsHTTPHandler(store Store, log *zap.Logger) *ProductsHTTPHandler {
	return &ProductsHTTPHandler{store: store, log: log}
}

// HandleGetProducts answers with the current snapshot and closes the
// subscription straight away.
func (h *ProductsHTTPHandler) HandleGetProducts(w http.ResponseWriter, r *http.Request) {
	s := NewSync(h.store, core.Logger(r.Context()))
	if err := s.Activate(r.Context()); err != nil {
		core.WriteCommandError(w, r, err)
		return
	}
	defer s.Deactivate()

	if err := s.WaitLoaded(r.Context()); err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, NewSnapshotView(s.State()))
}

// HandleStreamProducts keeps a live subscription open for as long as the
// client stays connected.
func (h *ProductsHTTPHandler) HandleStreamProducts(w http.ResponseWriter, r *http.Request) {
	es, err := core.NewEventStream(w)
	if err != nil {
		core.WriteInternalServerError(w, r, err)
		return
	}

	s := NewSync(h.store, core.Logger(r.Context()))
	if err := s.Activate(r.Context()); err != nil {
		core.LogError(r.Context(), "failed to open product feed", zap.Error(err))
		return
	}
	defer s.Deactivate()

	if err := ServeSnapshots(r.Context(), es, s, nil); err != nil {
		core.Logger(r.Context()).Debug("product stream closed", zap.Error(err))
	}
}

// ServeSnapshots pushes the sync state to the client every time it changes
// until ctx ends or stop is closed. Entering the lost state additionally
// emits a sync-lost event.
func ServeSnapshots(ctx context.Context, es *core.EventStream, s *Sync, stop <-chan struct{}) error {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	lost := false
	send := func() error {
		view := NewSnapshotView(s.State())
		if err := es.Send(SnapshotEvent, view); err != nil {
			return err
		}

		if view.Lost && !lost {
			if err := es.Send(SyncLostEvent, map[string]string{"message": view.Message}); err != nil {
				return err
			}
		}
		lost = view.Lost

		return nil
	}

	if err := send(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if err := es.Comment("keep-alive"); err != nil {
				return err
			}
		case <-s.Changes():
			if err := send(); err != nil {
				return err
			}
		}
	}
}
