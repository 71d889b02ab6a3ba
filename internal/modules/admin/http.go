package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth"
	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RedirectEvent = "redirect"

type EditPriceCommand struct {
	Price string `json:"price"`
}

type DeleteProductCommand struct {
	Confirm bool `json:"confirm"`
}

type AdminHTTPHandler struct {
	mutator *Mutator
	store   catalog.Store
}

func NewAdminHTTPHandler(mutator *Mutator, store catalog.Store) *AdminHTTPHandler {
	return &AdminHTTPHandler{mutator: mutator, store: store}
}

func (h *AdminHTTPHandler) HandleEditPrice(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "product_id"))
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}

	command, err := core.RequestBody[EditPriceCommand](r)
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}

	err = h.mutator.EditPrice(r.Context(), productID, Answer(command.Price))
	switch {
	case errors.Is(err, ErrCancelled):
		core.WriteResponse(w, r, http.StatusNoContent, nil)
	case err != nil:
		core.WriteCommandError(w, r, err)
	default:
		core.WriteResponse(w, r, http.StatusNoContent, nil)
	}
}

func (h *AdminHTTPHandler) HandleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "product_id"))
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}

	command := DeleteProductCommand{}
	if raw := r.URL.Query().Get("confirm"); raw != "" {
		command.Confirm, _ = strconv.ParseBool(raw)
	} else if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if command, err = core.RequestBody[DeleteProductCommand](r); err != nil {
			core.WriteBadRequest(w, r, err)
			return
		}
	}

	err = h.mutator.Delete(r.Context(), productID, Confirmed(command.Confirm))
	switch {
	case errors.Is(err, ErrNotConfirmed):
		core.WriteResponse(w, r, http.StatusPreconditionRequired, core.NewCommandError(
			http.StatusPreconditionRequired,
			ConfirmDeleteMessage,
			err,
		))
	case err != nil:
		core.WriteCommandError(w, r, err)
	default:
		core.WriteResponse(w, r, http.StatusNoContent, nil)
	}
}

// HandleStreamProducts streams the live list to the dashboard and tells the
// browser to leave as soon as the session ends.
func (h *AdminHTTPHandler) HandleStreamProducts(w http.ResponseWriter, r *http.Request) {
	gate, ok := auth.GateFromContext(r.Context())
	if !ok {
		core.WriteUnauthorized(w, r, nil)
		return
	}

	es, err := core.NewEventStream(w)
	if err != nil {
		core.WriteInternalServerError(w, r, err)
		return
	}

	s := catalog.NewSync(h.store, core.Logger(r.Context()))
	if err := s.Activate(r.Context()); err != nil {
		core.LogError(r.Context(), "failed to open product feed", zap.Error(err))
		return
	}
	defer s.Deactivate()

	signedOut := make(chan struct{})
	go func() {
		for {
			select {
			case <-r.Context().Done():
				return
			case <-gate.Changes():
				if !gate.Authenticated() {
					close(signedOut)
					return
				}
			}
		}
	}()

	if err := catalog.ServeSnapshots(r.Context(), es, s, signedOut); err != nil {
		core.Logger(r.Context()).Debug("admin stream closed", zap.Error(err))
		return
	}

	select {
	case <-signedOut:
		_ = es.Send(RedirectEvent, map[string]string{"location": auth.LoginPath})
	default:
	}
}
