package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ConfirmDeleteMessage = "Are you sure you want to delete this item?"
	PricePromptMessage   = "Enter new price (e.g., 15.99):"

	MessageInvalidPrice = "Invalid price."
	MessageUpdateFailed = "Update failed. Please try again."
	MessageDeleteFailed = "Delete failed. Please try again."
	MessageNotFound     = "Product not found."
)

var (
	ErrNotConfirmed = errors.New("delete not confirmed")
	ErrInvalidPrice = errors.New("invalid price")
	ErrCancelled    = errors.New("edit cancelled")
)

// Prompter asks the actor for a value. ok is false when the prompt was
// dismissed.
type Prompter interface {
	Prompt(ctx context.Context, message string) (value string, ok bool)
}

type PromptFunc func(ctx context.Context, message string) (string, bool)

func (f PromptFunc) Prompt(ctx context.Context, message string) (string, bool) {
	return f(ctx, message)
}

type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

type ConfirmFunc func(ctx context.Context, message string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, message string) bool {
	return f(ctx, message)
}

// Answer is a prompt that was already answered, e.g. by a browser dialog
// before the request was sent.
func Answer(value string) Prompter {
	return PromptFunc(func(context.Context, string) (string, bool) {
		return value, value != ""
	})
}

// Confirmed is a confirmation that was already given or refused.
func Confirmed(yes bool) Confirmer {
	return ConfirmFunc(func(context.Context, string) bool {
		return yes
	})
}

// Mutator edits and deletes products in place. It never touches a local list;
// every screen learns about the change from its live feed.
type Mutator struct {
	store catalog.Store
	log   *zap.Logger
}

func NewMutator(store catalog.Store, log *zap.Logger) *Mutator {
	return &Mutator{store: store, log: log}
}

// EditPrice asks for a new price and writes only the price field. A dismissed
// or empty prompt changes nothing and returns ErrCancelled.
func (m *Mutator) EditPrice(ctx context.Context, id uuid.UUID, prompter Prompter) error {
	raw, ok := prompter.Prompt(ctx, PricePromptMessage)
	if !ok || strings.TrimSpace(raw) == "" {
		return ErrCancelled
	}

	price, err := catalog.ParsePrice(raw)
	if err != nil {
		return core.NewCommandError(http.StatusBadRequest, MessageInvalidPrice, fmt.Errorf("%w: %w", ErrInvalidPrice, err))
	}

	if err := m.store.UpdatePrice(context.WithoutCancel(ctx), id, price); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return core.NewCommandError(http.StatusNotFound, MessageNotFound, err)
		}

		m.log.Error("failed to update price", zap.String("product_id", id.String()), zap.Error(err))
		return core.NewCommandError(http.StatusInternalServerError, MessageUpdateFailed, err)
	}

	m.log.Info("price updated", zap.String("product_id", id.String()), zap.String("price", price.String()))

	return nil
}

// Delete removes the product once the actor confirms.
func (m *Mutator) Delete(ctx context.Context, id uuid.UUID, confirmer Confirmer) error {
	if !confirmer.Confirm(ctx, ConfirmDeleteMessage) {
		return ErrNotConfirmed
	}

	if err := m.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return core.NewCommandError(http.StatusNotFound, MessageNotFound, err)
		}

		m.log.Error("failed to delete product", zap.String("product_id", id.String()), zap.Error(err))
		return core.NewCommandError(http.StatusInternalServerError, MessageDeleteFailed, err)
	}

	m.log.Info("product deleted", zap.String("product_id", id.String()))

	return nil
}
