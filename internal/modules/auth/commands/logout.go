package commands

import (
	"context"
	"net/http"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/google/uuid"
)

type LogoutCommand struct {
	SessionID uuid.UUID
}

type SignOutProvider interface {
	SignOut(ctx context.Context, sessionID uuid.UUID) error
}

type LogoutCommandHandler struct {
	provider SignOutProvider
}

func NewLogoutCommandHandler(provider SignOutProvider) *LogoutCommandHandler {
	return &LogoutCommandHandler{provider: provider}
}

func (h *LogoutCommandHandler) Handle(ctx context.Context, request LogoutCommand) (core.Unit, error) {
	if request.SessionID == uuid.Nil {
		return core.Unit{}, nil
	}

	if err := h.provider.SignOut(ctx, request.SessionID); err != nil {
		return core.Unit{}, core.NewCommandError(http.StatusInternalServerError, "Failed to log out.", err)
	}

	return core.Unit{}, nil
}
