package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"
)

const LoginFailedMessage = "Failed to log in. Check your email and password."

type LoginCommand struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c LoginCommand) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("invalid email: '%s'", c.Email)
	}

	if c.Password == "" {
		return fmt.Errorf("invalid password")
	}

	return nil
}

type SignInProvider interface {
	SignIn(ctx context.Context, email, password string) (domain.Principal, error)
}

type LoginCommandHandler struct {
	provider SignInProvider
}

func NewLoginCommandHandler(provider SignInProvider) *LoginCommandHandler {
	return &LoginCommandHandler{provider: provider}
}

// Handle reports every failure with the same message and status, whatever
// went wrong.
func (h *LoginCommandHandler) Handle(ctx context.Context, request LoginCommand) (domain.Principal, error) {
	if err := request.Validate(); err != nil {
		return domain.Principal{}, core.NewCommandError(http.StatusUnauthorized, LoginFailedMessage, err)
	}

	principal, err := h.provider.SignIn(ctx, request.Email, request.Password)
	if err != nil {
		return domain.Principal{}, core.NewCommandError(http.StatusUnauthorized, LoginFailedMessage, err)
	}

	return principal, nil
}
