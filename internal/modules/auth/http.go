package auth

import (
	"net/http"
	"strings"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/commands"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"go.uber.org/zap"
)

const (
	DashboardPath   = "/admin/dashboard"
	LoginFailedPath = LoginPath + "?error=1"
)

type AuthHTTPHandler struct {
	login   *commands.LoginCommandHandler
	logout  *commands.LogoutCommandHandler
	cookies *SessionCookies
}

func NewAuthHTTPHandler(provider IdentityProvider, cookies *SessionCookies) *AuthHTTPHandler {
	return &AuthHTTPHandler{
		login:   commands.NewLoginCommandHandler(provider),
		logout:  commands.NewLogoutCommandHandler(provider),
		cookies: cookies,
	}
}

func (h *AuthHTTPHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	command, err := readLoginCommand(r)
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}

	principal, err := h.login.Handle(r.Context(), command)
	if err != nil {
		if core.WantsHTML(r) {
			http.Redirect(w, r, LoginFailedPath, http.StatusSeeOther)
			return
		}
		core.WriteCommandError(w, r, err)
		return
	}

	if err := h.cookies.Set(w, r, principal.SessionID); err != nil {
		core.LogError(r.Context(), "failed to write session cookie", zap.Error(err))
		core.WriteInternalServerError(w, r, nil)
		return
	}

	if core.WantsHTML(r) {
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}

	core.WriteOK(w, r, principal)
}

// HandleLogout always ends on the public screen, even when there was no
// session to end.
func (h *AuthHTTPHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := h.cookies.SessionID(r)

	if _, err := h.logout.Handle(r.Context(), commands.LogoutCommand{SessionID: sessionID}); err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	if err := h.cookies.Clear(w, r); err != nil {
		core.LogError(r.Context(), "failed to clear session cookie", zap.Error(err))
	}

	if core.WantsHTML(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	core.WriteOK(w, r, nil)
}

func readLoginCommand(r *http.Request) (commands.LoginCommand, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return core.RequestBody[commands.LoginCommand](r)
	}

	if err := r.ParseForm(); err != nil {
		return commands.LoginCommand{}, err
	}

	return commands.LoginCommand{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}, nil
}
