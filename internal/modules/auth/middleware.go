package auth

import (
	"context"
	"net/http"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"go.uber.org/zap"
)

type authContextKey string

const gateContextKey authContextKey = "gate"

// LoginPath is where unauthenticated viewers of privileged screens are sent.
const LoginPath = "/admin"

// RequireSession lets a request through only while its session is live. The
// active gate stays in the request context, so long-lived handlers can watch
// for the session ending.
func RequireSession(provider IdentityProvider, cookies *SessionCookies, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := cookies.SessionID(r)
			if !ok {
				deny(w, r)
				return
			}

			gate := NewGate(provider, log)
			defer gate.Deactivate()

			if err := gate.Activate(r.Context(), sessionID); err != nil {
				core.WriteInternalServerError(w, r, nil)
				return
			}

			principal := gate.Principal()
			if principal == nil {
				deny(w, r)
				return
			}

			ctx := WithGate(r.Context(), gate)
			ctx = core.WithSession(ctx, core.ContextSession{
				UserID:    principal.UserID,
				SessionID: principal.SessionID,
				Email:     principal.Email,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request) {
	if core.WantsHTML(r) {
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
		return
	}

	core.WriteUnauthorized(w, r, nil)
}

func WithGate(ctx context.Context, gate *Gate) context.Context {
	return context.WithValue(ctx, gateContextKey, gate)
}

func GateFromContext(ctx context.Context) (*Gate, bool) {
	gate, ok := ctx.Value(gateContextKey).(*Gate)
	return gate, ok
}
