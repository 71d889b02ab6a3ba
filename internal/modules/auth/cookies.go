package auth

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const sessionIDKey = "session_id"

// SessionCookies keeps the session id in a signed cookie. The session itself
// lives with the identity provider.
type SessionCookies struct {
	store sessions.Store
	name  string
}

func NewSessionCookies(store sessions.Store, name string) *SessionCookies {
	return &SessionCookies{store: store, name: name}
}

func (c *SessionCookies) SessionID(r *http.Request) (uuid.UUID, bool) {
	session, err := c.store.Get(r, c.name)
	if err != nil {
		return uuid.Nil, false
	}

	raw, ok := session.Values[sessionIDKey].(string)
	if !ok {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}

func (c *SessionCookies) Set(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) error {
	session, _ := c.store.Get(r, c.name)
	session.Values[sessionIDKey] = sessionID.String()
	return session.Save(r, w)
}

func (c *SessionCookies) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.store.Get(r, c.name)
	delete(session.Values, sessionIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
