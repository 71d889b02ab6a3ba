package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type GateState int

const (
	Unauthenticated GateState = iota
	Authenticated
)

func (s GateState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Gate follows one session and reports whether privileged screens may be
// shown. It starts unauthenticated and flips whenever the identity provider
// reports a change for the session.
type Gate struct {
	provider IdentityProvider
	log      *zap.Logger

	mu          sync.RWMutex
	principal   *Principal
	version     uint64
	active      bool
	unsubscribe func()
	changes     chan struct{}
}

func NewGate(provider IdentityProvider, log *zap.Logger) *Gate {
	return &Gate{
		provider: provider,
		log:      log,
		changes:  make(chan struct{}, 1),
	}
}

// Activate subscribes to the session before reading it, so a change that
// lands in between is never lost.
func (g *Gate) Activate(ctx context.Context, sessionID uuid.UUID) error {
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()

	unsubscribe := g.provider.Watch(sessionID, g.observe)

	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		unsubscribe()
		return nil
	}
	g.unsubscribe = unsubscribe
	version := g.version
	g.mu.Unlock()

	principal, err := g.provider.Current(ctx, sessionID)
	if err != nil {
		g.log.Error("failed to read session", zap.String("session_id", sessionID.String()), zap.Error(err))
		g.Deactivate()
		return err
	}

	g.mu.Lock()
	if g.version == version && g.active {
		g.principal = principal
		g.version++
	}
	g.mu.Unlock()

	g.signal()

	return nil
}

func (g *Gate) Deactivate() {
	g.mu.Lock()
	g.active = false
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *Gate) observe(principal *Principal) {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.principal = principal
	g.version++
	g.mu.Unlock()

	g.signal()
}

func (g *Gate) signal() {
	select {
	case g.changes <- struct{}{}:
	default:
	}
}

func (g *Gate) State() GateState {
	if g.Authenticated() {
		return Authenticated
	}
	return Unauthenticated
}

func (g *Gate) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.principal != nil
}

func (g *Gate) Principal() *Principal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.principal == nil {
		return nil
	}

	principal := *g.principal
	return &principal
}

// Changes is signalled whenever the gate may have flipped. Signals coalesce.
func (g *Gate) Changes() <-chan struct{} {
	return g.changes
}
