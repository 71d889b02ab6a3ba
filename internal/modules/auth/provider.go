package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionChangedTopic carries (uuid.UUID, *Principal). A nil principal means
// the session ended.
const SessionChangedTopic = "auth:session-changed"

var ErrInvalidCredentials = errors.New("invalid credentials")

type Principal = domain.Principal

type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (Principal, error)
	SignOut(ctx context.Context, sessionID uuid.UUID) error
	Current(ctx context.Context, sessionID uuid.UUID) (*Principal, error)
	Watch(sessionID uuid.UUID, fn func(*Principal)) (unsubscribe func())
}

var _ IdentityProvider = (*Provider)(nil)

// Provider authenticates against the user repository and announces session
// changes on the event bus, so every gate watching a session hears about
// sign-outs, expiry and account locks no matter where they happened.
type Provider struct {
	repository Repository
	hasher     *domain.PasswordHasher
	bus        EventBus.Bus
	sessionTTL time.Duration
	log        *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	nextID   uint64
	watchers map[uuid.UUID]map[uint64]func(*Principal)
}

func NewProvider(
	repository Repository,
	hasher *domain.PasswordHasher,
	bus EventBus.Bus,
	sessionTTL time.Duration,
	log *zap.Logger,
) (*Provider, error) {
	p := &Provider{
		repository: repository,
		hasher:     hasher,
		bus:        bus,
		sessionTTL: sessionTTL,
		log:        log,
		now:        time.Now,
		watchers:   make(map[uuid.UUID]map[uint64]func(*Principal)),
	}

	if err := bus.Subscribe(SessionChangedTopic, p.dispatch); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SessionChangedTopic, err)
	}

	return p, nil
}

// SignIn never tells the caller why it failed; the reason is only logged.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Principal, error) {
	user, err := p.repository.UserByEmail(ctx, email)
	if err != nil {
		p.log.Info("sign in rejected", zap.String("email", email), zap.Error(err))
		return Principal{}, ErrInvalidCredentials
	}

	now := p.now()
	wasLocked := user.IsLocked(now)
	authErr := user.Authenticate(password, p.hasher, now)

	var session *domain.Session
	if authErr == nil {
		s := domain.NewSession(user.ID, now, p.sessionTTL)
		session = &s
	}

	if !wasLocked {
		if err := p.repository.RecordLogin(ctx, user, session); err != nil {
			p.log.Error("failed to record login", zap.String("user_id", user.ID.String()), zap.Error(err))
			return Principal{}, ErrInvalidCredentials
		}
	}

	if authErr != nil {
		p.log.Info("sign in rejected", zap.String("user_id", user.ID.String()), zap.Error(authErr))

		if !wasLocked && user.IsLocked(now) {
			p.revokeUserSessions(ctx, user.ID)
		}

		return Principal{}, ErrInvalidCredentials
	}

	principal := Principal{UserID: user.ID, SessionID: session.ID, Email: user.Email}
	p.bus.Publish(SessionChangedTopic, session.ID, &principal)

	return principal, nil
}

func (p *Provider) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if err := p.repository.RevokeSession(ctx, sessionID, p.now()); err != nil {
		return err
	}

	p.bus.Publish(SessionChangedTopic, sessionID, nil)
	return nil
}

// Current returns nil when the session is unknown, expired, revoked or
// belongs to a locked account.
func (p *Provider) Current(ctx context.Context, sessionID uuid.UUID) (*Principal, error) {
	session, err := p.repository.Session(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := session.Validate(p.now()); err != nil {
		return nil, nil
	}

	user, err := p.repository.User(ctx, session.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if user.IsLocked(p.now()) {
		return nil, nil
	}

	return &Principal{UserID: user.ID, SessionID: session.ID, Email: user.Email}, nil
}

func (p *Provider) Watch(sessionID uuid.UUID, fn func(*Principal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if p.watchers[sessionID] == nil {
		p.watchers[sessionID] = make(map[uint64]func(*Principal))
	}
	p.watchers[sessionID][id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()

			delete(p.watchers[sessionID], id)
			if len(p.watchers[sessionID]) == 0 {
				delete(p.watchers, sessionID)
			}
		})
	}
}

// SweepExpired revokes every session past its expiry and tells the watchers.
func (p *Provider) SweepExpired(ctx context.Context) (int, error) {
	ids, err := p.repository.RevokeExpiredSessions(ctx, p.now())
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		p.bus.Publish(SessionChangedTopic, id, nil)
	}

	return len(ids), nil
}

// ScheduleSweep runs SweepExpired on c once a minute.
func (p *Provider) ScheduleSweep(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc("@every 1m", func() {
		n, err := p.SweepExpired(ctx)
		if err != nil {
			p.log.Error("failed to sweep expired sessions", zap.Error(err))
			return
		}
		if n > 0 {
			p.log.Info("expired sessions swept", zap.Int("count", n))
		}
	})
}

func (p *Provider) revokeUserSessions(ctx context.Context, userID uuid.UUID) {
	ids, err := p.repository.RevokeUserSessions(ctx, userID, p.now())
	if err != nil {
		p.log.Error("failed to revoke sessions of locked account", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	for _, id := range ids {
		p.bus.Publish(SessionChangedTopic, id, nil)
	}
}

func (p *Provider) dispatch(sessionID uuid.UUID, principal *Principal) {
	p.mu.Lock()
	fns := make([]func(*Principal), 0, len(p.watchers[sessionID]))
	for _, fn := range p.watchers[sessionID] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(principal)
	}
}
