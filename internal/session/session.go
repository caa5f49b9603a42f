// Package session keeps the logged-in staff member for the kiosk. The access
// token and profile survive restarts in the storage area.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/pkg/kit"
)

const (
	TokenKey = "accessToken"
	UserKey  = "currentUser"
)

var (
	ErrMissingCredentials = errors.New("email/password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSession          = errors.New("not logged in")
)

// Remote is the user API the session talks to.
type Remote interface {
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, token string) (api.StaffUser, error)
}

type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Manager struct {
	remote Remote
	kv     KV
	log    *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
	user  *api.StaffUser
}

func NewManager(remote Remote, kv KV, log *zap.Logger) *Manager {
	return &Manager{
		remote: remote,
		kv:     kv,
		log:    kit.OrNop(log),
		now:    time.Now,
	}
}

// Token implements api.TokenSource.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) Current() (api.StaffUser, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return api.StaffUser{}, false
	}
	return *m.user, true
}

// StaffID is the id stamped on bills; it fails when nobody is logged in.
func (m *Manager) StaffID() (int64, error) {
	u, ok := m.Current()
	if !ok {
		return 0, ErrNoSession
	}
	return u.ID, nil
}

func (m *Manager) Login(ctx context.Context, email, password string) (api.StaffUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return api.StaffUser{}, ErrMissingCredentials
	}

	tok, err := m.remote.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrNotFound) {
			return api.StaffUser{}, ErrInvalidCredentials
		}
		return api.StaffUser{}, err
	}

	u, err := m.remote.Me(ctx, tok)
	if err != nil {
		return api.StaffUser{}, err
	}

	m.set(tok, &u)
	m.persist(ctx, tok, u)

	m.log.Info("staff logged in", zap.Int64("user_id", u.ID))
	return u, nil
}

// Restore reloads a persisted session at startup. An expired or rejected
// token is discarded; a network failure keeps the cached profile so the
// kiosk stays usable while the API is down.
func (m *Manager) Restore(ctx context.Context) error {
	tok, ok, err := m.kv.Get(ctx, TokenKey)
	if err != nil {
		return err
	}
	if !ok || len(tok) == 0 {
		return ErrNoSession
	}

	token := string(tok)
	if TokenExpired(token, m.now()) {
		m.log.Info("persisted token expired")
		_ = m.Logout(ctx)
		return ErrNoSession
	}

	cached := m.cachedUser(ctx)

	u, err := m.remote.Me(ctx, token)
	switch {
	case err == nil:
		m.set(token, &u)
		m.persist(ctx, token, u)
		return nil
	case errors.Is(err, api.ErrUnauthorized):
		m.log.Info("persisted token rejected")
		_ = m.Logout(ctx)
		return ErrNoSession
	case cached != nil:
		m.log.Warn("profile refresh failed, using cached profile", zap.Error(err))
		m.set(token, cached)
		return nil
	default:
		_ = m.Logout(ctx)
		return err
	}
}

func (m *Manager) Logout(ctx context.Context) error {
	m.set("", nil)

	err1 := m.kv.Delete(ctx, TokenKey)
	err2 := m.kv.Delete(ctx, UserKey)
	return errors.Join(err1, err2)
}

func (m *Manager) set(tok string, u *api.StaffUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
	m.user = u
}

func (m *Manager) persist(ctx context.Context, tok string, u api.StaffUser) {
	if err := m.kv.Put(ctx, TokenKey, []byte(tok)); err != nil {
		m.log.Warn("persist token failed", zap.Error(err))
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := m.kv.Put(ctx, UserKey, raw); err != nil {
		m.log.Warn("persist profile failed", zap.Error(err))
	}
}

func (m *Manager) cachedUser(ctx context.Context) *api.StaffUser {
	raw, ok, err := m.kv.Get(ctx, UserKey)
	if err != nil || !ok {
		return nil
	}
	var u api.StaffUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	return &u
}

// TokenExpired reports whether tok is a JWT whose exp claim has passed. The
// kiosk never holds the signing key, so the signature is not checked; tokens
// that are not JWTs are never considered expired here.
func TokenExpired(tok string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}
