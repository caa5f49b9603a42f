package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FruitMarket/internal/api"
	"FruitMarket/internal/storage"
)

type fakeRemote struct {
	token    string
	loginErr error
	user     api.StaffUser
	meErr    error

	gotEmail string
	meCalls  int
}

func (f *fakeRemote) Login(_ context.Context, email, _ string) (string, error) {
	f.gotEmail = email
	return f.token, f.loginErr
}

func (f *fakeRemote) Me(_ context.Context, token string) (api.StaffUser, error) {
	f.meCalls++
	if f.meErr != nil {
		return api.StaffUser{}, f.meErr
	}
	if token != f.token {
		return api.StaffUser{}, api.ErrUnauthorized
	}
	return f.user, nil
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

var staff = api.StaffUser{ID: 7, Name: "Mai", Email: "mai@fruit.test", Valid: true}

func TestLogin_PersistsTokenAndProfile(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemStore()
	tok := signed(t, time.Now().Add(time.Hour))
	r := &fakeRemote{token: tok, user: staff}

	m := NewManager(r, kv, nil)
	u, err := m.Login(ctx, "  Mai@Fruit.Test ", "secret")
	require.NoError(t, err)
	assert.Equal(t, staff, u)
	assert.Equal(t, "mai@fruit.test", r.gotEmail)
	assert.Equal(t, tok, m.Token())

	id, err := m.StaffID()
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	raw, ok, err := kv.Get(ctx, TokenKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok, string(raw))

	raw, ok, err = kv.Get(ctx, UserKey)
	require.NoError(t, err)
	require.True(t, ok)
	var got api.StaffUser
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, staff, got)
}

func TestLogin_Validation(t *testing.T) {
	m := NewManager(&fakeRemote{}, storage.NewMemStore(), nil)

	_, err := m.Login(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = m.Login(context.Background(), "a@b.c", "   ")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLogin_Rejected(t *testing.T) {
	r := &fakeRemote{loginErr: api.ErrUnauthorized}
	m := NewManager(r, storage.NewMemStore(), nil)

	_, err := m.Login(context.Background(), "a@b.c", "bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, ok := m.Current()
	assert.False(t, ok)
	assert.Empty(t, m.Token())
}

func TestLogin_NetworkErrorPassesThrough(t *testing.T) {
	r := &fakeRemote{loginErr: api.ErrUnavailable}
	m := NewManager(r, storage.NewMemStore(), nil)

	_, err := m.Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, api.ErrUnavailable)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	tok := signed(t, time.Now().Add(time.Hour))

	t.Run("nothing persisted", func(t *testing.T) {
		m := NewManager(&fakeRemote{}, storage.NewMemStore(), nil)
		assert.ErrorIs(t, m.Restore(ctx), ErrNoSession)
	})

	t.Run("valid token", func(t *testing.T) {
		kv := storage.NewMemStore()
		require.NoError(t, kv.Put(ctx, TokenKey, []byte(tok)))
		r := &fakeRemote{token: tok, user: staff}

		m := NewManager(r, kv, nil)
		require.NoError(t, m.Restore(ctx))
		u, ok := m.Current()
		require.True(t, ok)
		assert.Equal(t, staff, u)
	})

	t.Run("expired token skips the network", func(t *testing.T) {
		kv := storage.NewMemStore()
		old := signed(t, time.Now().Add(-time.Minute))
		require.NoError(t, kv.Put(ctx, TokenKey, []byte(old)))
		r := &fakeRemote{token: old, user: staff}

		m := NewManager(r, kv, nil)
		assert.ErrorIs(t, m.Restore(ctx), ErrNoSession)
		assert.Zero(t, r.meCalls)
		_, ok, _ := kv.Get(ctx, TokenKey)
		assert.False(t, ok)
	})

	t.Run("rejected token is dropped", func(t *testing.T) {
		kv := storage.NewMemStore()
		require.NoError(t, kv.Put(ctx, TokenKey, []byte(tok)))
		r := &fakeRemote{token: "other", user: staff}

		m := NewManager(r, kv, nil)
		assert.ErrorIs(t, m.Restore(ctx), ErrNoSession)
		_, ok, _ := kv.Get(ctx, TokenKey)
		assert.False(t, ok)
	})

	t.Run("offline keeps cached profile", func(t *testing.T) {
		kv := storage.NewMemStore()
		raw, _ := json.Marshal(staff)
		require.NoError(t, kv.Put(ctx, TokenKey, []byte(tok)))
		require.NoError(t, kv.Put(ctx, UserKey, raw))
		r := &fakeRemote{token: tok, meErr: errors.Join(api.ErrUnavailable, errors.New("dial tcp"))}

		m := NewManager(r, kv, nil)
		require.NoError(t, m.Restore(ctx))
		u, ok := m.Current()
		require.True(t, ok)
		assert.Equal(t, staff.ID, u.ID)
		assert.Equal(t, tok, m.Token())
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemStore()
	tok := signed(t, time.Now().Add(time.Hour))
	m := NewManager(&fakeRemote{token: tok, user: staff}, kv, nil)

	_, err := m.Login(ctx, "mai@fruit.test", "pw")
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx))

	_, ok := m.Current()
	assert.False(t, ok)
	_, err = m.StaffID()
	assert.ErrorIs(t, err, ErrNoSession)
	_, ok, _ = kv.Get(ctx, UserKey)
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, TokenExpired(signed(t, now.Add(time.Minute)), now))
	assert.True(t, TokenExpired(signed(t, now.Add(-time.Minute)), now))
	assert.False(t, TokenExpired("opaque-token", now))
}
