package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/rbac"
	"github.com/wayne-enterprises/wayne-console/internal/shared"
)

type recordingPusher struct {
	mu       sync.Mutex
	messages []string
	kinds    []notify.Kind
}

func (p *recordingPusher) Push(message string, kind notify.Kind, _ time.Duration) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	p.kinds = append(p.kinds, kind)
	return "n"
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type failingStorage struct {
	Storage
	setErr error
}

func (f failingStorage) Set(context.Context, string, []byte) error { return f.setErr }

func newFileStore(t *testing.T) (*Store, *FileStorage, *recordingPusher) {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	pusher := &recordingPusher{}
	return NewStore(fs, pusher, nil), fs, pusher
}

func TestLoginPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	store, fs, _ := newFileStore(t)

	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: "admin", Token: "tok"}))
	assert.Equal(t, LoggedIn, store.State())
	p, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, rbac.RoleAdmin, p.Role)

	restored := NewStore(fs, nil, nil)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	got, _ := restored.Current()
	assert.Equal(t, p, got)
	assert.Equal(t, "tok", restored.Token())
}

func TestLoginRejectsIllFormedPrincipal(t *testing.T) {
	store, _, _ := newFileStore(t)
	ctx := context.Background()

	for _, p := range []Principal{
		{Username: "", Role: rbac.RoleAdmin, Token: "t"},
		{Username: "bruce", Role: rbac.RoleAdmin, Token: ""},
		{Username: "bruce", Role: " ", Token: "t"},
	} {
		err := store.Login(ctx, p)
		assert.ErrorIs(t, err, shared.ErrValidation)
	}
	assert.Equal(t, LoggedOut, store.State())
}

func TestUnrecognizedRolesLogInReadOnly(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		raw  rbac.Role
		want rbac.Role
	}{
		{"user", rbac.RoleGuest},
		{"analista", rbac.Role("ANALISTA")},
	}
	for _, tc := range cases {
		store, fs, _ := newFileStore(t)
		require.NoError(t, store.Login(ctx, Principal{Username: "guest", Role: tc.raw, Token: "tok"}))
		assert.Equal(t, LoggedIn, store.State())
		p, ok := store.Current()
		require.True(t, ok)
		assert.Equal(t, tc.want, p.Role)
		assert.Equal(t, rbac.ReadOnly, p.Capabilities())

		restored := NewStore(fs, nil, nil)
		ok, err := restored.Restore(ctx)
		require.NoError(t, err)
		require.True(t, ok, "role %q must survive a restart", tc.raw)
		got, _ := restored.Current()
		assert.Equal(t, rbac.ReadOnly, got.Capabilities())
	}
}

func TestLoginStorageFailureKeepsSessionActive(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("disk full")
	store := NewStore(failingStorage{Storage: fs, setErr: boom}, nil, nil)

	err = store.Login(context.Background(), Principal{Username: "alfred", Role: rbac.RoleGerente, Token: "t"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, LoggedIn, store.State())
}

func TestRestoreDiscardsMalformedValue(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{`{not json`, `{"username":"","role":"ADMIN","token":"t"}`, `{"username":"x","role":"","token":"t"}`} {
		store, fs, _ := newFileStore(t)
		require.NoError(t, fs.Set(ctx, PrincipalKey, []byte(raw)))

		ok, err := store.Restore(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, LoggedOut, store.State())

		_, err = fs.Get(ctx, PrincipalKey)
		assert.ErrorIs(t, err, ErrKeyNotFound, "malformed value %q must be removed", raw)
	}
}

func TestRestoreWithoutValue(t *testing.T) {
	store, _, _ := newFileStore(t)
	ok, err := store.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, fs, pusher := newFileStore(t)

	var events []Event
	store.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, store.Logout(ctx))
	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "t"}))
	require.NoError(t, store.Logout(ctx))
	require.NoError(t, store.Logout(ctx))

	require.Len(t, events, 2)
	assert.Equal(t, LoggedIn, events[0].State)
	assert.Equal(t, LoggedOut, events[1].State)
	assert.Nil(t, events[1].Principal)
	assert.Zero(t, pusher.count())

	_, err := fs.Get(ctx, PrincipalKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInvalidateNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	store, _, pusher := newFileStore(t)
	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "t"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Invalidate(ctx, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, LoggedOut, store.State())
	require.Equal(t, 1, pusher.count())
	assert.Equal(t, DefaultInvalidReason, pusher.messages[0])
	assert.Equal(t, notify.KindError, pusher.kinds[0])

	store.Invalidate(ctx, "again")
	assert.Equal(t, 1, pusher.count())
}

// gatedStorage blocks Set until release is closed.
type gatedStorage struct {
	Storage
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStorage) Set(ctx context.Context, key string, value []byte) error {
	close(g.entered)
	<-g.release
	return g.Storage.Set(ctx, key, value)
}

func TestInvalidateDuringLoginWriteLeavesNoPrincipal(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	gated := &gatedStorage{Storage: fs, entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(gated, nil, nil)

	loginDone := make(chan error, 1)
	go func() {
		loginDone <- store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "tok"})
	}()
	<-gated.entered

	invalidated := make(chan struct{})
	go func() {
		store.Invalidate(ctx, "")
		close(invalidated)
	}()
	require.Eventually(t, func() bool { return store.State() == LoggedOut }, time.Second, time.Millisecond)

	close(gated.release)
	require.NoError(t, <-loginDone)
	<-invalidated

	_, err = fs.Get(ctx, PrincipalKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	restored := NewStore(fs, nil, nil)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateBeforeLoginWriteSkipsTheWrite(t *testing.T) {
	ctx := context.Background()
	store, fs, _ := newFileStore(t)
	store.Subscribe(func(ev Event) {
		if ev.State == LoggedIn {
			store.Invalidate(ctx, "")
		}
	})

	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "tok"}))
	assert.Equal(t, LoggedOut, store.State())
	_, err := fs.Get(ctx, PrincipalKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInvalidateTokenSparesNewerSession(t *testing.T) {
	ctx := context.Background()
	store, fs, pusher := newFileStore(t)
	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "tok-new"}))

	store.InvalidateToken(ctx, "tok-old", "")
	assert.Equal(t, LoggedIn, store.State())
	assert.Zero(t, pusher.count())
	_, err := fs.Get(ctx, PrincipalKey)
	require.NoError(t, err)

	store.InvalidateToken(ctx, "tok-new", "")
	assert.Equal(t, LoggedOut, store.State())
	assert.Equal(t, 1, pusher.count())
}

func TestCurrentRoleFeedsRoleGate(t *testing.T) {
	store, _, _ := newFileStore(t)
	_, ok := store.CurrentRole()
	assert.False(t, ok)

	require.NoError(t, store.Login(context.Background(), Principal{Username: "lucius", Role: "gerente", Token: "t"}))
	role, ok := store.CurrentRole()
	require.True(t, ok)
	assert.Equal(t, rbac.RoleGerente, role)
	p, _ := store.Current()
	assert.True(t, p.Capabilities().CanEdit)
	assert.False(t, p.Capabilities().CanManageUsers)
}

func TestTokenExpiryIsInformational(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bruce", "exp": exp.Unix()}).SignedString([]byte("s"))
	require.NoError(t, err)

	got, ok := Principal{Token: tok}.TokenExpiry()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = Principal{Token: "opaque"}.TokenExpiry()
	assert.False(t, ok)
}

func TestRedisStorageRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	rs := NewRedisStorage(client, "")
	store := NewStore(rs, nil, nil)
	require.NoError(t, store.Login(ctx, Principal{Username: "bruce", Role: rbac.RoleAdmin, Token: "t"}))
	assert.True(t, mr.Exists("wayne:wayneUser"))

	other := NewStore(rs, nil, nil)
	ok, err := other.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, other.Logout(ctx))
	assert.False(t, mr.Exists("wayne:wayneUser"))

	_, err = rs.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFileStorageRejectsPathKeys(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, fs.Set(context.Background(), "../escape", []byte("x")))
	assert.NoError(t, fs.Delete(context.Background(), "absent"))
}

func TestPreferencesDarkMode(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	prefs := NewPreferences(fs)
	ctx := context.Background()

	on, err := prefs.DarkMode(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, prefs.SetDarkMode(ctx, true))
	on, err = prefs.DarkMode(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	raw, err := fs.Get(ctx, DarkModeKey)
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))
}
