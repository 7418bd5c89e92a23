package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/workflo/cmsauth/internal/testutil"
	"github.com/workflo/cmsauth/store"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

var epoch = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	st    *store.Store
	clock *testutil.Clock
}

func setup(t *testing.T, opts ...Option) (*fixture, func()) {
	ctx := context.Background()
	clock := testutil.NewClock(epoch)
	st, cleanup := testutil.AcquireStore(ctx, t, "auth", store.WithClock(clock.Now))
	issuer, err := NewTokenIssuer([]byte(testSecret))
	require.NoError(t, err)
	opts = append([]Option{WithClock(clock.Now), WithFailureDelay(0), WithPasswordCost(bcrypt.MinCost)}, opts...)
	f := &fixture{svc: New(st, issuer, opts...), st: st, clock: clock}
	return f, func() {
		f.svc.Wait()
		cleanup()
	}
}

func (f *fixture) user(t *testing.T, username, password string, role store.Role) *store.User {
	u, err := f.svc.CreateUser(context.Background(), nil, NewUser{
		Email:    username + "@workflo.nl",
		Username: username,
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, login, password string) *LoginResult {
	res, err := f.svc.Login(context.Background(), Credentials{Login: login, Password: password})
	require.NoError(t, err)
	return res
}

func (f *fixture) audit(t *testing.T, actions ...string) []store.AuditEvent {
	f.svc.Wait()
	events, err := f.st.ListAuditEvents(context.Background(), store.AuditFilter{Actions: actions})
	require.NoError(t, err)
	return events
}

func (f *fixture) activeSessions(t *testing.T, userID string) []store.Session {
	sessions, err := f.st.ListUserSessions(context.Background(), userID, true, 0)
	require.NoError(t, err)
	return sessions
}

func TestLoginAndFailedLogin(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	admin := f.user(t, "admin", "correct horse", store.RoleAdmin)

	res, err := f.svc.Login(ctx, Credentials{
		Login:    "admin",
		Password: "correct horse",
		Client:   Client{IPAddress: "192.0.2.10", UserAgent: "tests"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Session.Token)
	require.Equal(t, admin.ID, res.User.ID)
	require.Equal(t, DefaultSessionTTL, res.MaxAge)
	require.Equal(t, epoch.Add(DefaultSessionTTL), res.Session.ExpiresAt)
	require.Equal(t, epoch, *res.User.LastLoginAt)

	logins := f.audit(t, ActionLogin)
	require.Len(t, logins, 1)
	require.Equal(t, admin.ID, logins[0].UserID)
	require.Equal(t, res.Session.ID, logins[0].ResourceID)
	require.Equal(t, "192.0.2.10", logins[0].IPAddress)

	_, err = f.svc.Login(ctx, Credentials{Login: "admin", Password: "wrong"})
	require.Equal(t, InvalidCredentials{}, err)
	require.Equal(t, "Invalid credentials", err.Error())

	failed := f.audit(t, ActionFailedLogin)
	require.Len(t, failed, 1)
	require.Equal(t, admin.ID, failed[0].UserID)
	require.Len(t, f.activeSessions(t, admin.ID), 1, "a failed login must not create a session")
	require.Len(t, f.audit(t, ActionLogin), 1)
}

func TestLoginRememberMe(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)

	res, err := f.svc.Login(context.Background(), Credentials{Login: "bob@workflo.nl", Password: "bob-password", RememberMe: true})
	require.NoError(t, err)
	require.Equal(t, DefaultRememberTTL, res.MaxAge)
	require.Equal(t, epoch.Add(DefaultRememberTTL), res.Session.ExpiresAt)
}

func TestLoginDoesNotRevealWhichPartFailed(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "active", "the-password", store.RoleViewer)
	inactive := f.user(t, "inactive", "the-password", store.RoleViewer)
	require.NoError(t, f.st.SetUserActive(ctx, inactive.ID, false))

	type testCase struct {
		name     string
		login    string
		password string
		ok       bool
	}
	for _, tc := range []testCase{
		{"valid", "active", "the-password", true},
		{"unknown user", "nobody", "the-password", false},
		{"wrong password", "active", "not-the-password", false},
		{"inactive user", "inactive", "the-password", false},
		{"inactive user wrong password", "inactive", "nope", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.svc.Login(ctx, Credentials{Login: tc.login, Password: tc.password})
			if tc.ok {
				require.NoError(t, err)
				require.NotNil(t, res)
				return
			}
			require.Nil(t, res)
			require.Equal(t, InvalidCredentials{}, err)
			require.Equal(t, MsgInvalidCredentials, err.Error())
		})
	}
	require.Empty(t, f.activeSessions(t, inactive.ID))
	// the unknown user has no row, so only three failures are audited
	require.Len(t, f.audit(t, ActionFailedLogin), 3)
}

func TestLoginValidation(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()
	_, err := f.svc.Login(context.Background(), Credentials{Login: " ", Password: "x"})
	require.True(t, errors.Is(err, ValidationFailure{Field: "login"}))
	_, err = f.svc.Login(context.Background(), Credentials{Login: "bob"})
	require.True(t, errors.Is(err, ValidationFailure{Field: "password"}))
	require.Empty(t, f.audit(t))
}

func TestFailedLoginIsDelayed(t *testing.T) {
	f, cleanup := setup(t, WithFailureDelay(50*time.Millisecond))
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)

	for _, login := range []string{"bob", "nobody"} {
		start := time.Now()
		_, err := f.svc.Login(context.Background(), Credentials{Login: login, Password: "wrong-password"})
		require.Equal(t, InvalidCredentials{}, err)
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestFailedLoginDelayHonorsContext(t *testing.T) {
	f, cleanup := setup(t, WithFailureDelay(5*time.Second))
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)

	// the lookup runs while ctx is still live, only the delay is cut short
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := f.svc.Login(ctx, Credentials{Login: "bob", Password: "wrong-password"})
	require.Equal(t, InvalidCredentials{}, err, "a cancelled context shortens the delay but not the answer")
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFailedLoginTimingDoesNotRevealUsers(t *testing.T) {
	f, cleanup := setup(t, WithPasswordCost(10), WithFailureDelay(300*time.Millisecond))
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)

	measure := func(login string) time.Duration {
		start := time.Now()
		_, err := f.svc.Login(context.Background(), Credentials{Login: login, Password: "wrong-password"})
		require.Equal(t, InvalidCredentials{}, err)
		return time.Since(start)
	}
	measure("nobody")
	unknown := measure("nobody")
	existing := measure("bob")
	diff := unknown - existing
	if diff < 0 {
		diff = -diff
	}
	require.Less(t, diff, 50*time.Millisecond, "unknown user took %v, wrong password took %v", unknown, existing)

	f.svc.failureDelay = 0
	unknown = measure("nobody")
	existing = measure("bob")
	require.Greater(t, unknown, existing/4, "unknown users must still pay for a hash comparison")
}

func TestValidateSessionRequiresAllChecks(t *testing.T) {
	ctx := context.Background()
	other, err := NewTokenIssuer([]byte("another-secret-that-is-long-enough!!"))
	require.NoError(t, err)

	type testCase struct {
		name       string
		invalidate func(t *testing.T, f *fixture, res *LoginResult) string
	}
	for _, tc := range []testCase{
		{"signature", func(t *testing.T, f *fixture, res *LoginResult) string {
			claims, err := f.svc.tokens.Decode(res.Session.Token)
			require.NoError(t, err)
			forged, err := other.Issue(*claims)
			require.NoError(t, err)
			return forged
		}},
		{"expiry", func(t *testing.T, f *fixture, res *LoginResult) string {
			f.clock.Advance(DefaultSessionTTL)
			return res.Session.Token
		}},
		{"session row", func(t *testing.T, f *fixture, res *LoginResult) string {
			_, err := f.st.DeactivateSession(ctx, res.Session.ID)
			require.NoError(t, err)
			return res.Session.Token
		}},
		{"user", func(t *testing.T, f *fixture, res *LoginResult) string {
			require.NoError(t, f.st.SetUserActive(ctx, res.User.ID, false))
			return res.Session.Token
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, cleanup := setup(t)
			defer cleanup()
			f.user(t, "bob", "bob-password", store.RoleEditor)
			res := f.login(t, "bob", "bob-password")

			sc, err := f.svc.ValidateSession(ctx, res.Session.Token)
			require.NoError(t, err)
			require.Equal(t, res.Session.ID, sc.Session.ID)
			require.Equal(t, "bob", sc.Claims.Username)

			token := tc.invalidate(t, f, res)
			sc, err = f.svc.ValidateSession(ctx, token)
			require.Nil(t, sc)
			require.Equal(t, InvalidSession{}, err)
		})
	}
}

func TestExpiredSessionIsDeactivated(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	bob := f.user(t, "bob", "bob-password", store.RoleEditor)

	id := store.NewSessionID()
	token, err := f.svc.tokens.Issue(Claims{
		UserID:   bob.ID,
		Username: bob.Username,
		Role:     bob.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	_, err = f.st.CreateSession(ctx, store.Session{ID: id, UserID: bob.ID, Token: token, ExpiresAt: epoch.Add(-time.Second)})
	require.NoError(t, err)

	sc, err := f.svc.ValidateSession(ctx, token)
	require.Nil(t, sc)
	require.Equal(t, InvalidSession{}, err)

	all, err := f.st.ListUserSessions(ctx, bob.ID, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.False(t, all[0].Active)
}

func TestTokenMustMatchSession(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleViewer)
	res := f.login(t, "bob", "bob-password")

	// role changed behind the service's back
	require.NoError(t, f.st.UpdateRole(ctx, res.User.ID, store.RoleAdmin))
	_, err := f.svc.ValidateSession(ctx, res.Session.Token)
	require.Equal(t, InvalidSession{}, err)
	require.Empty(t, f.activeSessions(t, res.User.ID))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)
	res := f.login(t, "bob", "bob-password")
	other := f.login(t, "bob", "bob-password")
	require.NotEqual(t, res.Session.Token, other.Session.Token)

	require.NoError(t, f.svc.Logout(ctx, res.Session.Token, Client{IPAddress: "192.0.2.1"}))
	_, err := f.svc.ValidateSession(ctx, res.Session.Token)
	require.Equal(t, InvalidSession{}, err)
	_, err = f.svc.ValidateSession(ctx, other.Session.Token)
	require.NoError(t, err, "logout only ends one session")

	require.Equal(t, InvalidSession{}, f.svc.Logout(ctx, res.Session.Token, Client{}))
	logouts := f.audit(t, ActionLogout)
	require.Len(t, logouts, 1)
	require.Equal(t, res.Session.ID, logouts[0].ResourceID)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	bob := f.user(t, "bob", "old-password", store.RoleEditor)
	current := f.login(t, "bob", "old-password")
	second := f.login(t, "bob", "old-password")
	third := f.login(t, "bob", "old-password")

	for _, tc := range []struct {
		req   ChangePassword
		field string
	}{
		{ChangePassword{NewPassword: "new-password", ConfirmPassword: "new-password"}, "current_password"},
		{ChangePassword{CurrentPassword: "old-password", NewPassword: "new-password", ConfirmPassword: "other"}, "confirm_password"},
		{ChangePassword{CurrentPassword: "old-password", NewPassword: "short", ConfirmPassword: "short"}, "new_password"},
		{ChangePassword{CurrentPassword: "old-password", NewPassword: "old-password", ConfirmPassword: "old-password"}, "new_password"},
	} {
		err := f.svc.ChangePassword(ctx, bob.ID, tc.req)
		require.True(t, errors.Is(err, ValidationFailure{Field: tc.field}), "expecting failure on %v got %v", tc.field, err)
	}

	err := f.svc.ChangePassword(ctx, bob.ID, ChangePassword{
		CurrentPassword: "wrong-password", NewPassword: "new-password", ConfirmPassword: "new-password",
	})
	require.Equal(t, InvalidCredentials{}, err)

	err = f.svc.ChangePassword(ctx, bob.ID, ChangePassword{
		CurrentPassword: "old-password",
		NewPassword:     "new-password",
		ConfirmPassword: "new-password",
		KeepSessionID:   current.Session.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.ValidateSession(ctx, current.Session.Token)
	require.NoError(t, err)
	for _, res := range []*LoginResult{second, third} {
		_, err = f.svc.ValidateSession(ctx, res.Session.Token)
		require.Equal(t, InvalidSession{}, err)
	}

	_, err = f.svc.Login(ctx, Credentials{Login: "bob", Password: "old-password"})
	require.Equal(t, InvalidCredentials{}, err)
	f.login(t, "bob", "new-password")

	changes := f.audit(t, ActionPasswordChange)
	require.Len(t, changes, 1)
	require.Equal(t, float64(2), changes[0].Data["revoked_sessions"])

	u, err := f.st.FindUserByID(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, epoch, *u.PasswordChangedAt)
}

func TestRequireAuth(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "viewer", "viewer-password", store.RoleViewer)
	f.user(t, "admin", "admin-password", store.RoleAdmin)
	viewer := f.login(t, "viewer", "viewer-password")
	admin := f.login(t, "admin", "admin-password")

	_, err := f.svc.RequireAuth(ctx, viewer.Session.Token)
	require.NoError(t, err)
	_, err = f.svc.RequireAuth(ctx, viewer.Session.Token, store.RoleEditor)
	require.Equal(t, InsufficientPermissions{}, err)
	_, err = f.svc.RequireAuth(ctx, admin.Session.Token, store.RoleEditor)
	require.NoError(t, err)
	_, err = f.svc.RequireAuth(ctx, "garbage", store.RoleEditor)
	require.Equal(t, InvalidSession{}, err)

	_, err = f.svc.RequirePermission(ctx, viewer.Session.Token, "read", "articles")
	require.NoError(t, err)
	_, err = f.svc.RequirePermission(ctx, viewer.Session.Token, "publish", "articles")
	require.Equal(t, InsufficientPermissions{}, err)
	_, err = f.svc.RequirePermission(ctx, admin.Session.Token, PermManageUsers, "")
	require.NoError(t, err)
}

func TestSweepExpiredSessions(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)
	short := f.login(t, "bob", "bob-password")
	long, err := f.svc.Login(ctx, Credentials{Login: "bob", Password: "bob-password", RememberMe: true})
	require.NoError(t, err)

	f.clock.Advance(DefaultSessionTTL + time.Minute)
	n, err := f.svc.SweepExpiredSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = f.svc.SweepExpiredSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	active := f.activeSessions(t, short.User.ID)
	require.Len(t, active, 1)
	require.Equal(t, long.Session.ID, active[0].ID)
	require.Len(t, f.audit(t, ActionSessionsSwept), 1)
}

func TestSweepEvery(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()
	bob := f.user(t, "bob", "bob-password", store.RoleEditor)
	f.login(t, "bob", "bob-password")
	f.clock.Advance(2 * DefaultSessionTTL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.SweepEvery(ctx, 5*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		sessions, err := f.st.ListUserSessions(context.Background(), bob.ID, true, 0)
		return err == nil && len(sessions) == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type failingStore struct {
	*store.Store
	failLookup bool
	failAudit  bool
}

func (f failingStore) FindUserByLogin(ctx context.Context, login string) (*store.User, error) {
	if f.failLookup {
		return nil, errors.New("database is locked")
	}
	return f.Store.FindUserByLogin(ctx, login)
}

func (f failingStore) AppendAuditEvent(ctx context.Context, ev store.AuditEvent) (int64, error) {
	if f.failAudit {
		return 0, errors.New("disk I/O error")
	}
	return f.Store.AppendAuditEvent(ctx, ev)
}

func TestInfrastructureFailures(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)

	broken := New(failingStore{Store: f.st, failAudit: true}, f.svc.tokens,
		WithClock(f.clock.Now), WithFailureDelay(0), WithPasswordCost(bcrypt.MinCost))
	res, err := broken.Login(ctx, Credentials{Login: "bob", Password: "bob-password"})
	require.NoError(t, err, "audit failures must not block a login")
	broken.Wait()
	_, err = f.svc.ValidateSession(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Empty(t, f.audit(t, ActionLogin))

	broken = New(failingStore{Store: f.st, failLookup: true}, f.svc.tokens, WithFailureDelay(0))
	_, err = broken.Login(ctx, Credentials{Login: "bob", Password: "bob-password"})
	require.True(t, errors.Is(err, ServiceFailure{}))
	require.Equal(t, MsgServiceFailure, err.Error())
	require.EqualError(t, err.(ServiceFailure).Cause(), "database is locked")
}

func TestRejectCache(t *testing.T) {
	ctx := context.Background()
	rc, err := NewRejectCache(time.Hour)
	require.NoError(t, err)
	defer rc.Close()
	f, cleanup := setup(t, WithRejectCache(rc))
	defer cleanup()
	f.user(t, "bob", "bob-password", store.RoleEditor)
	res := f.login(t, "bob", "bob-password")

	require.False(t, rc.Rejected(res.Session.Token))
	require.NoError(t, f.svc.Logout(ctx, res.Session.Token, Client{}))
	require.True(t, rc.Rejected(res.Session.Token))

	_, err = f.svc.ValidateSession(ctx, "not.a.token")
	require.Equal(t, InvalidSession{}, err)
	require.True(t, rc.Rejected("not.a.token"))

	alive := f.login(t, "bob", "bob-password")
	_, err = f.svc.ValidateSession(ctx, alive.Session.Token)
	require.NoError(t, err)
	require.False(t, rc.Rejected(alive.Session.Token))
}
