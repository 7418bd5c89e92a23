package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/workflo/cmsauth/store"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	admin := f.user(t, "admin", "admin-password", store.RoleAdmin)

	for _, tc := range []struct {
		nu    NewUser
		field string
	}{
		{NewUser{Email: "nope", Username: "x", Password: "long-enough", Role: store.RoleViewer}, "email"},
		{NewUser{Email: "x@workflo.nl", Username: " ", Password: "long-enough", Role: store.RoleViewer}, "username"},
		{NewUser{Email: "x@workflo.nl", Username: "a@b", Password: "long-enough", Role: store.RoleViewer}, "username"},
		{NewUser{Email: "x@workflo.nl", Username: "x", Password: "short", Role: store.RoleViewer}, "password"},
		{NewUser{Email: "x@workflo.nl", Username: "x", Password: "long-enough", Role: "root"}, "role"},
	} {
		_, err := f.svc.CreateUser(ctx, admin, tc.nu)
		require.True(t, errors.Is(err, ValidationFailure{Field: tc.field}), "expecting failure on %v got %v", tc.field, err)
	}

	_, err := f.svc.CreateUser(ctx, admin, NewUser{Email: "ADMIN@workflo.nl", Username: "other", Password: "long-enough", Role: store.RoleViewer})
	require.Equal(t, store.DuplicateUser{Field: "email"}, err)

	u, err := f.svc.CreateUser(ctx, admin, NewUser{Email: "eve@workflo.nl", Username: "eve", Password: "long-enough", Role: store.RoleViewer, Inactive: true})
	require.NoError(t, err)
	require.False(t, u.Active)
	_, err = f.svc.Login(ctx, Credentials{Login: "eve", Password: "long-enough"})
	require.Equal(t, InvalidCredentials{}, err)

	created := f.audit(t, ActionUserCreated)
	require.Len(t, created, 2)
	byResource := map[string]store.AuditEvent{}
	for _, ev := range created {
		byResource[ev.ResourceID] = ev
	}
	require.Equal(t, admin.ID, byResource[u.ID].UserID)
	require.Equal(t, "eve", byResource[u.ID].Data["username"])
	require.Empty(t, byResource[admin.ID].UserID, "bootstrap users have no actor")

	found, err := f.svc.FindUser(ctx, "eve@workflo.nl")
	require.NoError(t, err)
	require.Equal(t, u.ID, found.ID)
	found, err = f.svc.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "eve", found.Username)
	_, err = f.svc.FindUser(ctx, "mallory")
	require.True(t, errors.Is(err, store.UserNotFound{}))
}

func TestUpdateRoleRevokesSessions(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	admin := f.user(t, "admin", "admin-password", store.RoleAdmin)
	bob := f.user(t, "bob", "bob-password", store.RoleViewer)
	res := f.login(t, "bob", "bob-password")

	err := f.svc.UpdateRole(ctx, admin, admin.ID, store.RoleViewer)
	require.True(t, errors.Is(err, ValidationFailure{Field: "role"}))
	err = f.svc.UpdateRole(ctx, admin, "missing", store.RoleViewer)
	require.True(t, errors.Is(err, store.UserNotFound{}))

	require.NoError(t, f.svc.UpdateRole(ctx, admin, bob.ID, store.RoleEditor))
	_, err = f.svc.ValidateSession(ctx, res.Session.Token)
	require.Equal(t, InvalidSession{}, err)

	res = f.login(t, "bob", "bob-password")
	sc, err := f.svc.RequireAuth(ctx, res.Session.Token, store.RoleEditor)
	require.NoError(t, err)
	require.Equal(t, store.RoleEditor, sc.Claims.Role)

	changes := f.audit(t, ActionRoleChanged)
	require.Len(t, changes, 1)
	require.Equal(t, "viewer", changes[0].Data["from"])
	require.Equal(t, "editor", changes[0].Data["to"])
}

func TestDeactivateUser(t *testing.T) {
	ctx := context.Background()
	f, cleanup := setup(t)
	defer cleanup()
	admin := f.user(t, "admin", "admin-password", store.RoleAdmin)
	bob := f.user(t, "bob", "bob-password", store.RoleEditor)
	f.login(t, "bob", "bob-password")
	f.login(t, "bob", "bob-password")

	err := f.svc.SetUserActive(ctx, admin, admin.ID, false)
	require.True(t, errors.Is(err, ValidationFailure{Field: "active"}))

	require.NoError(t, f.svc.SetUserActive(ctx, admin, bob.ID, false))
	require.Empty(t, f.activeSessions(t, bob.ID))
	_, err = f.svc.Login(ctx, Credentials{Login: "bob", Password: "bob-password"})
	require.Equal(t, InvalidCredentials{}, err)

	require.NoError(t, f.svc.SetUserActive(ctx, admin, bob.ID, true))
	f.login(t, "bob", "bob-password")

	require.Len(t, f.audit(t, ActionUserDeactivated, ActionUserActivated), 2)

	users, err := f.svc.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	sessions, err := f.svc.ListSessions(ctx, bob.ID, false)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
}
