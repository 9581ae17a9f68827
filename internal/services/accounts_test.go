package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calco/internal/core"
	"calco/internal/ledger/memory"
)

func newAccounts(t *testing.T) (*AccountService, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.New()
	svc := NewAccountService(store, AccountOptions{PasswordSalt: "pepper"}, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc.now = clock
	svc.sessions.WithClock(clock)
	return svc, store, &now
}

func signupAdmin(t *testing.T, svc *AccountService) core.User {
	t.Helper()
	ctx := context.Background()
	inv, created, err := svc.BootstrapAdminInvitation(ctx, "root")
	require.NoError(t, err)
	require.True(t, created)
	u, err := svc.Signup(ctx, "root", "secret", "secret", inv.Hash)
	require.NoError(t, err)
	return u
}

func TestSignupAndSignin(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newAccounts(t)

	admin := signupAdmin(t, svc)
	assert.Equal(t, core.RoleAdmin, admin.Role)
	assert.NotEqual(t, "secret", admin.PasswordHash)

	invitations, err := store.ListInvitations(ctx)
	require.NoError(t, err)
	assert.Empty(t, invitations, "invitation is consumed by signup")

	_, created, err := svc.BootstrapAdminInvitation(ctx, "root")
	require.NoError(t, err)
	assert.False(t, created)

	sess, err := svc.Signin(ctx, "root", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)

	u, err := svc.Authenticate(ctx, sess.Token, core.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, u.ID)

	_, err = svc.Signin(ctx, "root", "wrong")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = svc.Signin(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSignupRejections(t *testing.T) {
	ctx := context.Background()
	svc, _, now := newAccounts(t)
	admin := signupAdmin(t, svc)

	inv, err := svc.CreateInvitation(ctx, admin, "bob", core.RoleGuest)
	require.NoError(t, err)
	assert.Contains(t, SignupURL(inv), "handle=bob")

	_, err = svc.Signup(ctx, "bob", "a", "b", inv.Hash)
	assert.ErrorIs(t, err, core.ErrPasswordMismatch)
	_, err = svc.Signup(ctx, "mallory", "a", "a", inv.Hash)
	assert.ErrorIs(t, err, core.ErrInvalidInvite)
	_, err = svc.Signup(ctx, "bob", "a", "a", "bogus")
	assert.ErrorIs(t, err, core.ErrInvalidInvite)

	*now = now.Add(2 * time.Hour)
	_, err = svc.Signup(ctx, "bob", "a", "a", inv.Hash)
	assert.ErrorIs(t, err, core.ErrInvalidInvite)

	refreshed, err := svc.CreateInvitation(ctx, admin, "bob", core.RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, inv.Hash, refreshed.Hash)

	bob, err := svc.Signup(ctx, "bob", "a", "a", inv.Hash)
	require.NoError(t, err)
	assert.Equal(t, core.RoleGuest, bob.Role)

	_, err = svc.CreateInvitation(ctx, bob, "eve", core.RoleGuest)
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestAuthenticateRoleAndExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _, now := newAccounts(t)
	admin := signupAdmin(t, svc)

	inv, err := svc.CreateInvitation(ctx, admin, "guest", core.RoleGuest)
	require.NoError(t, err)
	_, err = svc.Signup(ctx, "guest", "pw", "pw", inv.Hash)
	require.NoError(t, err)
	sess, err := svc.Signin(ctx, "guest", "pw")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, sess.Token, core.RoleGuest)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, sess.Token, core.RoleAdmin)
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = svc.Authenticate(ctx, "", core.RoleGuest)
	assert.ErrorIs(t, err, core.ErrForbidden)

	*now = now.Add(61 * time.Minute)
	_, err = svc.Authenticate(ctx, sess.Token, core.RoleGuest)
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestSignoutAndDeleteUser(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAccounts(t)
	admin := signupAdmin(t, svc)

	sess, err := svc.Signin(ctx, "root", "secret")
	require.NoError(t, err)
	require.NoError(t, svc.Signout(ctx, sess.Token))
	_, err = svc.Authenticate(ctx, sess.Token, core.RoleGuest)
	assert.ErrorIs(t, err, core.ErrForbidden)

	sess, err = svc.Signin(ctx, "root", "secret")
	require.NoError(t, err)
	deleted, err := svc.DeleteUser(ctx, sess.User, admin.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = svc.Authenticate(ctx, sess.Token, core.RoleGuest)
	assert.ErrorIs(t, err, core.ErrForbidden)

	deleted, err = svc.DeleteUser(ctx, sess.User, admin.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
