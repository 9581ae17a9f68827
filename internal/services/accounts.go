package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"calco/internal/cache"
	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/log"
)

const (
	DefaultInvitationTTL = time.Hour
	DefaultSessionTTL    = time.Hour
	pbkdf2Iterations     = 10000
	pbkdf2KeyLen         = 64
	sessionCacheSize     = 1024
)

type AccountOptions struct {
	// PasswordSalt is combined with the handle to salt every password hash.
	PasswordSalt  string
	InvitationTTL time.Duration
	SessionTTL    time.Duration
}

// Session is what signin hands back to the transport layer.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      core.User
}

// AccountService manages invitations, signup, signin and session lookups.
type AccountService struct {
	store    ledger.Store
	sessions *cache.LRUCache[core.User]
	opts     AccountOptions
	logger   *log.Logger
	now      func() time.Time
	newToken func() string
}

func NewAccountService(store ledger.Store, opts AccountOptions, logger *log.Logger) *AccountService {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = DefaultInvitationTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	return &AccountService{
		store:    store,
		sessions: cache.NewLRUCache[core.User](sessionCacheSize, opts.SessionTTL),
		opts:     opts,
		logger:   logger.WithComponent(log.ComponentAccounts),
		now:      time.Now,
		newToken: func() string { return uuid.NewString() },
	}
}

// SessionCache exposes the session cache so a cache.Manager can clean it.
func (s *AccountService) SessionCache() *cache.LRUCache[core.User] {
	return s.sessions
}

func (s *AccountService) hashPassword(handle, password string) string {
	salt := []byte(s.opts.PasswordSalt + handle)
	return hex.EncodeToString(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New))
}

func (s *AccountService) verifyPassword(u core.User, password string) bool {
	want := s.hashPassword(u.Handle, password)
	return subtle.ConstantTimeCompare([]byte(want), []byte(u.PasswordHash)) == 1
}

// SignupURL is the link an invited user follows.
func SignupURL(inv core.Invitation) string {
	q := url.Values{}
	q.Set("hash", inv.Hash)
	q.Set("handle", inv.Handle)
	return "/signup?" + q.Encode()
}

// CreateInvitation issues (or refreshes) the invitation for handle. Only
// admins may call it.
func (s *AccountService) CreateInvitation(ctx context.Context, actor core.User, handle string, role core.UserRole) (core.Invitation, error) {
	if !actor.Role.AtLeast(core.RoleAdmin) {
		return core.Invitation{}, core.ErrForbidden
	}
	return s.issueInvitation(ctx, handle, role)
}

func (s *AccountService) issueInvitation(ctx context.Context, handle string, role core.UserRole) (core.Invitation, error) {
	handle, err := core.NormalizeHandle(handle)
	if err != nil {
		return core.Invitation{}, err
	}
	if role == core.RoleNone {
		role = core.RoleGuest
	}
	expires := s.now().Add(s.opts.InvitationTTL).UTC()

	var inv core.Invitation
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		existing, err := tx.GetInvitationByHandle(ctx, handle)
		switch {
		case err == nil:
			if err := tx.RefreshInvitation(ctx, existing.ID, expires); err != nil {
				return err
			}
			existing.ExpiresAt = expires
			inv = existing
			return nil
		case !errors.Is(err, core.ErrNotFound):
			return err
		}
		inv, err = tx.CreateInvitation(ctx, core.Invitation{
			Handle:    handle,
			Hash:      uuid.NewString(),
			ExpiresAt: expires,
			Role:      role,
		})
		return err
	})
	if err != nil {
		return core.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	s.logger.InfoContext(ctx, "Invitation issued", log.FieldHandle, handle, "expires_at", expires)
	return inv, nil
}

// BootstrapAdminInvitation makes sure an admin can sign up on a fresh
// install. It returns false when the handle already has an account.
func (s *AccountService) BootstrapAdminInvitation(ctx context.Context, handle string) (core.Invitation, bool, error) {
	if _, err := s.store.GetUserByHandle(ctx, handle); err == nil {
		return core.Invitation{}, false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Invitation{}, false, fmt.Errorf("bootstrap admin: %w", err)
	}
	inv, err := s.issueInvitation(ctx, handle, core.RoleAdmin)
	if err != nil {
		return core.Invitation{}, false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return inv, true, nil
}

// Signup consumes an invitation and creates the account it was issued for.
func (s *AccountService) Signup(ctx context.Context, handle, password, confirm, hash string) (core.User, error) {
	handle, err := core.NormalizeHandle(handle)
	if err != nil {
		return core.User{}, err
	}
	if password == "" {
		return core.User{}, core.ErrEmptyPassword
	}
	if password != confirm {
		return core.User{}, core.ErrPasswordMismatch
	}
	if hash == "" {
		return core.User{}, core.ErrInvalidInvite
	}

	var user core.User
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.GetInvitationByHash(ctx, hash)
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrInvalidInvite
		}
		if err != nil {
			return err
		}
		if inv.Expired(s.now()) || inv.Handle != handle {
			return core.ErrInvalidInvite
		}
		user, err = tx.CreateUser(ctx, core.User{
			Handle:       handle,
			PasswordHash: s.hashPassword(handle, password),
			Role:         inv.Role,
		})
		if err != nil {
			return err
		}
		return tx.DeleteInvitation(ctx, inv.ID)
	})
	if err != nil {
		return core.User{}, fmt.Errorf("signup: %w", err)
	}

	s.logger.InfoContext(ctx, "User signed up", log.FieldHandle, user.Handle, log.FieldUserID, user.ID)
	return user, nil
}

// Signin checks credentials and starts a new session.
func (s *AccountService) Signin(ctx context.Context, handle, password string) (Session, error) {
	handle, err := core.NormalizeHandle(handle)
	if err != nil {
		return Session{}, err
	}
	if password == "" {
		return Session{}, core.ErrEmptyPassword
	}

	u, err := s.store.GetUserByHandle(ctx, handle)
	if errors.Is(err, core.ErrNotFound) {
		return Session{}, core.ErrUnauthorized
	}
	if err != nil {
		return Session{}, fmt.Errorf("signin: %w", err)
	}
	if !s.verifyPassword(u, password) {
		s.logger.WarnContext(ctx, "Signin rejected", log.FieldHandle, handle)
		return Session{}, core.ErrUnauthorized
	}

	if u.Token != "" {
		s.sessions.Delete(u.Token)
	}
	token := s.newToken()
	expires := s.now().Add(s.opts.SessionTTL).UTC()
	if err := s.store.SetUserToken(ctx, u.ID, token, expires); err != nil {
		return Session{}, fmt.Errorf("signin: %w", err)
	}
	u.Token, u.TokenExpiresAt = token, expires
	s.sessions.SetUntil(token, u, expires)

	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

// Signout ends the session identified by token. Unknown tokens are ignored.
func (s *AccountService) Signout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	s.sessions.Delete(token)
	u, err := s.store.GetUserByToken(ctx, token)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signout: %w", err)
	}
	if err := s.store.SetUserToken(ctx, u.ID, "", time.Time{}); err != nil {
		return fmt.Errorf("signout: %w", err)
	}
	return nil
}

// Authenticate resolves token to a user holding at least required.
// Missing, expired or insufficient sessions all yield core.ErrForbidden.
func (s *AccountService) Authenticate(ctx context.Context, token string, required core.UserRole) (core.User, error) {
	if token == "" {
		return core.User{}, core.ErrForbidden
	}
	now := s.now()

	u, ok := s.sessions.Get(token)
	if !ok {
		var err error
		u, err = s.store.GetUserByToken(ctx, token)
		if errors.Is(err, core.ErrNotFound) {
			return core.User{}, core.ErrForbidden
		}
		if err != nil {
			return core.User{}, fmt.Errorf("authenticate: %w", err)
		}
		if u.SessionValid(token, now) {
			s.sessions.SetUntil(token, u, u.TokenExpiresAt)
		}
	}
	if !u.SessionValid(token, now) {
		s.sessions.Delete(token)
		return core.User{}, core.ErrForbidden
	}
	if !u.Role.AtLeast(required) {
		return core.User{}, core.ErrForbidden
	}
	return u, nil
}

func (s *AccountService) ListUsers(ctx context.Context, actor core.User) ([]core.User, error) {
	if !actor.Role.AtLeast(core.RoleAdmin) {
		return nil, core.ErrForbidden
	}
	return s.store.ListUsers(ctx)
}

func (s *AccountService) ListInvitations(ctx context.Context, actor core.User) ([]core.Invitation, error) {
	if !actor.Role.AtLeast(core.RoleAdmin) {
		return nil, core.ErrForbidden
	}
	return s.store.ListInvitations(ctx)
}

// DeleteUser removes an account. It reports false when there was none.
func (s *AccountService) DeleteUser(ctx context.Context, actor core.User, id int64) (bool, error) {
	if !actor.Role.AtLeast(core.RoleAdmin) {
		return false, core.ErrForbidden
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete user: %w", err)
	}
	s.sessions.DeleteFunc(func(u core.User) bool { return u.ID == id })
	s.logger.InfoContext(ctx, "User deleted", log.FieldUserID, id)
	return true, nil
}
