package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"calco/internal/core"
	"calco/internal/log"
	"calco/internal/services"
)

type userContextKey struct{}

func withUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// currentUser returns the user attached by page or api.
func currentUser(ctx context.Context) (core.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(core.User)
	return u, ok
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// authenticate resolves the session cookie. A denied session is reported as
// core.ErrForbidden; anything else is an infrastructure failure.
func (s *Server) authenticate(r *http.Request, role core.UserRole) (core.User, error) {
	return s.accounts.Authenticate(r.Context(), sessionToken(r), role)
}

// page guards a rendered page: visitors without access go to /signin.
func (s *Server) page(role core.UserRole, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r, role)
		if errors.Is(err, core.ErrForbidden) {
			RedirectTo("/signin").Write(w)
			return
		}
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		next(w, r.WithContext(withUser(r.Context(), u)))
	}
}

// api guards a form endpoint: callers without access get a plain 404 so the
// route does not reveal itself.
func (s *Server) api(role core.UserRole, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r, role)
		if err != nil {
			if errors.Is(err, core.ErrForbidden) {
				log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Access denied",
					log.FieldPath, r.URL.Path)
			}
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(withUser(r.Context(), u)))
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess services.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
