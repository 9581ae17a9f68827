package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"calco/internal/core"
	"calco/internal/log"
)

// pageData is what every template receives.
type pageData struct {
	Title string
	User  *core.User
	Data  any
}

func (s *Server) newPage(r *http.Request, title string, data any) pageData {
	p := pageData{Title: title, Data: data}
	if u, ok := currentUser(r.Context()); ok {
		p.User = &u
	}
	return p
}

// render executes a page template into a buffer so a failing template never
// leaves half a page on the wire.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusInternalServerError, "templates not loaded").Write(w)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", name)
		InternalServerError().Write(w)
		return
	}
	NewResponse().Status(status).Header("Content-Type", "text/html; charset=utf-8").Body(buf.Bytes()).Write(w)
}

// renderError answers a page request that failed.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, core.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrValidation):
		status, message = http.StatusUnprocessableEntity, validationMessage(err)
	default:
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Page failed", err, log.OpRender,
			log.NewFields().WithComponent(log.ComponentHTTP))
	}
	if s.templates == nil || s.templates.Lookup("error.html") == nil {
		ErrorPage(status, message).Write(w)
		return
	}
	s.render(w, r, status, "error.html", s.newPage(r, message, message))
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// handleReady checks the templates and pings the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "Store ping failed", log.FieldError, err)
		checks["store"] = "failed"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{"active_clients": s.rateLimiter.ActiveClients()}
	checks["sessions"] = map[string]any{"cached": s.accounts.SessionCache().Size()}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics exposes the middleware counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	w.WriteHeader(http.StatusOK)
	metric := func(name, kind, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_last_response_time_microseconds", "gauge", "Duration of the last request", traceMetrics.AverageResponseTime)
	metric("rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rateLimitMetrics.TotalHits)
	metric("rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rateLimitMetrics.ClientCount)
	metric("security_suspicious_requests_total", "counter", "Requests flagged as suspicious", securityMetrics.SuspiciousRequests)
	metric("security_invalid_ip_total", "counter", "Unparseable client addresses", securityMetrics.InvalidIPAttempts)
	metric("session_cache_entries", "gauge", "Cached sessions", int64(s.accounts.SessionCache().Size()))
	metric("uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.startedAt).Seconds()))
}

// handleIndex shows the landing page; signed in users see their shortcuts.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if u, err := s.authenticate(r, core.RoleGuest); err == nil {
		r = r.WithContext(withUser(r.Context(), u))
	}
	s.render(w, r, http.StatusOK, "index.html", s.newPage(r, "calco", nil))
}

func (s *Server) handleSigninPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signin.html", s.newPage(r, "Sign in", nil))
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.render(w, r, http.StatusOK, "signup.html", s.newPage(r, "Sign up", struct {
		Handle string
		Hash   string
	}{Handle: sanitizeInput(q.Get("handle")), Hash: sanitizeInput(q.Get("hash"))}))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	hash := p.Get("invitation_hash")
	if hash == "" {
		hash = p.Get("hash")
	}
	if _, err := s.accounts.Signup(r.Context(), p.Get("handle"), p.GetRaw("password"), p.GetRaw("passwordconfirm"), hash); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo("/signin").Write(w)
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	sess, err := s.accounts.Signin(r.Context(), p.Get("handle"), p.GetRaw("password"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, sess)
	RedirectTo("/").Write(w)
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Signout(r.Context(), sessionToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	RedirectTo("/signin").Write(w)
}
