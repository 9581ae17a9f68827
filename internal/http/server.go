package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"calco/internal/cache"
	"calco/internal/core"
	"calco/internal/log"
	"calco/internal/middleware/ratelimit"
	"calco/internal/middleware/security"
	"calco/internal/middleware/trace"
	"calco/internal/services"
	appweb "calco/web"
)

const (
	sessionCookie        = "token"
	cacheCleanupInterval = 10 * time.Minute
	staticMaxAge         = 3600
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the server. Zero values fall back to defaults.
type Options struct {
	RateLimitPerMinute int
	// SecureCookies marks the session cookie Secure; enable behind TLS.
	SecureCookies bool
	Logger        *log.Logger
	// TemplatesFS and StaticFS default to the embedded web assets.
	TemplatesFS fs.FS
	StaticFS    fs.FS
}

type Server struct {
	http.Server
	templates *template.Template
	ledger    *services.LedgerService
	accounts  *services.AccountService
	store     Pinger
	logger    *log.Logger
	opts      Options

	caches           *cache.Manager
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	startedAt        time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, ledger *services.LedgerService, accounts *services.AccountService, store Pinger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.TemplatesFS == nil {
		opts.TemplatesFS = appweb.TemplatesFS
	}
	if opts.StaticFS == nil {
		opts.StaticFS = appweb.StaticFS
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		ledger:           ledger,
		accounts:         accounts,
		store:            store,
		logger:           logger,
		opts:             opts,
		caches:           cache.NewManager(opts.Logger),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: security.NewDetector(),
		startedAt:        time.Now(),
	}
	s.traceMiddleware = trace.NewMiddleware(opts.Logger, s.securityDetector.ExtractClientIP)

	s.caches.Register(accounts.SessionCache())
	s.caches.StartCleanup(cacheCleanupInterval)

	t, err := template.New("").Funcs(templateFuncs()).ParseFS(opts.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err)
		t = nil
	}
	s.templates = t

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.traceMiddleware.Middleware(headers.Middleware(s.securityDetector.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(s.opts.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Pages
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /signin", s.handleSigninPage)
	mux.HandleFunc("GET /signup", s.handleSignupPage)
	mux.HandleFunc("GET /sheets", s.page(core.RoleGuest, s.handleSheetsPage))
	mux.HandleFunc("GET /new-sheet", s.page(core.RoleGuest, s.handleNewSheetPage))
	mux.HandleFunc("GET /sheet/{id}", s.page(core.RoleGuest, s.handleSheetPage))
	mux.HandleFunc("GET /sheet/rename/{id}", s.page(core.RoleGuest, s.handleRenameSheetPage))
	mux.HandleFunc("GET /sheet/{id}/expenses/new", s.page(core.RoleGuest, s.handleNewRecordPage(core.KindExpense)))
	mux.HandleFunc("GET /sheet/{id}/incomes/new", s.page(core.RoleGuest, s.handleNewRecordPage(core.KindIncome)))
	mux.HandleFunc("GET /sheet/{id}/inherited-sheets/new", s.page(core.RoleGuest, s.handleNewInheritedSheetPage))
	mux.HandleFunc("GET /expense/{id}/edit", s.page(core.RoleGuest, s.handleEditRecordPage(core.KindExpense)))
	mux.HandleFunc("GET /income/{id}/edit", s.page(core.RoleGuest, s.handleEditRecordPage(core.KindIncome)))
	mux.HandleFunc("GET /invitations", s.page(core.RoleAdmin, s.handleInvitationsPage))

	// API, form posts answered with redirects
	mux.HandleFunc("POST /api/auth/signup", s.limited(s.handleSignup))
	mux.HandleFunc("POST /api/auth/signin", s.limited(s.handleSignin))
	mux.HandleFunc("POST /api/auth/signout", s.limited(s.handleSignout))
	mux.HandleFunc("POST /api/users/delete-by-id", s.limited(s.api(core.RoleAdmin, s.handleDeleteUser)))
	mux.HandleFunc("POST /api/invitations", s.limited(s.api(core.RoleAdmin, s.handleCreateInvitation)))
	mux.HandleFunc("POST /api/sheets", s.limited(s.api(core.RoleGuest, s.handleCreateSheet)))
	mux.HandleFunc("POST /api/sheets/delete-by-id", s.limited(s.api(core.RoleGuest, s.handleDeleteSheet)))
	mux.HandleFunc("POST /api/sheets/rename-by-id", s.limited(s.api(core.RoleGuest, s.handleRenameSheet)))
	mux.HandleFunc("POST /api/expenses", s.limited(s.api(core.RoleGuest, s.handleCreateRecord(core.KindExpense))))
	mux.HandleFunc("POST /api/expenses/update-by-id", s.limited(s.api(core.RoleGuest, s.handleUpdateRecord(core.KindExpense))))
	mux.HandleFunc("POST /api/expenses/delete-by-id", s.limited(s.api(core.RoleGuest, s.handleDeleteRecord(core.KindExpense))))
	mux.HandleFunc("POST /api/incomes", s.limited(s.api(core.RoleGuest, s.handleCreateRecord(core.KindIncome))))
	mux.HandleFunc("POST /api/incomes/update-by-id", s.limited(s.api(core.RoleGuest, s.handleUpdateRecord(core.KindIncome))))
	mux.HandleFunc("POST /api/incomes/delete-by-id", s.limited(s.api(core.RoleGuest, s.handleDeleteRecord(core.KindIncome))))
	mux.HandleFunc("POST /api/inherited-sheets", s.limited(s.api(core.RoleGuest, s.handleCreateInheritedSheet)))
	mux.HandleFunc("POST /api/inherited-sheets/delete", s.limited(s.api(core.RoleGuest, s.handleDeleteInheritedSheet)))
}

// limited applies the per-client rate limit to state changing routes.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, nil)(next).ServeHTTP
}

// Shutdown stops background goroutines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"euros": formatEuros,
		"money": func(m core.Money) string { return m.String() },
		"isAdmin": func(u *core.User) bool {
			return u != nil && u.Role.AtLeast(core.RoleAdmin)
		},
		"signupURL": services.SignupURL,
		"dict":      dict,
	}
}

// dict builds a map from key/value pairs so a template can pass several
// values to a sub-template.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}
