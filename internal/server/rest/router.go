// Package rest is the HTTP transport of the server: a chi router with the
// /account session endpoints, the /file and /private storage endpoints and
// the operational probes.
package rest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/services"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// AuthAPI is the session service behind /account.
type AuthAPI interface {
	Register(ctx context.Context, email, password string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
	RefreshTTL() time.Duration
}

// FileAPI is the file service behind /file and /private.
type FileAPI interface {
	Upload(ctx context.Context, v storage.Visibility, filename string, body io.Reader, size int64, contentType string) (string, error)
	List(ctx context.Context, v storage.Visibility) ([]models.StoredObject, error)
	Link(ctx context.Context, name string) (string, time.Time, error)
	Download(ctx context.Context, token string) (io.ReadCloser, *models.StoredObject, error)
}

// Authenticator resolves the Authorization header of a request.
type Authenticator interface {
	AuthenticateHeader(header string) (auth.Principal, error)
}

// Pinger reports whether a dependency is reachable; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services the router dispatches to. Files, DB and Metrics
// are optional: without Files the storage routes are not mounted, without
// DB /healthz always succeeds, without Metrics there is no /metrics.
type Deps struct {
	Auth    AuthAPI
	Access  Authenticator
	Files   FileAPI
	DB      Pinger
	Metrics *metrics.Metrics
}

// Options tune the router.
type Options struct {
	Logger         logging.Logger
	Timeout        time.Duration
	CookieSecure   bool
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 32 << 20

// NewRouter builds the HTTP handler of the server.
func NewRouter(d Deps, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	root := chi.NewRouter()
	// Outermost first: Recover must see panics of everything below it and
	// RequestID must run before Logging picks the id up.
	root.Use(
		Recover(opts.Logger),
		chimw.RequestID,
		Logging(opts.Logger, d.Metrics),
		Timeout(opts.Timeout),
	)
	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	root.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h := &handlers{
		auth:         d.Auth,
		files:        d.Files,
		db:           d.DB,
		cookieSecure: opts.CookieSecure,
		maxUpload:    opts.MaxUploadBytes,
	}

	root.Get("/livez", h.livez)
	root.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		root.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	root.Route("/account", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.With(RequireRole(d.Access, auth.RoleUser)).Get("/me", h.me)
	})

	if d.Files != nil {
		root.Route("/file", func(r chi.Router) {
			r.With(RequireRole(d.Access, auth.RoleUser)).Post("/upload", h.uploadPublic)
			r.Get("/list", h.listPublic)
		})
		root.Route("/private", func(r chi.Router) {
			r.With(RequireRole(d.Access, auth.RoleManager)).Post("/upload", h.uploadPrivate)
			r.With(RequireRole(d.Access, auth.RoleUser)).Get("/list", h.listPrivate)
			r.With(RequireRole(d.Access, auth.RoleUser)).Get("/link/{file}", h.link)
			// The link token is the credential here.
			r.Get("/download/{token}", h.download)
		})
	}
	return root
}

type handlers struct {
	auth         AuthAPI
	files        FileAPI
	db           Pinger
	cookieSecure bool
	maxUpload    int64
}
