package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth/authtest"
	"github.com/dmitrijs2005/crmkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/repotest"
	"github.com/dmitrijs2005/crmkeeper/internal/server/services"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage/storagetest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// logSink collects the records of a capHandler and all handlers derived
// from it with With.
type logSink struct {
	mu      sync.Mutex
	records []map[string]any
	msgs    []string
}

func (s *logSink) find(msg string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.msgs {
		if m == msg {
			return s.records[i], true
		}
	}
	return nil, false
}

// capHandler is a test slog.Handler without I/O.
type capHandler struct {
	sink *logSink
	base []slog.Attr
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.records = append(h.sink.records, out)
	h.sink.msgs = append(h.sink.msgs, r.Message)
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capHandler{sink: h.sink, base: append(append([]slog.Attr{}, h.base...), attrs...)}
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func newCapLogger() (logging.Logger, *logSink) {
	sink := &logSink{}
	return logging.NewSlogLogger(slog.New(&capHandler{sink: sink})), sink
}

type testEnv struct {
	handler http.Handler
	codec   *auth.TokenCodec
	users   *repotest.Users
	tokens  *repotest.RefreshTokens
	objects *storagetest.Memory
	metrics *metrics.Metrics
	authSvc *services.AuthService
}

type envOption func(*envConfig)

type envConfig struct {
	store refreshtokens.Store
	db    Pinger
	log   logging.Logger
}

func withStore(s refreshtokens.Store) envOption { return func(c *envConfig) { c.store = s } }
func withDB(p Pinger) envOption                 { return func(c *envConfig) { c.db = p } }
func withLogger(l logging.Logger) envOption     { return func(c *envConfig) { c.log = l } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	rm := repotest.NewManager()
	cfg := &envConfig{store: repotest.NewStore(rm.RefreshRepo), log: logging.Nop{}}
	for _, o := range opts {
		o(cfg)
	}

	codec := authtest.Codec(t)
	m := metrics.New()
	authSvc := services.NewAuthService(nil, rm, cfg.store, auth.NewBcryptHasher(bcrypt.MinCost), codec,
		logging.Nop{}, services.WithAuthEvents(m))

	links, err := auth.NewSignedLinkIssuer([]byte("link-secret"), 10*time.Minute)
	require.NoError(t, err)
	objects := storagetest.NewMemory()
	files := services.NewFileService(objects, links, logging.Nop{})

	h := NewRouter(Deps{
		Auth:    authSvc,
		Access:  auth.NewAccessControl(codec),
		Files:   files,
		DB:      cfg.db,
		Metrics: m,
	}, Options{Logger: cfg.log, Timeout: 5 * time.Second})

	return &testEnv{
		handler: h,
		codec:   codec,
		users:   rm.UsersRepo,
		tokens:  rm.RefreshRepo,
		objects: objects,
		metrics: m,
		authSvc: authSvc,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) register(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/account/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

// bearerFor registers a user with role and returns an access token for it.
func (e *testEnv) bearerFor(t *testing.T, email string, role auth.Role) string {
	t.Helper()
	rr := e.register(t, email, "pw")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sess sessionResponse
	decodeJSON(t, rr.Body, &sess)
	if role == auth.RoleUser {
		return sess.AccessToken
	}
	token, err := e.codec.IssueAccessToken(sess.User.ID, role)
	require.NoError(t, err)
	return token
}

func refreshCookieFrom(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", RefreshCookieName)
	return nil
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(v))
}

func messageOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageBody
	decodeJSON(t, rr.Body, &body)
	return body.Message
}
