package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth/authtest"
	"github.com/dmitrijs2005/crmkeeper/internal/server/config"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/repotest"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage/storagetest"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bucketMemory struct {
	*storagetest.Memory
	ensured   bool
	ensureErr error
}

func (b *bucketMemory) EnsureBuckets(context.Context) error {
	b.ensured = true
	return b.ensureErr
}

type fixture struct {
	cfg     *config.Config
	rm      *repotest.Manager
	objects *bucketMemory
	mock    sqlmock.Sqlmock
}

// withSeams replaces the infrastructure constructors with in-memory
// doubles for the duration of the test.
func withSeams(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	f := &fixture{
		rm:      repotest.NewManager(),
		objects: &bucketMemory{Memory: storagetest.NewMemory()},
		mock:    mock,
	}

	origOpen, origRM, origObjects, origRedis := openDB, newRepoManager, newObjects, newRedisClient
	t.Cleanup(func() {
		openDB, newRepoManager, newObjects, newRedisClient = origOpen, origRM, origObjects, origRedis
		_ = db.Close()
	})
	openDB = func(context.Context, string) (*sql.DB, error) { return db, nil }
	newRepoManager = func() repomanager.RepositoryManager { return f.rm }
	newObjects = func(context.Context, storage.Config) (BucketStorage, error) { return f.objects, nil }

	privPath, pubPath := authtest.WriteKeyFiles(t, authtest.KeyMaterial(t))
	f.cfg = &config.Config{}
	f.cfg.LoadDefaults()
	f.cfg.PrivateKeyPath = privPath
	f.cfg.PublicKeyPath = pubPath
	f.cfg.EndpointAddrHTTP = "127.0.0.1:0"
	f.cfg.EndpointAddrGRPC = "127.0.0.1:0"
	f.cfg.AdminPassword = "root"
	return f
}

func TestNewApp_BootstrapsAdminAndBuckets(t *testing.T) {
	f := withSeams(t)

	app, err := NewApp(context.Background(), f.cfg, logging.Nop{})
	require.NoError(t, err)
	assert.True(t, f.objects.ensured)

	admin, err := f.rm.UsersRepo.GetByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, admin.Role)

	form := url.Values{"username": {"admin@example.com"}, "password": {"root"}}
	req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, f.rm.RefreshRepo.Len())
}

func TestNewApp_SkipsAdminWithoutPassword(t *testing.T) {
	f := withSeams(t)
	f.cfg.AdminPassword = ""

	_, err := NewApp(context.Background(), f.cfg, logging.Nop{})
	require.NoError(t, err)

	_, err = f.rm.UsersRepo.GetByEmail(context.Background(), "admin@example.com")
	assert.Error(t, err)
}

func TestNewApp_RedisStore(t *testing.T) {
	f := withSeams(t)
	mr := miniredis.RunT(t)
	f.cfg.RefreshStore = config.RefreshStoreRedis
	f.cfg.RedisAddr = mr.Addr()

	var used bool
	newRedisClient = func(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
		used = true
		return refreshtokens.NewRedisClient(ctx, addr, password, db)
	}

	app, err := NewApp(context.Background(), f.cfg, logging.Nop{})
	require.NoError(t, err)
	assert.True(t, used)

	form := url.Values{"username": {"admin@example.com"}, "password": {"root"}}
	req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 0, f.rm.RefreshRepo.Len(), "records go to redis")
	assert.Len(t, mr.Keys(), 1)
	app.close()
}

func TestNewApp_Failures(t *testing.T) {
	t.Run("missing keys", func(t *testing.T) {
		f := withSeams(t)
		f.cfg.PrivateKeyPath = "/nonexistent/private.pem"
		_, err := NewApp(context.Background(), f.cfg, logging.Nop{})
		require.Error(t, err)
	})

	t.Run("db unreachable", func(t *testing.T) {
		f := withSeams(t)
		openDB = func(context.Context, string) (*sql.DB, error) { return nil, errors.New("refused") }
		_, err := NewApp(context.Background(), f.cfg, logging.Nop{})
		require.ErrorContains(t, err, "db init error")
	})

	t.Run("buckets", func(t *testing.T) {
		f := withSeams(t)
		f.objects.ensureErr = errors.New("access denied")
		f.mock.ExpectClose()
		_, err := NewApp(context.Background(), f.cfg, logging.Nop{})
		require.ErrorContains(t, err, "object storage")
		require.NoError(t, f.mock.ExpectationsWereMet(), "db must be closed on failure")
	})

	t.Run("bad janitor schedule", func(t *testing.T) {
		f := withSeams(t)
		f.cfg.JanitorSchedule = "whenever"
		_, err := NewApp(context.Background(), f.cfg, logging.Nop{})
		require.Error(t, err)
	})
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := withSeams(t)
	app, err := NewApp(context.Background(), f.cfg, logging.Nop{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestEnsureAdmin(t *testing.T) {
	f := withSeams(t)

	created, err := EnsureAdmin(context.Background(), f.cfg, logging.Nop{}, "boss@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureAdmin(context.Background(), f.cfg, logging.Nop{}, "boss@example.com", "pw")
	require.NoError(t, err)
	assert.False(t, created)
}
