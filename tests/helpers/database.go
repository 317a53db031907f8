package helpers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/database"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	User         = "postgres"
	Password     = "postgres"
	MasterDBName = "LUMEN_DB"

	IntegrationEnvKey = "LUMEN_INTEGRATION"
)

var (
	ctx = context.Background()

	pgManager    = &containerManager{}
	mongoManager = &containerManager{}
)

// containerManager lazily spawns a single container which is shared by
// every test in the package. Tests are isolated by provisioning a fresh
// database within the shared container.
type containerManager struct {
	sync.Mutex
	container testcontainers.Container
	host      string
	port      string
	uri       string
}

// RequireIntegration skips the calling test unless integration tests
// have been explicitly enabled, as they require a running docker daemon.
func RequireIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv(IntegrationEnvKey) == "" {
		t.Skipf("skipping integration test: set %s=1 to enable", IntegrationEnvKey)
	}
}

// PostgresDatabase provisions a new, fully migrated, Postgres database inside of
// a shared test container, returning a connected database manager. The
// connection is closed automatically when the test completes.
func PostgresDatabase(t *testing.T) *database.Manager {
	RequireIntegration(t)
	host, port := pgManager.spawnPostgres(t)

	name := "lumen_" + uuid.NewString()[:8]
	admin, err := pq.NewConnector(fmt.Sprintf(database.SqlConnectionString, host, User, Password, MasterDBName, port))
	require.NoError(t, err)

	adminDB := sql.OpenDB(admin)
	defer adminDB.Close()
	_, err = adminDB.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, name))
	require.NoError(t, err, "failed to provision test database")

	manager := database.New()
	require.NoError(t, manager.Connect(ctx, database.DatabaseConfig{
		User: User, Password: Password, Name: name, Host: host, Port: port,
	}))
	t.Cleanup(func() { _ = manager.Close() })

	return manager
}

// MongoCatalog returns a MongoStore backed by a unique database inside of a
// shared MongoDB test container.
func MongoCatalog(t *testing.T) *catalog.MongoStore {
	RequireIntegration(t)
	uri := mongoManager.spawnMongo(t)

	store, err := catalog.NewMongoStore(ctx, catalog.MongoConfig{
		URI:        uri,
		Database:   "lumen_" + uuid.NewString()[:8],
		Collection: "media",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	return store
}

func (manager *containerManager) spawnPostgres(t *testing.T) (string, string) {
	manager.Lock()
	defer manager.Unlock()
	if manager.container != nil {
		return manager.host, manager.port
	}

	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(MasterDBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithHostConfigModifier(func(hostConfig *container.HostConfig) {
			hostConfig.Tmpfs = map[string]string{"/var/lib/postgresql/data": "rw"}
		}),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	host, err := postgresC.Host(ctx)
	require.NoError(t, err)
	port, err := postgresC.MappedPort(ctx, nat.Port("5432/tcp"))
	require.NoError(t, err)

	manager.container = postgresC
	manager.host = host
	manager.port = port.Port()
	return manager.host, manager.port
}

func (manager *containerManager) spawnMongo(t *testing.T) string {
	manager.Lock()
	defer manager.Unlock()
	if manager.container != nil {
		return manager.uri
	}

	mongoC, err := mongodb.RunContainer(ctx, testcontainers.WithImage("docker.io/mongo:6"))
	if err != nil {
		t.Fatalf("failed to start mongo container: %s", err)
	}

	uri, err := mongoC.ConnectionString(ctx)
	require.NoError(t, err)

	manager.container = mongoC
	manager.uri = uri
	return uri
}
