// Package tcpostgres boots a disposable Postgres container for repository
// tests and applies the schema from migrations/. Set TESTDB_URL to point the
// tests at an existing database instead.
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDb returns a pool against a migrated test database.
func SetupTestDb() *pgxpool.Pool {
	ctx := context.Background()

	dbURL := os.Getenv("TESTDB_URL")
	if dbURL == "" {
		dbURL = startContainer(ctx)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("tcpostgres: create pool: %v", err)
	}
	applySchema(ctx, pool)
	return pool
}

// ClearGameTables empties the record tables between tests.
func ClearGameTables(pool *pgxpool.Pool) {
	ctx := context.Background()
	pool.Exec(ctx, "delete from game_record_players")
	pool.Exec(ctx, "delete from game_records")
}

func startContainer(ctx context.Context) string {
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:15",
			Name:  "typerace-repository-test",
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "typerace",
			},
			ExposedPorts: []string{port.Port()},
			Cmd:          []string{"postgres", "-c", "fsync=off"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5 * time.Second),
		},
		Started: true,
		Reuse:   true,
	})
	if err != nil {
		log.Fatalf("tcpostgres: start container: %v", err)
	}

	containerPort, err := container.MappedPort(ctx, port)
	if err != nil {
		log.Fatalf("tcpostgres: mapped port: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("tcpostgres: container host: %v", err)
	}

	return fmt.Sprintf("postgresql://postgres:password@%s:%s/typerace", host, containerPort.Port())
}

// applySchema runs the init migration; all statements are idempotent.
func applySchema(ctx context.Context, pool *pgxpool.Pool) {
	_, thisFile, _, _ := runtime.Caller(0)
	schema := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "migrations", "001_init.sql")
	data, err := os.ReadFile(schema)
	if err != nil {
		log.Fatalf("tcpostgres: read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(data)); err != nil {
		log.Fatalf("tcpostgres: apply schema: %v", err)
	}
}
