//go:build integration

package formmanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/formrules/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

// TestManager_WithDatabase covers the full create, reload, update cycle against PostgreSQL
func TestManager_WithDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	store := rules.NewPostgresSchemaStore(db)

	manager := NewManager(store, engine, nil, Config{StrictValidation: true})
	if _, err := manager.CreateForm(validSchema()); err != nil {
		t.Fatalf("CreateForm() failed: %v", err)
	}

	// A second process loads everything from the database
	other := NewManager(store, engine, nil, Config{})
	if err := other.LoadAll(); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	res, err := other.Evaluate("signup", rules.AnswerSet{"plan": "team"}, rules.ModeRuntime)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if got := res.State("seats").ForcedValue; got != int64(5) {
		t.Errorf("seats forced value = %#v, want 5", got)
	}
	if len(res.Messages) != 1 {
		t.Errorf("expected welcome message, got %v", res.Messages)
	}

	updated := validSchema()
	updated.Title = "Sign up v2"
	if err := manager.UpdateFormSchema(updated); err != nil {
		t.Fatalf("UpdateFormSchema() failed: %v", err)
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM forms WHERE id = $1`, "signup").Scan(&version); err != nil {
		t.Fatalf("Failed to query version: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}
