//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/formrules/internal/config"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (string, func()) {
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
	defer db.Close()

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return connStr, func() { postgres.Terminate(ctx) }
}

// startServer runs a full server against the database and a fresh Redis
func startServer(t *testing.T, databaseURL, redisAddr string) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Database.URL = databaseURL
	cfg.Redis.Addr = redisAddr
	cfg.Forms.StrictValidation = true

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})
	return ts
}

// TestEndToEnd_FormAndSession covers the complete workflow:
// 1. Create form
// 2. Evaluate it
// 3. Fill it in through a session held in Redis
// 4. Submit
func TestEndToEnd_FormAndSession(t *testing.T) {
	databaseURL, cleanup := setupTestDB(t)
	defer cleanup()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ts := startServer(t, databaseURL, mr.Addr())
	baseURL := ts.URL + "/api/v1"

	health := makeRequest(t, "GET", baseURL+"/health", nil)
	if health["formStore"] != "postgres" || health["sessionStore"] != "redis" {
		t.Fatalf("health = %v", health)
	}

	t.Log("Step 1: Creating form...")
	var form map[string]any
	if err := json.Unmarshal([]byte(onboardingJSON), &form); err != nil {
		t.Fatalf("Failed to parse form: %v", err)
	}
	created := makeRequest(t, "POST", baseURL+"/forms", form)
	if created["version"].(float64) != 1 {
		t.Errorf("Expected version 1, got %v", created["version"])
	}

	t.Log("Step 2: Evaluating...")
	eval := makeRequest(t, "POST", baseURL+"/forms/onboarding/evaluate", map[string]any{
		"answers": map[string]any{"plan": "team"},
	})
	states := eval["states"].(map[string]any)
	if seats := states["seats"].(map[string]any); seats["forcedValue"].(float64) != 5 {
		t.Errorf("Expected 5 seats for teams, got %v", seats)
	}

	t.Log("Step 3: Filling in a session...")
	view := makeRequest(t, "POST", baseURL+"/forms/onboarding/sessions", nil)
	sessionURL := baseURL + "/sessions/" + view["sessionId"].(string)

	makeRequest(t, "PUT", sessionURL+"/answers/email", map[string]any{"value": "a@example.com"})
	makeRequest(t, "PUT", sessionURL+"/answers/plan", map[string]any{"value": "team"})
	view = makeRequest(t, "POST", sessionURL+"/next", nil)
	if view["canSubmit"].(bool) {
		t.Error("company is required for teams, submit should be blocked")
	}
	view = makeRequest(t, "PUT", sessionURL+"/answers/company", map[string]any{"value": "Acme"})
	if view["revision"].(float64) != 5 {
		t.Errorf("Expected revision 5, got %v", view["revision"])
	}

	t.Log("Step 4: Submitting...")
	sub := makeRequest(t, "POST", sessionURL+"/submit", nil)
	payload := sub["payload"].(map[string]any)
	if payload["company"] != "Acme" || payload["seats"].(float64) != 5 {
		t.Errorf("Unexpected payload: %v", payload)
	}
}

// TestEndToEnd_SchemaUpdate checks that a second instance sees updates made by the first
func TestEndToEnd_SchemaUpdate(t *testing.T) {
	databaseURL, cleanup := setupTestDB(t)
	defer cleanup()

	first := startServer(t, databaseURL, "")
	second := startServer(t, databaseURL, "")

	var form map[string]any
	json.Unmarshal([]byte(onboardingJSON), &form)
	makeRequest(t, "POST", first.URL+"/api/v1/forms", form)

	form["title"] = "Onboarding v2"
	updated := makeRequest(t, "PUT", first.URL+"/api/v1/forms/onboarding", form)
	if updated["version"].(float64) != 2 {
		t.Errorf("Expected version 2 after update, got %v", updated["version"])
	}

	got := makeRequest(t, "GET", second.URL+"/api/v1/forms/onboarding", nil)
	if got["title"] != "Onboarding v2" {
		t.Errorf("Second instance should load the stored form, got %v", got["title"])
	}

	// Creating it again conflicts
	resp, err := makeHTTPRequest("POST", first.URL+"/api/v1/forms", form)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 Conflict, got %d", resp.StatusCode)
	}
}

// Helper function to make HTTP requests with an optional JSON body
func makeRequest(t *testing.T, method, url string, body any) map[string]any {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
