//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civicdesk/apiserver/config"
	"github.com/civicdesk/apiserver/internal/server"
	"github.com/civicdesk/apiserver/internal/store"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestIssueLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	citizenToken := registerCitizen(t, baseURL, fmt.Sprintf("citizen_%d@example.com", suffix))
	officialToken := provisionOfficial(t, baseURL, fmt.Sprintf("official_%d@city.gov", suffix), "official", "Water Supply")
	higherToken := provisionOfficial(t, baseURL, fmt.Sprintf("higher_%d@city.gov", suffix), "higher_official", "Water Supply")

	categoryID := findCategory(t, baseURL, citizenToken, "Water Leak")

	issue := createIssue(t, baseURL, citizenToken, categoryID)
	if issue.Status != "created" {
		t.Fatalf("new issue status = %q, want created", issue.Status)
	}
	if issue.Priority != "medium" {
		t.Fatalf("new issue priority = %q, want medium", issue.Priority)
	}

	detail := getIssue(t, baseURL, citizenToken, issue.ID)
	if detail.Timeline.Priority != "critical" || detail.Timeline.ResponseHours != 24 || detail.Timeline.ResolutionHours != 48 {
		t.Fatalf("timeline = %+v, want critical/24/48", detail.Timeline)
	}
	if len(detail.Updates) != 1 {
		t.Fatalf("expected 1 initial audit entry, got %d", len(detail.Updates))
	}

	// The generic status endpoint cannot produce an assigned issue without
	// an assignee.
	doUpdateStatus(t, baseURL, officialToken, issue.ID, "assigned", "claiming this issue", http.StatusBadRequest)

	officialID := whoAmI(t, baseURL, officialToken)
	assigned := assignIssue(t, baseURL, officialToken, issue.ID, officialID)
	if assigned.Status != "assigned" {
		t.Fatalf("status after assign = %q, want assigned", assigned.Status)
	}

	inProgress := updateStatus(t, baseURL, officialToken, issue.ID, "in_progress", "crew dispatched to the site", http.StatusOK)
	if inProgress.Status != "in_progress" {
		t.Fatalf("status = %q, want in_progress", inProgress.Status)
	}

	escalated := escalateIssue(t, baseURL, citizenToken, issue.ID, "no_progress", "15+ days with no visible progress")
	if escalated.Status != "escalated" {
		t.Fatalf("status = %q, want escalated", escalated.Status)
	}
	if escalated.Priority != "urgent" {
		t.Fatalf("priority = %q, want urgent", escalated.Priority)
	}

	// Escalated issues are off-limits to ordinary officials.
	doUpdateStatus(t, baseURL, officialToken, issue.ID, "completed", "fixed the leak today", http.StatusForbidden)

	completed := updateStatus(t, baseURL, higherToken, issue.ID, "completed", "replaced the damaged main section", http.StatusOK)
	if completed.Status != "completed" {
		t.Fatalf("status = %q, want completed", completed.Status)
	}

	// Terminal status locks out further mutation.
	doUpdateStatus(t, baseURL, higherToken, issue.ID, "in_progress", "reopening for inspection", http.StatusConflict)

	final := getIssue(t, baseURL, citizenToken, issue.ID)
	n := len(final.Updates)
	if n < 5 {
		t.Fatalf("expected at least 5 audit entries, got %d", n)
	}
	last := final.Updates[n-1]
	if last.NewStatus == nil || *last.NewStatus != final.Issue.Status {
		t.Fatalf("status %q does not match latest audit entry %+v", final.Issue.Status, last)
	}

	// Same invariant straight from the audit table.
	db, err := sql.Open("postgres", buildPostgresURL(config.LoadConfig()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	latest, err := store.NewIssueRepository(db).LatestUpdate(context.Background(), issue.ID)
	if err != nil {
		t.Fatalf("latest status update: %v", err)
	}
	if latest.NewStatus == nil || string(*latest.NewStatus) != final.Issue.Status {
		t.Fatalf("status %q is not a projection of the latest audit row %+v", final.Issue.Status, latest)
	}
}

func TestListPagination(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()
	token := registerCitizen(t, baseURL, fmt.Sprintf("pager_%d@example.com", suffix))
	categoryID := findCategory(t, baseURL, token, "Road Repair")

	for i := 0; i < 25; i++ {
		createIssueTitled(t, baseURL, token, categoryID, fmt.Sprintf("Pothole number %02d on ring road", i))
	}

	list := listIssues(t, baseURL, token, "?page=2&limit=10")
	if len(list.Items) != 10 {
		t.Fatalf("page 2 returned %d items, want 10", len(list.Items))
	}
	// Total is the whole filtered scope, not the page size.
	if list.Total != 25 {
		t.Fatalf("total = %d, want 25", list.Total)
	}

	lastPage := listIssues(t, baseURL, token, "?page=3&limit=10")
	if len(lastPage.Items) != 5 {
		t.Fatalf("page 3 returned %d items, want 5", len(lastPage.Items))
	}
	if lastPage.Total != 25 {
		t.Fatalf("total = %d, want 25", lastPage.Total)
	}
}

type issueResponse struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type updateResponse struct {
	NewStatus *string `json:"new_status"`
	Comment   string  `json:"comment"`
}

type detailResponse struct {
	Issue   issueResponse `json:"issue"`
	Updates []updateResponse `json:"updates"`
	Timeline struct {
		Priority        string `json:"priority"`
		ResponseHours   int    `json:"response_hours"`
		ResolutionHours int    `json:"resolution_hours"`
	} `json:"timeline"`
}

type listResponse struct {
	Items []issueResponse `json:"items"`
	Total int             `json:"total"`
}

type categoryResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID int `json:"id"`
	} `json:"user"`
}

func registerCitizen(t *testing.T, baseURL, email string) string {
	t.Helper()

	payload := map[string]string{
		"name":     "Test Citizen",
		"email":    email,
		"phone":    "9876543210",
		"address":  "12 Lake View Road, Ward 4",
		"password": "Secret1pass",
	}
	resp := doJSON(t, http.MethodPost, baseURL+"/auth/register", "", payload, http.StatusCreated)

	var parsed authResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if parsed.Token == "" {
		t.Fatal("missing token in register response")
	}
	return parsed.Token
}

// provisionOfficial registers an account, promotes it in the database, and
// logs in again so the fresh token carries the official role. Official
// accounts have no self-service signup.
func provisionOfficial(t *testing.T, baseURL, email, role, department string) string {
	t.Helper()

	registerCitizen(t, baseURL, email)
	if err := promoteToOfficial(email, role, department); err != nil {
		t.Fatalf("promote %s: %v", email, err)
	}

	resp := doJSON(t, http.MethodPost, baseURL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": "Secret1pass",
	}, http.StatusOK)

	var parsed authResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return parsed.Token
}

func promoteToOfficial(email, role, department string) error {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", buildPostgresURL(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "UPDATE users SET role = $1 WHERE email = $2", role, email); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO officials (user_id, department)
		SELECT id, $1 FROM users WHERE email = $2`, department, email)
	return err
}

func whoAmI(t *testing.T, baseURL, token string) int {
	t.Helper()

	resp := doJSON(t, http.MethodGet, baseURL+"/auth/me", token, nil, http.StatusOK)
	var user struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(resp, &user); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	return user.ID
}

func findCategory(t *testing.T, baseURL, token, name string) int {
	t.Helper()

	resp := doJSON(t, http.MethodGet, baseURL+"/issues/categories", token, nil, http.StatusOK)
	var categories []categoryResponse
	if err := json.Unmarshal(resp, &categories); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	for _, c := range categories {
		if c.Name == name {
			return c.ID
		}
	}
	t.Fatalf("category %q not seeded", name)
	return 0
}

func createIssue(t *testing.T, baseURL, token string, categoryID int) issueResponse {
	return createIssueTitled(t, baseURL, token, categoryID, "Water main leaking on 4th street")
}

func createIssueTitled(t *testing.T, baseURL, token string, categoryID int, title string) issueResponse {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("title", title)
	_ = writer.WriteField("description", "Water has been gushing from a broken main near the bus stop since Monday.")
	_ = writer.WriteField("category_id", fmt.Sprintf("%d", categoryID))
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	resp := doRequest(t, http.MethodPost, baseURL+"/issues", token, &body, writer.FormDataContentType(), http.StatusCreated)

	var parsed issueResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode issue: %v", err)
	}
	if parsed.ID == 0 {
		t.Fatal("expected issue ID to be set")
	}
	return parsed
}

func getIssue(t *testing.T, baseURL, token string, id int64) detailResponse {
	t.Helper()

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/issues/%d", baseURL, id), token, nil, http.StatusOK)
	var parsed detailResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	return parsed
}

func listIssues(t *testing.T, baseURL, token, query string) listResponse {
	t.Helper()

	resp := doJSON(t, http.MethodGet, baseURL+"/issues"+query, token, nil, http.StatusOK)
	var parsed listResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return parsed
}

func assignIssue(t *testing.T, baseURL, token string, id int64, assigneeID int) issueResponse {
	t.Helper()

	resp := doJSON(t, http.MethodPut, fmt.Sprintf("%s/issues/%d/assign", baseURL, id), token, map[string]any{
		"assignee_id": assigneeID,
	}, http.StatusOK)

	var parsed issueResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode assign response: %v", err)
	}
	return parsed
}

func escalateIssue(t *testing.T, baseURL, token string, id int64, reason, note string) issueResponse {
	t.Helper()

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/issues/%d/escalate", baseURL, id), token, map[string]string{
		"reason": reason,
		"note":   note,
	}, http.StatusOK)

	var parsed issueResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode escalate response: %v", err)
	}
	return parsed
}

func updateStatus(t *testing.T, baseURL, token string, id int64, status, comment string, wantStatus int) issueResponse {
	t.Helper()

	resp := doUpdateStatus(t, baseURL, token, id, status, comment, wantStatus)
	var parsed issueResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	return parsed
}

func doUpdateStatus(t *testing.T, baseURL, token string, id int64, status, comment string, wantStatus int) []byte {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("status", status)
	_ = writer.WriteField("comment", comment)
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	url := fmt.Sprintf("%s/issues/%d/status", baseURL, id)
	return doRequest(t, http.MethodPut, url, token, &body, writer.FormDataContentType(), wantStatus)
}

func doJSON(t *testing.T, method, url, token string, payload any, wantStatus int) []byte {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return doRequest(t, method, url, token, body, "application/json", wantStatus)
}

func doRequest(t *testing.T, method, url, token string, body io.Reader, contentType string, wantStatus int) []byte {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status %d, want %d: %s", method, url, resp.StatusCode, wantStatus, strings.TrimSpace(string(data)))
	}
	return data
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", buildPostgresURL(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	dsn := buildPostgresURL(cfg)
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func buildPostgresURL(cfg config.Config) string {
	sslmode := "disable"
	if cfg.Database.UseSSL {
		sslmode = "require"
	}
	host := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		host,
		cfg.Database.DBName,
		sslmode,
	)
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "civicdesk")
	_ = os.Setenv("DB_PASSWORD", "civicdesk")
	_ = os.Setenv("DB_NAME", "civicdesk_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "civicdesk-attachments")
	_ = os.Setenv("MQ_BACKEND", "none")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
