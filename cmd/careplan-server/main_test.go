package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/careplan/careplan/internal/config"
	"github.com/careplan/careplan/internal/domain/order"
	"github.com/careplan/careplan/internal/platform/db"
	"github.com/careplan/careplan/internal/platform/generator"
	"github.com/careplan/careplan/internal/platform/telemetry"
)

type stubGenerator struct {
	plan string
	err  error
}

func (g stubGenerator) Generate(_ context.Context, req generator.Request) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.plan + " for " + req.Medication, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    ":memory:",
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		BodyLimit:      "1M",
		MetricsEnabled: true,
	}
}

func newTestServer(t *testing.T, gen order.CarePlanGenerator) http.Handler {
	t.Helper()
	cfg := testConfig()
	store, health, closeFn, err := openStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(closeFn)

	return newServer(cfg, zerolog.Nop(), serverDeps{
		store:     store,
		health:    health,
		generator: gen,
		metrics:   telemetry.New(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const orderBody = `{"mrn":"X9","patient_first_name":"John","patient_last_name":"Doe",
"npi":"1234567890","provider_first_name":"Ann","provider_last_name":"Lee","medication":"Warfarin"}`

func TestServer_OrderLifecycle(t *testing.T) {
	srv := newTestServer(t, stubGenerator{plan: "Plan A"})

	rec := do(t, srv, http.MethodPost, "/api/orders/", orderBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		OrderID int64  `json:"order_id"`
		Status  string `json:"status"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Status != "completed" {
		t.Fatalf("expected completed, got %s", created.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/orders/%d/", created.OrderID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", rec.Code)
	}
	var detail map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &detail)
	if detail["care_plan"] != "Plan A for Warfarin" || detail["provider"] != "Dr. Ann Lee" {
		t.Errorf("unexpected detail %v", detail)
	}

	rec = do(t, srv, http.MethodGet, "/api/orders/search/?q=doe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rec.Code)
	}
	var hits []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &hits)
	if len(hits) != 1 || hits[0]["mrn"] != "X9" {
		t.Errorf("unexpected search hits %v", hits)
	}

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/orders/%d/download/", created.OrderID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", rec.Code)
	}
	if !strings.HasSuffix(rec.Body.String(), "Plan A for Warfarin\n") {
		t.Errorf("unexpected export %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `careplan_orders_total{status="completed"} 1`) {
		t.Error("expected the completed order to be counted")
	}
}

func TestServer_FailedGeneration(t *testing.T) {
	srv := newTestServer(t, stubGenerator{err: &generator.GenerationError{Err: errors.New("request timed out")}})

	rec := do(t, srv, http.MethodPost, "/api/orders/", orderBody)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"failed"`) {
		t.Fatalf("expected 201 failed, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		OrderID int64 `json:"order_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/orders/%d/download/", created.OrderID), "")
	if rec.Code != http.StatusBadRequest || rec.Body.String() != "Care plan not ready" {
		t.Errorf("expected 400 not ready, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_ErrorsAndHealth(t *testing.T) {
	srv := newTestServer(t, stubGenerator{plan: "x"})

	rec := do(t, srv, http.MethodPost, "/api/orders/", `{"mrn":"X9"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "missing_fields") {
		t.Errorf("expected structured 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/orders/12345/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("expected healthy, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_HealthReportsDatabaseDown(t *testing.T) {
	cfg := testConfig()
	srv := newServer(cfg, zerolog.Nop(), serverDeps{
		store:     nil,
		health:    db.PingFunc(func(context.Context) error { return errors.New("down") }),
		generator: stubGenerator{},
	})

	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /metrics to be absent when metrics are off, got %d", rec.Code)
	}
}

func TestMigrationSource(t *testing.T) {
	entries, err := fs.ReadDir(migrationSource(""), ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 || entries[0].Name() != "001_careplan.sql" {
		t.Errorf("expected embedded 001_careplan.sql, got %v", entries)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "007_extra.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadFile(migrationSource(dir), "007_extra.sql")
	if err != nil || string(data) != "SELECT 1;" {
		t.Errorf("expected override directory to be used, got %q, %v", data, err)
	}
}

func TestSchemaOrDefault(t *testing.T) {
	cfg := &config.Config{DBSchema: "public"}
	if got := schemaOrDefault("", cfg); got != "public" {
		t.Errorf("expected public, got %s", got)
	}
	if got := schemaOrDefault("careplan", cfg); got != "careplan" {
		t.Errorf("expected careplan, got %s", got)
	}
}

func TestServer_ChunkedOversizeBody(t *testing.T) {
	srv := newTestServer(t, stubGenerator{plan: "x"})

	body := `{"mrn":"` + strings.Repeat("a", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %.200s", rec.Code, rec.Body.String())
	}
}

func TestServer_RateLimitIgnoresForwardingHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	store, health, closeFn, err := openStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(closeFn)
	srv := newServer(cfg, zerolog.Nop(), serverDeps{store: store, health: health, generator: stubGenerator{plan: "x"}})

	post := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/orders/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("X-Real-IP", forwardedFor)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("10.0.0.1"); code != http.StatusBadRequest {
		t.Fatalf("expected the first request through, got %d", code)
	}
	if code := post("10.0.0.2"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for the same peer with a different forwarded address, got %d", code)
	}
}

func TestClientIPExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := clientIPExtractor(false)(req); got != "127.0.0.1" {
		t.Errorf("expected the peer address, got %s", got)
	}
	if got := clientIPExtractor(true)(req); got != "203.0.113.9" {
		t.Errorf("expected the forwarded address from a trusted loopback proxy, got %s", got)
	}
}
