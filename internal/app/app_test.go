package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/personnel-dashboard/internal/config"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://backend.internal:3000")
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	cfg, log, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || log == nil {
		t.Fatal("expected non-nil config and logger")
	}
	if cfg.BackendURL != "http://backend.internal:3000" {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, "http://backend.internal:3000")
	}

	// 設定されたレベルのJSONロガーがグローバルに設定されること
	slog.Default().Debug("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
	if entry["service"] != "personnel-dashboard" {
		t.Errorf("service = %q, want %q", entry["service"], "personnel-dashboard")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	cfg, _, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_MigrateWithoutPostgres_ReturnsError(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://backend.internal:3000")
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("STORAGE_DRIVER", "memory")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "STORAGE_DRIVER=postgres") {
		t.Errorf("Run(migrate) error = %v, want STORAGE_DRIVER=postgres error", err)
	}
}

func TestRunHealthcheck_ServerDown_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.Listener.Addr().String()[strings.LastIndex(srv.Listener.Addr().String(), ":")+1:]
	srv.Close()

	if err := runHealthcheck(port); err == nil {
		t.Error("runHealthcheck should fail when nothing is listening")
	}
}

func TestMaskDatabaseURL_HidesPassword(t *testing.T) {
	got := maskDatabaseURL("postgres://dash:s3cret@db:5432/dashboard?sslmode=disable")
	if strings.Contains(got, "s3cret") {
		t.Errorf("maskDatabaseURL = %q, should not contain the password", got)
	}
	if !strings.Contains(got, "db:5432") {
		t.Errorf("maskDatabaseURL = %q, should keep the host", got)
	}
}

func TestMaskDatabaseURL_Unparseable_ReturnsPlaceholder(t *testing.T) {
	if got := maskDatabaseURL("not a url"); got != "***" {
		t.Errorf("maskDatabaseURL = %q, want %q", got, "***")
	}
}

// --- ワイヤリング ---

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		BackendURL:         backendURL,
		HTTPTimeout:        5 * time.Second,
		SessionTTL:         time.Hour,
		AuthCheckStaleTime: time.Minute,
		GuardSettleTimeout: time.Second,
		StorageDriver:      config.StorageMemory,
		RateLimitLogin:     10,
		ServerPort:         "0",
		BaseURL:            "http://localhost:8080",
		CORSAllowedOrigin:  "http://localhost:8080",
		LogLevel:           "error",
	}
}

func newTestApp(t *testing.T, backend http.Handler) *App {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	a, err := New(context.Background(), testConfig(srv.URL), slog.New(slog.NewJSONHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	select {
	case <-a.Store.Hydrated():
	case <-time.After(2 * time.Second):
		t.Fatal("store was not hydrated")
	}
	return a
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_MemoryStorage_ServesHealth(t *testing.T) {
	a := newTestApp(t, http.NotFoundHandler())

	w := doRequest(a.Handler, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNew_LoginThenDashboard_EndToEnd(t *testing.T) {
	backend := http.NewServeMux()
	backend.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"backend-token","user":{"id":"u1","username":"jperez","name":"Juan Pérez","role":"operator"}}`))
	})
	backend.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer backend-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","username":"jperez","name":"Juan Pérez","role":"operator"}`))
	})
	a := newTestApp(t, backend)

	form := url.Values{
		"username":   {"jperez"},
		"password":   {"secret"},
		"csrf_token": {"csrf-1"},
		"redirect":   {"/cargos"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-1"})
	w := doRequest(a.Handler, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("POST /login status = %d, want %d; body: %s", w.Code, http.StatusSeeOther, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/cargos" {
		t.Errorf("Location = %q, want %q", loc, "/cargos")
	}
	var authCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth-token" {
			authCookie = c
		}
	}
	if authCookie == nil || authCookie.Value != "backend-token" {
		t.Fatalf("auth-token cookie = %+v, want value backend-token", authCookie)
	}

	page := httptest.NewRequest(http.MethodGet, "/cargos", nil)
	page.AddCookie(authCookie)
	w = doRequest(a.Handler, page)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /cargos status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Juan Pérez") {
		t.Error("page should show the logged in operator")
	}
}

func TestNew_Backend401OnProxy_ClearsSessionAndForcesLogin(t *testing.T) {
	backend := http.NewServeMux()
	backend.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"backend-token","user":{"id":"u1","username":"jperez","role":"operator"}}`))
	})
	backend.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","username":"jperez","role":"operator"}`))
	})
	backend.HandleFunc("GET /funcionarios", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	a := newTestApp(t, backend)

	if err := a.Store.SetToken(context.Background(), "backend-token"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	w := doRequest(a.Handler, httptest.NewRequest(http.MethodGet, "/api/funcionarios", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("GET /api/funcionarios status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if a.Store.Token() != "" {
		t.Errorf("Token = %q, want empty after backend 401", a.Store.Token())
	}

	page := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	page.AddCookie(&http.Cookie{Name: "auth-token", Value: "backend-token"})
	w = doRequest(a.Handler, page)

	if w.Code != http.StatusFound {
		t.Fatalf("GET /dashboard status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/login") {
		t.Errorf("Location = %q, want the login page", loc)
	}
	if !strings.Contains(strings.Join(w.Header().Values("Set-Cookie"), ";"), "auth-token=;") {
		t.Error("stale auth-token cookie should be expired in the browser")
	}
}
