package navigation

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newTestTracker() *Tracker {
	return NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTracker_Navigate_SchedulesOnce(t *testing.T) {
	tr := newTestTracker()

	if !tr.Navigate("/login") {
		t.Error("first Navigate should schedule")
	}
	if tr.Navigate("/login") {
		t.Error("second Navigate to same target should be ignored")
	}
	if tr.Pending() != "/login" {
		t.Errorf("Pending() = %q, want %q", tr.Pending(), "/login")
	}
}

func TestTracker_Navigate_AlreadyAtTarget_Ignored(t *testing.T) {
	tr := newTestTracker()
	tr.SetLocation("/login")

	if tr.Navigate("/login") {
		t.Error("Navigate should be ignored when already at target")
	}
	if tr.Pending() != "" {
		t.Errorf("Pending() = %q, want empty", tr.Pending())
	}
}

func TestTracker_Navigate_Concurrent_SchedulesExactlyOnce(t *testing.T) {
	tr := newTestTracker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	scheduled := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Navigate("/login") {
				mu.Lock()
				scheduled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if scheduled != 1 {
		t.Errorf("scheduled = %d, want 1", scheduled)
	}
}

func TestTrackerMiddleware_RecordsLocation(t *testing.T) {
	tr := newTestTracker()
	handler := tr.Middleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/funcionarios", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if tr.Location() != "/funcionarios" {
		t.Errorf("Location() = %q, want %q", tr.Location(), "/funcionarios")
	}
}

func TestTrackerMiddleware_PendingRedirectsOnce(t *testing.T) {
	tr := newTestTracker()
	handler := tr.Middleware()(okHandler())
	tr.SetLocation("/funcionarios")
	tr.Navigate("/login")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cargos", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}

	// 2回目は通常通り処理される
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cargos", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("second status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTrackerMiddleware_RequestToTarget_ConsumesPending(t *testing.T) {
	tr := newTestTracker()
	handler := tr.Middleware()(okHandler())
	tr.Navigate("/login")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if tr.Pending() != "" {
		t.Errorf("Pending() = %q, want empty", tr.Pending())
	}
}

func TestTrackerMiddleware_ExcludedPath_Untouched(t *testing.T) {
	tr := newTestTracker()
	handler := tr.Middleware()(okHandler())
	tr.Navigate("/login")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/funcionarios", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if tr.Pending() != "/login" {
		t.Errorf("Pending() = %q, want %q", tr.Pending(), "/login")
	}
}
