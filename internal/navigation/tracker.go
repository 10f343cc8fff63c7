// Package navigation は操作者の現在位置と、強制的な画面遷移の予約を管理する。
//
// 401応答を検知したHTTPクライアントは、リクエストの外側からログイン画面への遷移を
// 予約する。予約された遷移は次のページリクエストで1回だけ実行される。
package navigation

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

// Tracker は現在位置と保留中の遷移先を保持する。
type Tracker struct {
	logger *slog.Logger

	mu       sync.Mutex
	location string
	pending  string
}

// NewTracker はTrackerを生成する。
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Location は最後に表示したページのパスを返す。
func (t *Tracker) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

// SetLocation は現在位置を記録する。
func (t *Tracker) SetLocation(path string) {
	t.mu.Lock()
	t.location = path
	t.mu.Unlock()
}

// Pending は保留中の遷移先を返す。保留がない場合は空文字列。
func (t *Tracker) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Navigate は遷移を予約する。
// 同じ遷移先がすでに予約済み、または現在位置が遷移先と同じ場合は何もせずfalseを返す。
func (t *Tracker) Navigate(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == target || t.location == target {
		return false
	}
	t.pending = target
	t.logger.Info("navigation scheduled", slog.String("target", target), slog.String("from", t.location))
	return true
}

// take は保留中の遷移先を取り出してクリアする。
// リクエスト先が遷移先そのものであれば、予約は消化済みとして扱う。
func (t *Tracker) take(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.pending
	t.pending = ""
	t.location = path
	if target == "" || target == path {
		return ""
	}
	t.location = target
	return target
}

// Middleware はページリクエストごとに現在位置を記録し、保留中の遷移があればリダイレクトする。
// 静的アセットやAPIなど、ページでないパスは対象外。
func (t *Tracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || routes.IsExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if target := t.take(r.URL.Path); target != "" {
				t.logger.Info("forced navigation",
					slog.String("from", r.URL.Path),
					slog.String("target", target),
				)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
