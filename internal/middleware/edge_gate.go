package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

// EdgeGateMetrics はEdge Gateのリダイレクトを記録する。
type EdgeGateMetrics interface {
	RecordEdgeRedirect(target string)
}

// TokenFromRequest はリクエストから認証トークンを取得する。
// サイドチャネルCookie、Authorizationヘッダー（Bearer）の順に参照する。
// トークンの署名や有効性は検証しない。
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// NewEdgeGateMiddleware はページを返す前にトークンの有無だけでリダイレクトを判定する
// ミドルウェアを返す。除外パス（静的アセット、API、画像、運用エンドポイント）は判定しない。
//
//   - 保護対象のパスでトークンがない場合は /login?redirect=<元のパス> へ
//   - ログイン画面そのものでトークンがある場合は /dashboard へ
//   - それ以外はそのまま通す
func NewEdgeGateMiddleware(cookieName string, metrics EdgeGateMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if routes.IsExcluded(path) {
				next.ServeHTTP(w, r)
				return
			}

			// 1. パスを分類
			class := routes.Classify(path)
			if class == routes.ClassNeither {
				next.ServeHTTP(w, r)
				return
			}

			// 2. トークンを取得
			hasToken := TokenFromRequest(r, cookieName) != ""

			// 3. 保護対象でトークンなし
			if class == routes.ClassProtected && !hasToken {
				redirect(w, r, routes.LoginURL(path), metrics)
				return
			}

			// 4. ログイン画面でトークンあり
			if class == routes.ClassPublic && hasToken && path == routes.LoginPath {
				redirect(w, r, routes.DashboardPath, metrics)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func redirect(w http.ResponseWriter, r *http.Request, target string, metrics EdgeGateMetrics) {
	slog.Debug("edge gate redirect",
		slog.String("path", r.URL.Path),
		slog.String("target", target),
	)
	if metrics != nil {
		label := target
		if i := strings.IndexByte(label, '?'); i >= 0 {
			label = label[:i]
		}
		metrics.RecordEdgeRedirect(label)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
