package guard

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

// LoadingRefreshSeconds は読み込み中ページが再読み込みするまでの秒数。
const LoadingRefreshSeconds = "1"

var loadingPage = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>読み込み中</title></head>
<body><p role="status">セッションを確認しています...</p></body>
</html>
`))

var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>アクセスが拒否されました</title></head>
<body>
<h1>アクセスが拒否されました</h1>
{{if .RoleMismatch}}<p>この画面を表示する権限がありません。</p>
{{else}}<p>この画面を表示するにはログインが必要です。</p>
<p><a href="{{.LoginURL}}">ログイン</a></p>
{{end}}</body>
</html>
`))

// Middleware は判定が確定するまで待ち、認可された場合のみ次のハンドラを呼び出す。
// 確定しない場合は読み込み中ページを返し、保護対象のコンテンツは返さない。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := g.Settle(r.Context())
		g.record(v)

		switch v.State {
		case StateAuthorized:
			next.ServeHTTP(w, r)
		case StateInitializing:
			g.writeLoading(w, r)
		default:
			g.logger.Info("guard rejected request",
				slog.String("path", r.URL.Path),
				slog.Bool("role_mismatch", v.RoleMismatch),
				slog.String("variant", g.variantName()),
			)
			if g.variant == VariantDeny {
				g.writeDenied(w, r, v)
				return
			}
			http.Redirect(w, r, g.redirectTarget(r, v), http.StatusFound)
		}
	})
}

func (g *Guard) redirectTarget(r *http.Request, v Verdict) string {
	if v.RoleMismatch {
		return routes.UnauthorizedPath
	}
	return routes.LoginURL(r.URL.RequestURI())
}

func (g *Guard) writeLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Refresh", LoadingRefreshSeconds)
	w.WriteHeader(http.StatusOK)
	if err := loadingPage.Execute(w, nil); err != nil {
		g.logger.Error("failed to render loading page", slog.String("error", err.Error()))
	}
}

func (g *Guard) writeDenied(w http.ResponseWriter, r *http.Request, v Verdict) {
	status := http.StatusUnauthorized
	if v.RoleMismatch {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	data := struct {
		RoleMismatch bool
		LoginURL     string
	}{
		RoleMismatch: v.RoleMismatch,
		LoginURL:     routes.LoginURL(r.URL.RequestURI()),
	}
	if err := deniedPage.Execute(w, data); err != nil {
		g.logger.Error("failed to render access denied page", slog.String("error", err.Error()))
	}
}

func (g *Guard) variantName() string {
	if g.variant == VariantDeny {
		return "deny"
	}
	return "redirect"
}
