package handler

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/personnel-dashboard/internal/guard"
	"github.com/hitoshi/personnel-dashboard/internal/middleware"
	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

//go:embed static
var staticFS embed.FS

// SessionReader は認証状態とハイドレーション状態の読み取り口。credential.Storeが満たす。
type SessionReader interface {
	SessionState
	HydrationState
}

// CookieSyncer は認証Cookieの書き込みと同期を行う。credential.CookieChannelが満たす。
type CookieSyncer interface {
	CookieWriter
	SyncMiddleware() func(next http.Handler) http.Handler
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	CookieName        string
	Cookie            CookieSyncer
	EdgeMetrics       middleware.EdgeGateMetrics
	Navigation        func(next http.Handler) http.Handler

	// 認証
	Session     SessionReader
	AuthService AuthServiceInterface

	// マウントガード。SectionGuardsは画面ID単位でGuardに加えて適用する。
	Guard         *guard.Guard
	SectionGuards map[string]*guard.Guard

	// バックエンドへのプロキシ（/api/*）と運用エンドポイント
	APIProxy       http.Handler
	MetricsHandler http.Handler
}

// NewRouter はダッシュボード全体のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS →
//	CookieSync → EdgeGate → Navigation → CSRF
//
// 保護対象の画面はさらにマウントガードを通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.Cookie.SyncMiddleware())
	r.Use(middleware.NewEdgeGateMiddleware(deps.CookieName, deps.EdgeMetrics))
	if deps.Navigation != nil {
		r.Use(deps.Navigation)
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.Session, deps.Cookie)
	pageHandler := NewPageHandler(deps.Session)

	// --- 運用エンドポイントと静的アセット ---
	r.Get("/health", HealthHandler(deps.Session))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
	r.Handle("/static/*", staticHandler())

	// --- 認証不要のルート ---
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, routes.DashboardPath, http.StatusFound)
	})
	r.Get("/login", authHandler.LoginPage)
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
	r.Post("/logout", authHandler.Logout)
	r.Get("/register", authHandler.RegisterPage)
	r.Post("/register", authHandler.Register)
	r.Get("/forgot-password", authHandler.ForgotPasswordPage)
	r.Post("/forgot-password", authHandler.ForgotPassword)
	r.Get("/unauthorized", authHandler.Unauthorized)
	r.Get("/me", authHandler.Me)

	// バックエンドAPIへの中継（トークン付与と401処理はクライアント側で行う）
	if deps.APIProxy != nil {
		r.Handle("/api/*", deps.APIProxy)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Guard.Middleware)

		r.Get(routes.DashboardPath, pageHandler.Dashboard)

		for _, s := range Sections {
			sr := r
			if g, ok := deps.SectionGuards[s.ID]; ok && g != nil {
				sr = r.With(g.Middleware)
			}
			h := pageHandler.Section(s)
			sr.Get(s.Path, h)
			sr.Get(s.Path+"/{id}", h)
		}
	})

	return r
}

// staticHandler は埋め込みの静的アセットを配信する。
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
