// Package handler はダッシュボードのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/personnel-dashboard/internal/apiclient"
	"github.com/hitoshi/personnel-dashboard/internal/middleware"
	"github.com/hitoshi/personnel-dashboard/internal/model"
	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*model.User, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, req apiclient.RegisterRequest) error
	ForgotPassword(ctx context.Context, email string) error
}

// SessionState は現在の認証状態の読み取り口。credential.Storeが満たす。
type SessionState interface {
	User() *model.User
	IsAuthenticated() bool
}

// CookieWriter は認証Cookieをレスポンスに書き込む。credential.CookieChannelが満たす。
type CookieWriter interface {
	Apply(w http.ResponseWriter)
}

// AuthHandler はログイン・ログアウト・利用者登録のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	session SessionState
	cookie  CookieWriter
	pages   *renderer
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, session SessionState, cookie CookieWriter) *AuthHandler {
	return &AuthHandler{
		service: service,
		session: session,
		cookie:  cookie,
		pages:   newRenderer(),
	}
}

// LoginPage はログイン画面を表示する。
// GET /login?redirect=/funcionarios
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "login", pageData{
		Title:     "ログイン",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Redirect:  r.URL.Query().Get(routes.RedirectParam),
	})
}

// Login はログインフォームを処理する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	redirectTo := r.PostFormValue(routes.RedirectParam)

	user, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		// 失敗時もストアの状態（クリア済みのCookie）をブラウザに反映する
		h.cookie.Apply(w)
		h.pages.render(w, middleware.StatusForError(err), "login", pageData{
			Title:     "ログイン",
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
			Flash:     messageForError(err),
			Redirect:  redirectTo,
			Username:  username,
		})
		return
	}

	h.cookie.Apply(w)
	slog.Info("login succeeded",
		slog.String("user_id", user.ID),
		slog.String("redirect", safeRedirect(redirectTo)),
	)
	http.Redirect(w, r, safeRedirect(redirectTo), http.StatusSeeOther)
}

// Logout はセッションを破棄してログイン画面へ戻す。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.cookie.Apply(w)
	http.Redirect(w, r, routes.LoginPath, http.StatusSeeOther)
}

// RegisterPage は利用者登録画面を表示する。
// GET /register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "register", pageData{
		Title:     "利用者登録",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// Register は利用者登録フォームを処理する。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req := apiclient.RegisterRequest{
		Username: r.PostFormValue("username"),
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}

	if err := h.service.Register(r.Context(), req); err != nil {
		h.pages.render(w, middleware.StatusForError(err), "register", pageData{
			Title:     "利用者登録",
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
			Flash:     messageForError(err),
			Username:  req.Username,
			Name:      req.Name,
			Email:     req.Email,
		})
		return
	}

	h.pages.render(w, http.StatusOK, "login", pageData{
		Title:     "ログイン",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Flash:     "登録が完了しました。ログインしてください。",
		Username:  req.Username,
	})
}

// ForgotPasswordPage はパスワード再設定画面を表示する。
// GET /forgot-password
func (h *AuthHandler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "forgot_password", pageData{
		Title:     "パスワード再設定",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// ForgotPassword はパスワード再設定の依頼を処理する。
// POST /forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")

	if err := h.service.ForgotPassword(r.Context(), email); err != nil {
		h.pages.render(w, middleware.StatusForError(err), "forgot_password", pageData{
			Title:     "パスワード再設定",
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
			Flash:     messageForError(err),
			Email:     email,
		})
		return
	}

	h.pages.render(w, http.StatusOK, "forgot_password", pageData{
		Title: "パスワード再設定",
		Sent:  true,
	})
}

// Unauthorized は権限不足の案内画面を表示する。
// GET /unauthorized
func (h *AuthHandler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusForbidden, "unauthorized", pageData{
		Title:     "権限がありません",
		User:      h.session.User(),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if !h.session.IsAuthenticated() {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(h.session.User())
}

// safeRedirect はログイン後の遷移先を決める。
// ローカルパス以外や認証フロー自身への遷移はダッシュボードに置き換える。
func safeRedirect(target string) string {
	if !routes.IsLocalPath(target) {
		return routes.DashboardPath
	}
	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if routes.IsPublic(path) {
		return routes.DashboardPath
	}
	return target
}

// messageForError は画面に表示するエラーメッセージを返す。
func messageForError(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	slog.Error("internal server error", slog.String("error", err.Error()))
	return "内部エラーが発生しました。"
}
