package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/personnel-dashboard/internal/middleware"
)

// PageHandler はダッシュボードとデータ管理画面を表示する。
// 画面の中身はブラウザが /api/* 経由でバックエンドから取得する。
type PageHandler struct {
	session SessionState
	pages   *renderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(session SessionState) *PageHandler {
	return &PageHandler{
		session: session,
		pages:   newRenderer(),
	}
}

// Dashboard はダッシュボードを表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "section", pageData{
		Title:     "ダッシュボード",
		User:      h.session.User(),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		SectionID: "dashboard",
		APIPath:   "/api/dashboard",
	})
}

// Section はデータ管理画面のハンドラーを返す。
// GET /funcionarios, GET /funcionarios/{id} など
func (h *PageHandler) Section(s Section) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.pages.render(w, http.StatusOK, "section", pageData{
			Title:      s.Title,
			User:       h.session.User(),
			CSRFToken:  middleware.CSRFTokenFromContext(r.Context()),
			SectionID:  s.ID,
			APIPath:    "/api/" + s.ID,
			ResourceID: chi.URLParam(r, "id"),
		})
	}
}
