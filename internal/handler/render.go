package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/personnel-dashboard/internal/model"
	"github.com/hitoshi/personnel-dashboard/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

// Section はダッシュボードのデータ管理画面。
type Section struct {
	ID           string
	Title        string
	Path         string
	RequiredRole string
}

// Sections はナビゲーションに表示するデータ管理画面の一覧。
var Sections = []Section{
	{ID: "funcionarios", Title: "Funcionarios", Path: "/funcionarios"},
	{ID: "cargos", Title: "Cargos", Path: "/cargos"},
	{ID: "unidades", Title: "Unidades", Path: "/unidades"},
	{ID: "sanciones", Title: "Sanciones", Path: "/sanciones"},
	{ID: "faltas-disciplinarias", Title: "Faltas disciplinarias", Path: "/faltas-disciplinarias"},
	{ID: "ausencias", Title: "Ausencias", Path: "/ausencias"},
	{ID: "comisiones", Title: "Comisiones", Path: "/comisiones"},
	{ID: "documentos", Title: "Documentos", Path: "/documentos", RequiredRole: model.RoleAdmin},
	{ID: "usuarios", Title: "Usuarios", Path: "/usuarios", RequiredRole: model.RoleAdmin},
}

// pageData はすべてのページテンプレートに渡すデータ。
type pageData struct {
	Title     string
	User      *model.User
	Sections  []Section
	CSRFToken string
	Flash     string

	// ログイン・登録フォーム
	Redirect string
	Username string
	Name     string
	Email    string
	Sent     bool

	// データ管理画面
	SectionID  string
	APIPath    string
	ResourceID string
}

// renderer はページテンプレートを描画する。
type renderer struct {
	pages     map[string]*template.Template
	sanitizer security.MessageSanitizer
}

func newRenderer() *renderer {
	names := []string{"login", "register", "forgot_password", "unauthorized", "section"}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		pages[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return &renderer{
		pages:     pages,
		sanitizer: security.NewMessageSanitizer(),
	}
}

// render はページを描画する。描画に失敗した場合は500を返す。
func (rd *renderer) render(w http.ResponseWriter, status int, name string, data pageData) {
	tmpl, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown page template", slog.String("name", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data.Flash = rd.sanitizer.Sanitize(data.Flash)
	if data.User != nil {
		data.Sections = visibleSections(data.User)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// visibleSections は利用者のロールで閲覧できる画面だけを返す。
func visibleSections(user *model.User) []Section {
	out := make([]Section, 0, len(Sections))
	for _, s := range Sections {
		if s.RequiredRole == "" || user.HasRole(s.RequiredRole) {
			out = append(out, s)
		}
	}
	return out
}
