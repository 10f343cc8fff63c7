// Package routes はパスの分類ルールを提供する。
// Edge Gate とマウントガードの両方がこのパッケージを参照し、
// 保護対象・公開パスの一覧が層ごとに食い違わないようにする。
package routes

import (
	"net/url"
	"strings"
)

// Class はパスの分類を表す。
type Class int

const (
	// ClassNeither は保護対象でも公開でもないパス。
	ClassNeither Class = iota
	// ClassProtected は認証済みの利用者のみが閲覧できるパス。
	ClassProtected
	// ClassPublic は未認証でも閲覧できるパス。
	ClassPublic
)

// String はClassの文字列表現を返す。
func (c Class) String() string {
	switch c {
	case ClassProtected:
		return "protected"
	case ClassPublic:
		return "public"
	default:
		return "neither"
	}
}

// リダイレクト先のパス。
const (
	LoginPath        = "/login"
	DashboardPath    = "/dashboard"
	UnauthorizedPath = "/unauthorized"

	// RedirectParam はログイン後に戻る先を保持するクエリパラメータ名。
	RedirectParam = "redirect"
)

// ProtectedPrefixes はダッシュボードとデータ管理画面のパス接頭辞。
var ProtectedPrefixes = []string{
	"/dashboard",
	"/funcionarios",
	"/cargos",
	"/unidades",
	"/sanciones",
	"/faltas-disciplinarias",
	"/ausencias",
	"/comisiones",
	"/documentos",
	"/usuarios",
}

// PublicPrefixes は認証フロー用のパス接頭辞。
var PublicPrefixes = []string{
	LoginPath,
	"/register",
	"/forgot-password",
}

// ExcludedPrefixes は Edge Gate を通さないパス接頭辞。
// 静的アセット、画像最適化、バックエンドへのプロキシ、運用エンドポイントを含む。
var ExcludedPrefixes = []string{
	"/static/",
	"/images/",
	"/_image",
	"/favicon.ico",
	"/api/",
	"/metrics",
	"/health",
}

// Classify はパスを保護対象・公開・どちらでもないのいずれかに分類する。
// 接頭辞の一致はパスセグメント単位で判定する（/dashboardx は /dashboard に一致しない）。
func Classify(path string) Class {
	for _, p := range ProtectedPrefixes {
		if hasSegmentPrefix(path, p) {
			return ClassProtected
		}
	}
	for _, p := range PublicPrefixes {
		if hasSegmentPrefix(path, p) {
			return ClassPublic
		}
	}
	return ClassNeither
}

// IsProtected はパスが保護対象かどうかを返す。
func IsProtected(path string) bool {
	return Classify(path) == ClassProtected
}

// IsPublic はパスが公開パスかどうかを返す。
func IsPublic(path string) bool {
	return Classify(path) == ClassPublic
}

// IsExcluded はパスが Edge Gate の対象外かどうかを返す。
func IsExcluded(path string) bool {
	for _, p := range ExcludedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsLocalPath はリダイレクト先として安全なローカルパスかどうかを判定する。
// スキーム付きURLやプロトコル相対URL（//host）は拒否する。
func IsLocalPath(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}

// LoginURL は戻り先をredirectパラメータに付与したログイン画面のURLを返す。
func LoginURL(returnTo string) string {
	return LoginPath + "?" + RedirectParam + "=" + url.QueryEscape(returnTo)
}

func hasSegmentPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
