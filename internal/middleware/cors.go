package middleware

import (
	"net/http"
	"strings"
)

// corsAllowedHeaders はブラウザから/api/*へ送られるヘッダー。
// Authorizationは外部クライアントがBearerでEdge Gateを通る場合に使う。
const corsAllowedHeaders = "Content-Type, Authorization, X-CSRF-Token, X-Request-ID"

// NewCORSMiddleware は指定されたオリジンからのリクエストにだけCORSヘッダーを付与するミドルウェアを返す。
// 認証Cookieを伴うため、ワイルドカード(*)は使わずOriginが一致した場合のみ許可する。
// allowedOriginが空の場合はCORSを無効にする。
// 許可されたオリジンからのプリフライトには204で応答し、それ以外は後続に渡す。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || allowedOrigin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if !strings.EqualFold(origin, allowedOrigin) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
