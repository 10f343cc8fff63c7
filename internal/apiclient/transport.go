package apiclient

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogoutPath はログアウトAPIのパス。このパスへのリクエストの401は自動クリアの対象外。
const LogoutPath = "/auth/logout"

// TokenSource は現在保持している認証トークンを返す。保持していない場合は空文字列を返す。
type TokenSource func() string

// UnauthorizedHandler はバックエンドが401を返したときに呼び出される。
// pathは401を返したリクエストのパス。
type UnauthorizedHandler func(ctx context.Context, path string)

// MetricsRecorder はバックエンド呼び出しのメトリクスを記録する。
type MetricsRecorder interface {
	RecordBackendRequest(statusCode int, duration time.Duration)
}

// IsLogoutPath はパスがログアウトAPIかどうかを判定する。
func IsLogoutPath(path string) bool {
	return strings.Contains(path, LogoutPath)
}

// authTransport は全リクエストに認証情報を付与し、401応答に反応するRoundTripper。
// Client.Doとリバースプロキシの両方が同じtransportを通る。
type authTransport struct {
	base           http.RoundTripper
	tokens         TokenSource
	onUnauthorized UnauthorizedHandler
	metrics        MetricsRecorder
	logger         *slog.Logger
}

// RoundTrip はhttp.RoundTripperを実装する。
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if t.tokens != nil && req.Header.Get("Authorization") == "" {
		if token := t.tokens(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		if t.metrics != nil {
			t.metrics.RecordBackendRequest(0, duration)
		}
		t.logger.Warn("backend request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.RecordBackendRequest(resp.StatusCode, duration)
	}

	if resp.StatusCode == http.StatusUnauthorized && !IsLogoutPath(req.URL.Path) && t.onUnauthorized != nil {
		t.logger.Warn("backend rejected credential",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("request_id", req.Header.Get("X-Request-ID")),
		)
		t.onUnauthorized(req.Context(), req.URL.Path)
	}

	return resp, nil
}
