package apiclient

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/hitoshi/personnel-dashboard/internal/middleware"
	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// NewReverseProxy はstripPrefix配下のリクエストをバックエンドに中継するハンドラーを返す。
// 中継されたリクエストもClientと同じtransportを通るため、認証トークンの付与と
// 401時の自動クリアが適用される。ダッシュボード自身のCookieはバックエンドに送らない。
func (c *Client) NewReverseProxy(stripPrefix string) http.Handler {
	target := c.baseURL

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			path := strings.TrimPrefix(pr.In.URL.Path, stripPrefix)
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			pr.Out.URL.Path = strings.TrimRight(target.Path, "/") + path
			pr.Out.URL.RawPath = ""
			pr.Out.Header.Del("Cookie")
			pr.SetXForwarded()
		},
		Transport: c.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			c.logger.Error("proxy request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			middleware.WriteAPIError(w, model.NewBackendUnavailableError())
		},
	}
}
