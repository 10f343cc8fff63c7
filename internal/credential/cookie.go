package credential

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// CookieName はEdge Gateが読み取るサイドチャネルCookieの名前。
const CookieName = "auth-token"

// DefaultCookieTTL はサイドチャネルCookieの既定の有効期間。
const DefaultCookieTTL = 24 * time.Hour

// SideChannel はストア外部に認証トークンを複製する書き込み先。
// ストアはSetToken・ClearAuthのたびに同じ操作の中で同期的に更新する。
type SideChannel interface {
	// Set はトークンを書き込む。
	Set(token string) error
	// Expire は書き込んだトークンを即時失効させる。
	Expire() error
}

// CookieConfig はサイドチャネルCookieの属性。
type CookieConfig struct {
	Name   string        // 既定値: auth-token
	Domain string        // 空の場合はホスト限定
	TTL    time.Duration // 既定値: 24時間
	Secure bool
}

// CookieChannel はauth-token Cookieとしてトークンを複製するSideChannel。
// 現在のCookieの状態を保持し、ブラウザへのレスポンスにSet-Cookieとして反映する。
type CookieChannel struct {
	config CookieConfig
	now    func() time.Time

	mu      sync.RWMutex
	current *http.Cookie // 一度も書き込まれていない場合はnil
}

// NewCookieChannel はCookieChannelを生成する。
func NewCookieChannel(config CookieConfig) *CookieChannel {
	if config.Name == "" {
		config.Name = CookieName
	}
	if config.TTL <= 0 {
		config.TTL = DefaultCookieTTL
	}
	return &CookieChannel{config: config, now: time.Now}
}

// Set はトークンを保持するCookieを生成する。同じ値で繰り返し呼んでも結果は変わらない。
func (c *CookieChannel) Set(token string) error {
	cookie := &http.Cookie{
		Name:     c.config.Name,
		Value:    token,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   int(c.config.TTL / time.Second),
		Expires:  c.now().Add(c.config.TTL),
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	c.mu.Lock()
	c.current = cookie
	c.mu.Unlock()
	return nil
}

// Expire は過去の有効期限を持つ空のCookieに置き換える。
func (c *CookieChannel) Expire() error {
	cookie := &http.Cookie{
		Name:     c.config.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	c.mu.Lock()
	c.current = cookie
	c.mu.Unlock()
	return nil
}

// Cookie は現在のCookieのコピーを返す。一度も書き込まれていない場合はnilを返す。
func (c *CookieChannel) Cookie() *http.Cookie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// Token は現在Cookieに複製されているトークンを返す。失効済みの場合は空文字列。
func (c *CookieChannel) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.current.MaxAge < 0 {
		return ""
	}
	return c.current.Value
}

// Apply は現在のCookieをSet-Cookieヘッダーとしてレスポンスに書き込む。
// 同名のSet-Cookieが既にある場合は置き換える。
func (c *CookieChannel) Apply(w http.ResponseWriter) {
	cookie := c.Cookie()
	if cookie == nil {
		return
	}

	prefix := cookie.Name + "="
	existing := w.Header().Values("Set-Cookie")
	w.Header().Del("Set-Cookie")
	for _, v := range existing {
		if !strings.HasPrefix(v, prefix) {
			w.Header().Add("Set-Cookie", v)
		}
	}
	http.SetCookie(w, cookie)
}

// SyncMiddleware はブラウザが送ってきたCookieとチャネルの状態が食い違う場合に、
// レスポンスで現在の状態を書き戻すミドルウェアを返す。
// 401検知などリクエスト外で発生したClearAuthを次のレスポンスでブラウザに反映する。
// チャネルが失効状態の場合は、後続のハンドラーから古いCookieが見えないようリクエストからも取り除く。
func (c *CookieChannel) SyncMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.Cookie() != nil {
				var sent string
				if rc, err := r.Cookie(c.config.Name); err == nil {
					sent = rc.Value
				}
				current := c.Token()
				if sent != current {
					c.Apply(w)
					if current == "" {
						r = withoutCookie(r, c.config.Name)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withoutCookie は指定した名前のCookieを除いたリクエストのコピーを返す。
func withoutCookie(r *http.Request, name string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.Header.Del("Cookie")
	for _, ck := range r.Cookies() {
		if ck.Name != name {
			r2.AddCookie(ck)
		}
	}
	return r2
}

// compile-time interface check
var _ SideChannel = (*CookieChannel)(nil)
