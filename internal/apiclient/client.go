// Package apiclient は人事バックエンドのREST APIクライアントを提供する。
// 全リクエストに現在の認証トークンを付与し、401応答を一元的に処理する。
// 認証情報ストアへの依存はTokenSourceとUnauthorizedHandlerの注入で表現し、
// このパッケージからストアを直接参照しない。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// バックエンドの認証APIのパス。
const (
	LoginPath          = "/auth/login"
	CurrentUserPath    = "/auth/me"
	RegisterPath       = "/auth/register"
	ForgotPasswordPath = "/auth/forgot-password"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 10 << 20

// Config はClientの設定。
type Config struct {
	BaseURL   string
	Timeout   time.Duration     // 既定値: 15秒
	Transport http.RoundTripper // 未指定の場合はhttp.DefaultTransport
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// Client はバックエンドAPIクライアント。
type Client struct {
	baseURL    *url.URL
	transport  *authTransport
	httpClient *http.Client
	logger     *slog.Logger
}

// New はClientを生成する。
// tokensは各リクエストの直前に呼び出され、onUnauthorizedは401応答ごとに1回呼び出される。
func New(cfg Config, tokens TokenSource, onUnauthorized UnauthorizedHandler) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL scheme: %q", base.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	t := &authTransport{
		base:           cfg.Transport,
		tokens:         tokens,
		onUnauthorized: onUnauthorized,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}

	return &Client{
		baseURL:   base,
		transport: t,
		httpClient: &http.Client{
			Transport: t,
			Timeout:   cfg.Timeout,
			Jar:       jar,
		},
		logger: cfg.Logger,
	}, nil
}

// MultipartBody はファイルアップロード用のリクエストボディ。
// Content-Typeはmultipartのboundaryを含む値がそのまま使われ、JSONの既定値は付与されない。
type MultipartBody struct {
	contentType string
	buf         *bytes.Buffer
}

// File はアップロードするファイル。
type File struct {
	Field    string
	Filename string
	Content  io.Reader
}

// NewMultipartBody はフォーム項目とファイルからMultipartBodyを組み立てる。
func NewMultipartBody(fields map[string]string, files ...File) (*MultipartBody, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %s: %w", f.Filename, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("failed to copy file %s: %w", f.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &MultipartBody{contentType: mw.FormDataContentType(), buf: buf}, nil
}

// ContentType はboundaryを含むContent-Typeを返す。
func (b *MultipartBody) ContentType() string {
	return b.contentType
}

// Do はリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
// bodyがnilでなくMultipartBodyでもない場合はJSONとして送信する。
// 2xx以外の場合は*Errorを返す。401の場合はUnauthorizedHandlerも呼び出される。
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp.StatusCode, data)
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode backend response: %w", err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)

	switch b := body.(type) {
	case nil:
	case *MultipartBody:
		reader = b.buf
		contentType = b.contentType
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) resolve(path string) string {
	u := *c.baseURL
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u.RawQuery = path[i+1:]
		path = path[:i]
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// GetJSON はGETリクエストを送信する。
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON はJSONボディのPOSTリクエストを送信する。
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Upload はファイルをmultipart/form-dataでPOSTする。
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, files []File, out any) error {
	body, err := NewMultipartBody(fields, files...)
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// LoginResult はログインAPIの応答。
type LoginResult struct {
	Token string
	User  *model.User
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	Token       string      `json:"token"`
	User        *model.User `json:"user"`
}

// Login はユーザー名とパスワードでバックエンドにログインする。
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var resp loginResponse
	err := c.PostJSON(ctx, LoginPath, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return nil, fmt.Errorf("login response did not contain a token")
	}
	return &LoginResult{Token: token, User: resp.User}, nil
}

// Logout はバックエンドのセッションを破棄する。このリクエストの401は自動クリアの対象外。
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, LogoutPath, nil, nil)
}

// CurrentUser は現在のトークンに紐づく利用者を取得する。
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.GetJSON(ctx, CurrentUserPath, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("current user response did not contain an id")
	}
	return &user, nil
}

// RegisterRequest は利用者登録APIのリクエスト。
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Register は利用者登録をバックエンドに依頼する。
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.PostJSON(ctx, RegisterPath, req, nil)
}

// ForgotPassword はパスワード再設定メールの送信をバックエンドに依頼する。
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.PostJSON(ctx, ForgotPasswordPath, map[string]string{"email": email}, nil)
}
