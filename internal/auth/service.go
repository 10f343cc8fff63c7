// Package auth はログイン・ログアウト・利用者登録と、401応答時のセッション破棄を提供する。
// 認証情報ストア、バックエンドクライアント、認証チェック、画面遷移を組み合わせる。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/personnel-dashboard/internal/apiclient"
	"github.com/hitoshi/personnel-dashboard/internal/authcheck"
	"github.com/hitoshi/personnel-dashboard/internal/model"
	"github.com/hitoshi/personnel-dashboard/internal/routes"
)

// Backend はバックエンドの認証API。apiclient.Clientが満たす。
type Backend interface {
	Login(ctx context.Context, username, password string) (*apiclient.LoginResult, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, req apiclient.RegisterRequest) error
	ForgotPassword(ctx context.Context, email string) error
}

// CredentialStore はサービスが操作する認証情報ストア。credential.Storeが満たす。
type CredentialStore interface {
	SetToken(ctx context.Context, token string) error
	SetUser(ctx context.Context, user *model.User) error
	ClearAuth(ctx context.Context) error
	User() *model.User
}

// AuthCheck はログイン後に再検証させる認証チェック。authcheck.Queryが満たす。
type AuthCheck interface {
	Refetch(ctx context.Context) authcheck.Result
}

// Navigator は強制的な画面遷移を予約する。navigation.Trackerが満たす。
type Navigator interface {
	Location() string
	Navigate(target string) bool
}

// MetricsRecorder は認証情報の破棄を記録する。
type MetricsRecorder interface {
	RecordAuthClear(reason string)
}

// Service は認証に関するユースケースを提供する。
type Service struct {
	backend   Backend
	store     CredentialStore
	query     AuthCheck
	navigator Navigator
	metrics   MetricsRecorder
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	backend Backend,
	store CredentialStore,
	query AuthCheck,
	navigator Navigator,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		backend:   backend,
		store:     store,
		query:     query,
		navigator: navigator,
		metrics:   metrics,
	}
}

// Login はバックエンドで認証し、取得したトークンと利用者をストアに保存する。
// 保存後に認証チェックを強制的に再実行し、確認済みの利用者を返す。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	var missing []string
	if username == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, model.NewMissingFieldsError(missing...)
	}

	result, err := s.backend.Login(ctx, username, password)
	if err != nil {
		if status := apiclient.StatusOf(err); status >= 400 && status < 500 {
			return nil, model.NewInvalidCredentialsError("")
		}
		return nil, mapBackendError(err)
	}

	if err := s.store.SetToken(ctx, result.Token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	if result.User != nil {
		if err := s.store.SetUser(ctx, result.User); err != nil {
			return nil, fmt.Errorf("failed to store user: %w", err)
		}
	}

	if r := s.query.Refetch(ctx); !r.IsAuthenticated {
		slog.Warn("login succeeded but auth check did not confirm the session",
			slog.String("username", username),
		)
		return nil, model.NewBackendUnavailableError()
	}

	user := s.store.User()
	if user == nil {
		return nil, model.NewBackendUnavailableError()
	}
	slog.Info("user logged in",
		slog.String("username", username),
		slog.String("role", user.Role),
	)
	return user, nil
}

// Logout はバックエンドのセッションを破棄し、ストアを空にする。
// バックエンドの失敗はログに記録するのみで、ストアのクリアは必ず行う。
func (s *Service) Logout(ctx context.Context) error {
	if err := s.backend.Logout(ctx); err != nil {
		slog.Warn("backend logout failed", slog.String("error", err.Error()))
	}

	if err := s.store.ClearAuth(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	s.record("logout")
	slog.Info("user logged out")
	return nil
}

// HandleUnauthorized はログアウト以外のリクエストが401を返した場合に呼び出される。
// ストアを空にし、現在位置がログイン画面でなければログイン画面への遷移を予約する。
// 同時に複数の401を受け取っても、遷移は1回だけ予約される。
func (s *Service) HandleUnauthorized(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.ClearAuth(ctx); err != nil {
		slog.Error("failed to clear credential after 401",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	s.record("unauthorized")

	if s.navigator.Location() == routes.LoginPath {
		return
	}
	s.navigator.Navigate(routes.LoginPath)
}

// Register は利用者登録をバックエンドに依頼する。
func (s *Service) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	var missing []string
	if req.Username == "" {
		missing = append(missing, "username")
	}
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if req.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}

	if err := s.backend.Register(ctx, req); err != nil {
		return mapBackendError(err)
	}
	slog.Info("user registered", slog.String("username", req.Username))
	return nil
}

// ForgotPassword はパスワード再設定をバックエンドに依頼する。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewMissingFieldsError("email")
	}
	if err := s.backend.ForgotPassword(ctx, email); err != nil {
		return mapBackendError(err)
	}
	return nil
}

func (s *Service) record(reason string) {
	if s.metrics != nil {
		s.metrics.RecordAuthClear(reason)
	}
}

// mapBackendError はバックエンドのエラーを画面に表示できるAPIErrorに変換する。
func mapBackendError(err error) error {
	var backendErr *apiclient.Error
	if !errors.As(err, &backendErr) {
		return model.NewBackendUnavailableError()
	}
	switch {
	case backendErr.Status == http.StatusUnauthorized:
		return model.NewUnauthorizedError()
	case backendErr.Status >= 400 && backendErr.Status < 500:
		return model.NewRequestRejectedError(backendErr.Message)
	default:
		return model.NewBackendUnavailableError()
	}
}
