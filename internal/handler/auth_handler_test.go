package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/personnel-dashboard/internal/apiclient"
	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn          func(ctx context.Context, username, password string) (*model.User, error)
	logoutFn         func(ctx context.Context) error
	registerFn       func(ctx context.Context, req apiclient.RegisterRequest) error
	forgotPasswordFn func(ctx context.Context, email string) error
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return &model.User{ID: "u1", Username: username, Role: model.RoleOperator}, nil
}

func (m *mockAuthService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

func (m *mockAuthService) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return nil
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.forgotPasswordFn != nil {
		return m.forgotPasswordFn(ctx, email)
	}
	return nil
}

type mockSession struct {
	user     *model.User
	hydrated bool
}

func (m *mockSession) User() *model.User { return m.user }

func (m *mockSession) IsAuthenticated() bool { return m.hydrated && m.user != nil }

func (m *mockSession) IsHydrated() bool { return m.hydrated }

type mockCookie struct {
	applied int
}

func (m *mockCookie) Apply(w http.ResponseWriter) {
	m.applied++
	http.SetCookie(w, &http.Cookie{Name: "auth-token", Value: "tok", Path: "/"})
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func newTestAuthHandler(svc *mockAuthService, session *mockSession) (*AuthHandler, *mockCookie) {
	cookie := &mockCookie{}
	return NewAuthHandler(svc, session, cookie), cookie
}

// --- Login ---

func TestAuthHandler_LoginPage_KeepsRedirectParam(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAuthService{}, &mockSession{})

	w := httptest.NewRecorder()
	h.LoginPage(w, httptest.NewRequest(http.MethodGet, "/login?redirect=%2Ffuncionarios", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `name="redirect" value="/funcionarios"`) {
		t.Errorf("login page should carry the redirect target, got: %s", body)
	}
	if !strings.Contains(body, `lang="ja"`) {
		t.Error("login page should be rendered with the layout")
	}
}

func TestAuthHandler_Login_Success_RedirectsToTarget(t *testing.T) {
	var gotUser, gotPass string
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.User, error) {
			gotUser, gotPass = username, password
			return &model.User{ID: "u1", Username: username, Role: model.RoleOperator}, nil
		},
	}
	h, cookie := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{
		"username": {"jperez"},
		"password": {"secret"},
		"redirect": {"/funcionarios?page=2"},
	}))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/funcionarios?page=2" {
		t.Errorf("Location = %q, want %q", loc, "/funcionarios?page=2")
	}
	if gotUser != "jperez" || gotPass != "secret" {
		t.Errorf("credentials = (%q, %q), want (%q, %q)", gotUser, gotPass, "jperez", "secret")
	}
	if cookie.applied != 1 {
		t.Errorf("cookie applied %d times, want 1", cookie.applied)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "auth-token=tok") {
		t.Error("response should carry the auth-token cookie")
	}
}

func TestAuthHandler_Login_ExternalRedirect_FallsBackToDashboard(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAuthService{}, &mockSession{})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{
		"username": {"jperez"},
		"password": {"secret"},
		"redirect": {"https://evil.example.com/"},
	}))

	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Location = %q, want %q", loc, "/dashboard")
	}
}

func TestAuthHandler_Login_InvalidCredentials_RendersError(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.User, error) {
			return nil, model.NewInvalidCredentialsError("")
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{
		"username": {"jperez"},
		"password": {"wrong"},
		"redirect": {"/cargos"},
	}))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := w.Body.String()
	if !strings.Contains(body, "ユーザー名またはパスワードが正しくありません。") {
		t.Errorf("body should contain the error message, got: %s", body)
	}
	if !strings.Contains(body, `value="jperez"`) {
		t.Error("username should be kept in the form")
	}
	if !strings.Contains(body, `name="redirect" value="/cargos"`) {
		t.Error("redirect target should be kept in the form")
	}
}

func TestAuthHandler_Login_BackendMessageMarkup_IsStripped(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.User, error) {
			return nil, model.NewInvalidCredentialsError(`<img src=x onerror="alert(1)">Cuenta bloqueada`)
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{"username": {"jperez"}, "password": {"x"}}))

	body := w.Body.String()
	if !strings.Contains(body, "Cuenta bloqueada") {
		t.Errorf("body should contain the message text, got: %s", body)
	}
	if strings.Contains(body, "onerror") {
		t.Error("markup from the backend message should be stripped")
	}
}

func TestAuthHandler_Login_BackendDown_Returns502(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.User, error) {
			return nil, model.NewBackendUnavailableError()
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{"username": {"jperez"}, "password": {"x"}}))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

// --- Logout ---

func TestAuthHandler_Logout_BackendFailure_StillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	h, cookie := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/logout", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}
	if cookie.applied != 1 {
		t.Errorf("cookie applied %d times, want 1", cookie.applied)
	}
}

// --- Register / ForgotPassword ---

func TestAuthHandler_Register_Success_ShowsLoginPage(t *testing.T) {
	var got apiclient.RegisterRequest
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, req apiclient.RegisterRequest) error {
			got = req
			return nil
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Register(w, postForm("/register", url.Values{
		"username": {"mlopez"},
		"name":     {" María López "},
		"email":    {"mlopez@example.com"},
		"password": {"secret"},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Name != "María López" {
		t.Errorf("Name = %q, want %q", got.Name, "María López")
	}
	if !strings.Contains(w.Body.String(), "登録が完了しました。") {
		t.Error("body should confirm the registration")
	}
}

func TestAuthHandler_Register_Rejected_Returns400(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, req apiclient.RegisterRequest) error {
			return model.NewRequestRejectedError("El usuario ya existe")
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.Register(w, postForm("/register", url.Values{
		"username": {"mlopez"},
		"email":    {"mlopez@example.com"},
		"password": {"secret"},
	}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := w.Body.String()
	if !strings.Contains(body, "El usuario ya existe") {
		t.Errorf("body should contain the backend message, got: %s", body)
	}
	if !strings.Contains(body, `value="mlopez@example.com"`) {
		t.Error("email should be kept in the form")
	}
}

func TestAuthHandler_ForgotPassword_Success_ShowsSentMessage(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAuthService{}, &mockSession{})

	w := httptest.NewRecorder()
	h.ForgotPassword(w, postForm("/forgot-password", url.Values{"email": {"a@example.com"}}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "案内を送信しました") {
		t.Error("body should confirm that the mail was sent")
	}
}

func TestAuthHandler_ForgotPassword_MissingEmail_Returns400(t *testing.T) {
	svc := &mockAuthService{
		forgotPasswordFn: func(ctx context.Context, email string) error {
			return model.NewMissingFieldsError("email")
		},
	}
	h, _ := newTestAuthHandler(svc, &mockSession{})

	w := httptest.NewRecorder()
	h.ForgotPassword(w, postForm("/forgot-password", url.Values{}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- Unauthorized / Me ---

func TestAuthHandler_Unauthorized_Returns403(t *testing.T) {
	session := &mockSession{user: &model.User{ID: "u1", Name: "Juan", Role: model.RoleOperator}, hydrated: true}
	h, _ := newTestAuthHandler(&mockAuthService{}, session)

	w := httptest.NewRecorder()
	h.Unauthorized(w, httptest.NewRequest(http.MethodGet, "/unauthorized", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAuthHandler_Me_Unauthenticated_Returns401(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAuthService{}, &mockSession{hydrated: true})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUnauthorized)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsProfile(t *testing.T) {
	fid := "f-42"
	session := &mockSession{
		user:     &model.User{ID: "u1", Username: "jperez", Role: model.RoleAdmin, FuncionarioID: &fid},
		hydrated: true,
	}
	h, _ := newTestAuthHandler(&mockAuthService{}, session)

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got model.User
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Username != "jperez" || got.FuncionarioID == nil || *got.FuncionarioID != fid {
		t.Errorf("profile = %+v, want username jperez with funcionario %s", got, fid)
	}
}

// --- ヘルパー ---

func TestSafeRedirect_RejectsUnsafeTargets(t *testing.T) {
	for _, target := range []string{"", "https://evil.example.com", "//evil.example.com", "/login", "/register?x=1", "dashboard"} {
		if got := safeRedirect(target); got != "/dashboard" {
			t.Errorf("safeRedirect(%q) = %q, want %q", target, got, "/dashboard")
		}
	}
}

func TestSafeRedirect_KeepsLocalProtectedPath(t *testing.T) {
	if got := safeRedirect("/usuarios/7?tab=roles"); got != "/usuarios/7?tab=roles" {
		t.Errorf("safeRedirect = %q, want %q", got, "/usuarios/7?tab=roles")
	}
}
