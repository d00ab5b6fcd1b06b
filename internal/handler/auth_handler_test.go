package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/security"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn     func() (string, error)
	consumeStateFn   func(state string) bool
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	currentUserFn    func(token string) *model.User
	logoutFn         func(token string)
}

func (m *mockAuthService) BeginLogin() (string, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn()
	}
	return "https://accounts.google.com/o/oauth2/auth?state=s", nil
}

func (m *mockAuthService) ConsumeState(state string) bool {
	if m.consumeStateFn != nil {
		return m.consumeStateFn(state)
	}
	return true
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return &model.Session{Token: "session-token", User: &model.User{ID: "user-1"}}, nil
}

func (m *mockAuthService) CurrentUser(token string) *model.User {
	if m.currentUserFn != nil {
		return m.currentUserFn(token)
	}
	return nil
}

func (m *mockAuthService) Logout(token string) {
	if m.logoutFn != nil {
		m.logoutFn(token)
	}
}

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, security.NewSSRFGuard(), nil, 7*24*time.Hour, "/")
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsToProvider(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/login", nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "accounts.google.com") {
		t.Errorf("Location = %q, want provider auth URL", loc)
	}
}

func TestAuthHandler_Callback_MissingParams(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	for _, target := range []string{
		"/api/auth/google/callback",
		"/api/auth/google/callback?code=abc",
		"/api/auth/google/callback?state=xyz",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		h.Callback(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Callback(%q) status = %d, want 400", target, w.Code)
		}
	}
}

func TestAuthHandler_Callback_UnknownState_NoCookie(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		consumeStateFn: func(state string) bool { return false },
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			t.Error("callback must not proceed with invalid state")
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state=forged", nil)
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if sessionCookie(resp) != nil {
		t.Error("no session cookie should be issued for invalid state")
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state=xyz", nil)
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want application root", loc)
	}

	cookie := sessionCookie(resp)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != "session-token" {
		t.Errorf("cookie value = %q, want session-token", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.Secure {
		t.Error("cookie should not be Secure over plain HTTP")
	}
	if cookie.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Errorf("MaxAge = %d, want 7 days in seconds", cookie.MaxAge)
	}
}

func TestAuthHandler_Callback_SecureCookieBehindTLSProxy(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=abc&state=xyz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	cookie := sessionCookie(w.Result())
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure when X-Forwarded-Proto is https")
	}
}

func TestAuthHandler_Callback_ExchangeFailure_NoCookie(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("token exchange failed")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=bad&state=xyz", nil)
	w := httptest.NewRecorder()
	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if sessionCookie(resp) != nil {
		t.Error("no session cookie should be issued on callback failure")
	}
}

func TestAuthHandler_Me_Anonymous(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (me never errors)", w.Code)
	}

	var body struct {
		User *userResponse `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.User != nil {
		t.Errorf("user = %+v, want null", body.User)
	}
}

func TestAuthHandler_Me_Authenticated(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{
		ID:    "user-1",
		Email: "a@example.com",
		Role:  model.RoleUser,
	}))
	w := httptest.NewRecorder()
	h.Me(w, req)

	var body struct {
		User *userResponse `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.User == nil || body.User.ID != "user-1" {
		t.Errorf("user = %+v, want user-1", body.User)
	}
}

func TestAuthHandler_Logout_DestroysSessionAndClearsCookie(t *testing.T) {
	var loggedOut string
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(token string) { loggedOut = token },
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-token"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if loggedOut != "session-token" {
		t.Errorf("logged out token = %q, want session-token", loggedOut)
	}

	cookie := sessionCookie(w.Result())
	if cookie == nil {
		t.Fatal("expected expired session cookie")
	}
	if cookie.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1 (cookie cleared)", cookie.MaxAge)
	}
}

func TestAuthHandler_Logout_WithoutCookie(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{
		logoutFn: func(token string) {
			t.Error("logout should not be called without a cookie")
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (logout always succeeds)", w.Code)
	}
}

func TestAuthHandler_Avatar_RequiresUser(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/avatar", nil)
	w := httptest.NewRecorder()
	h.Avatar(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthHandler_Avatar_NoPicture(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/avatar", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{ID: "user-1"}))
	w := httptest.NewRecorder()
	h.Avatar(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for user without picture", w.Code)
	}
}

func TestAuthHandler_Avatar_RejectsUnsafeURL(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/avatar", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{
		ID: "user-1",
		// メタデータIPはSSRF防止でブロックされる
		Picture: "http://169.254.169.254/latest/meta-data/",
	}))
	w := httptest.NewRecorder()
	h.Avatar(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for blocked avatar URL", w.Code)
	}
}
