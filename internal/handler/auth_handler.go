// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/security"
)

// AuthServiceInterface は認証ハンドラーが依存する認証サービスのインターフェース。
type AuthServiceInterface interface {
	BeginLogin() (string, error)
	ConsumeState(state string) bool
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	CurrentUser(token string) *model.User
	Logout(token string)
}

// LoginRecorder はログイン成功のメトリクス記録インターフェース。
type LoginRecorder interface {
	RecordLogin()
}

// avatarFetchTimeout はアバター画像取得のタイムアウト。
const avatarFetchTimeout = 10 * time.Second

// avatarMaxBytes はアバター画像の最大サイズ（5MB）。
const avatarMaxBytes = 5 << 20

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service       AuthServiceInterface
	ssrfGuard     security.SSRFGuardService
	recorder      LoginRecorder
	sessionMaxAge time.Duration
	baseURL       string
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, ssrfGuard security.SSRFGuardService, recorder LoginRecorder, sessionMaxAge time.Duration, baseURL string) *AuthHandler {
	if baseURL == "" {
		baseURL = "/"
	}
	return &AuthHandler{
		service:       service,
		ssrfGuard:     ssrfGuard,
		recorder:      recorder,
		sessionMaxAge: sessionMaxAge,
		baseURL:       baseURL,
	}
}

// Login はOAuthフローを開始し、IdPの認証URLへリダイレクトする。
// GET /api/auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.service.BeginLogin()
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewAuthFailedError())
		return
	}

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はIdPからのコールバックを処理する。
// stateを検証・消費し、認可コードを交換してセッションCookieを発行する。
// GET /api/auth/google/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("codeとstateは必須です"))
		return
	}

	// stateは成否にかかわらずここで消費される（単回使用）
	if !h.service.ConsumeState(state) {
		slog.Warn("oauth state validation failed")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	sess, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewAuthFailedError())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	if h.recorder != nil {
		h.recorder.RecordLogin()
	}

	http.Redirect(w, r, h.baseURL, http.StatusFound)
}

// userResponse はユーザー情報のJSONレスポンス。
type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Picture      string    `json:"picture"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignedIn time.Time `json:"last_signed_in"`
}

// newUserResponse はmodel.UserからuserResponseを生成する。
func newUserResponse(u *model.User) *userResponse {
	return &userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Picture:      u.Picture,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		LastSignedIn: u.LastSignedIn,
	}
}

// Me は現在のログインユーザーを返す。未ログインでも200でuser:nullを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User *userResponse `json:"user"`
	}

	if user, ok := middleware.UserFromContext(r.Context()); ok {
		body.User = newUserResponse(user)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// Logout はセッションを破棄し、Cookieを削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		h.service.Logout(cookie.Value)
	}

	clearSessionCookie(w, isSecureRequest(r))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Avatar はログインユーザーのアバター画像をプロキシ配信する。
// IdP由来のURLをそのままブラウザに渡さず、SSRF防止付きクライアントで取得する。
// GET /api/auth/avatar
func (h *AuthHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if user.Picture == "" {
		http.NotFound(w, r)
		return
	}

	if err := h.ssrfGuard.ValidateURL(user.Picture); err != nil {
		slog.Warn("avatar url rejected",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.NotFound(w, r)
		return
	}

	client := h.ssrfGuard.NewSafeClient(avatarFetchTimeout)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, user.Picture, nil)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("avatar fetch failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.NotFound(w, r)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if _, err := io.Copy(w, io.LimitReader(resp.Body, avatarMaxBytes)); err != nil {
		slog.Warn("avatar copy failed", slog.String("error", err.Error()))
	}
}

// isSecureRequest はリクエストがHTTPS経由かを判定する。
// TLS終端がリバースプロキシで行われる構成のため、X-Forwarded-Protoも参照する。
func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// clearSessionCookie はセッションCookieを失効させる。
func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
