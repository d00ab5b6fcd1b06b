// Package rpc は型付きRPCバインディング（POST /rpc/{procedure}）を提供する。
// REST APIと同じサービス層を、プロシージャ名によるディスパッチで公開する。
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
)

// AuthService はRPCバインディングが依存する認証サービスのインターフェース。
type AuthService interface {
	Logout(token string)
}

// CustomerService はRPCバインディングが依存する顧客サービスのインターフェース。
type CustomerService interface {
	List(ctx context.Context, page, limit int) (*model.CustomerPage, error)
	Get(ctx context.Context, id int64) (*model.Customer, error)
	Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error)
	Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error)
	Delete(ctx context.Context, id int64) (*model.Customer, error)
	Seed(ctx context.Context) error
}

// procedureFunc は1つのRPCプロシージャの実装。
type procedureFunc func(h *Handler, w http.ResponseWriter, r *http.Request)

// procedure はプロシージャの定義。変更系は認証必須となる。
type procedure struct {
	fn       procedureFunc
	mutation bool
}

// Handler はPOST /rpc/{procedure}をディスパッチするHTTPハンドラー。
type Handler struct {
	auth       AuthService
	customers  CustomerService
	procedures map[string]procedure
}

// NewHandler はHandlerを生成する。
func NewHandler(auth AuthService, customers CustomerService) *Handler {
	h := &Handler{
		auth:      auth,
		customers: customers,
	}

	h.procedures = map[string]procedure{
		"auth.me":          {fn: (*Handler).authMe},
		"auth.logout":      {fn: (*Handler).authLogout},
		"customers.list":   {fn: (*Handler).customersList},
		"customers.get":    {fn: (*Handler).customersGet},
		"customers.create": {fn: (*Handler).customersCreate, mutation: true},
		"customers.update": {fn: (*Handler).customersUpdate, mutation: true},
		"customers.delete": {fn: (*Handler).customersDelete, mutation: true},
		"customers.seed":   {fn: (*Handler).customersSeed, mutation: true},
	}

	return h
}

// ServeHTTP はプロシージャ名でディスパッチする。
// 未定義のプロシージャは404、認証が必要な変更系は未認証時に401を返す。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")

	proc, ok := h.procedures[name]
	if !ok {
		writeError(w, model.NewUnknownProcedureError(name))
		return
	}

	if proc.mutation {
		if _, ok := middleware.UserFromContext(r.Context()); !ok {
			writeError(w, model.NewUnauthorizedError())
			return
		}
	}

	proc.fn(h, w, r)
}

// decodeInput はリクエストボディを入力スキーマにデコードする。
// ボディが空の場合はゼロ値のまま成功とする（入力省略可のプロシージャ向け）。
func decodeInput(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return model.NewInvalidRequestError()
}

// --- auth.* ---

// userPayload はユーザー情報のRPCレスポンス。
type userPayload struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Picture      string    `json:"picture"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignedIn time.Time `json:"last_signed_in"`
}

func newUserPayload(u *model.User) *userPayload {
	return &userPayload{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Picture:      u.Picture,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		LastSignedIn: u.LastSignedIn,
	}
}

// authMe は現在のログインユーザーを返す。未ログインでもエラーにはならない。
func (h *Handler) authMe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		User *userPayload `json:"user"`
	}

	if user, ok := middleware.UserFromContext(r.Context()); ok {
		payload.User = newUserPayload(user)
	}

	writeResult(w, payload)
}

// authLogout はセッションを破棄し、Cookieを削除する。
func (h *Handler) authLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		h.auth.Logout(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeResult(w, map[string]bool{"success": true})
}

// --- customers.* ---

// customerPayload は顧客1件のRPCレスポンス。
type customerPayload struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newCustomerPayload(c *model.Customer) *customerPayload {
	return &customerPayload{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Company:   c.Company,
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// listInput はcustomers.listの入力スキーマ。省略時は既定値が適用される。
type listInput struct {
	Page  *int `json:"page"`
	Limit *int `json:"limit"`
}

func (in *listInput) validate() error {
	if in.Page != nil && *in.Page < 1 {
		return model.NewValidationError("pageは正の整数で指定してください")
	}
	if in.Limit != nil && *in.Limit < 1 {
		return model.NewValidationError("limitは正の整数で指定してください")
	}
	return nil
}

func (h *Handler) customersList(w http.ResponseWriter, r *http.Request) {
	var in listInput
	if err := decodeInput(r, &in); err != nil {
		writeRPCError(w, err)
		return
	}
	if err := in.validate(); err != nil {
		writeRPCError(w, err)
		return
	}

	page, limit := 0, 0
	if in.Page != nil {
		page = *in.Page
	}
	if in.Limit != nil {
		limit = *in.Limit
	}

	result, err := h.customers.List(r.Context(), page, limit)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	customers := make([]*customerPayload, 0, len(result.Customers))
	for _, c := range result.Customers {
		customers = append(customers, newCustomerPayload(c))
	}

	writeResult(w, struct {
		Customers  []*customerPayload `json:"customers"`
		Total      int                `json:"total"`
		Page       int                `json:"page"`
		Limit      int                `json:"limit"`
		TotalPages int                `json:"total_pages"`
	}{
		Customers:  customers,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	})
}

// idInput はcustomers.get / customers.deleteの入力スキーマ。
type idInput struct {
	ID int64 `json:"id"`
}

func (in *idInput) validate() error {
	if in.ID < 1 {
		return model.NewValidationError("idは正の整数で指定してください")
	}
	return nil
}

func (h *Handler) customersGet(w http.ResponseWriter, r *http.Request) {
	var in idInput
	if err := decodeInput(r, &in); err != nil {
		writeRPCError(w, err)
		return
	}
	if err := in.validate(); err != nil {
		writeRPCError(w, err)
		return
	}

	c, err := h.customers.Get(r.Context(), in.ID)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	writeResult(w, newCustomerPayload(c))
}

// createInput はcustomers.createの入力スキーマ。
type createInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	Notes   string `json:"notes"`
}

func (h *Handler) customersCreate(w http.ResponseWriter, r *http.Request) {
	var in createInput
	if err := decodeInput(r, &in); err != nil {
		writeRPCError(w, err)
		return
	}

	c, err := h.customers.Create(r.Context(), model.CustomerDraft{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Company: in.Company,
		Notes:   in.Notes,
	})
	if err != nil {
		writeRPCError(w, err)
		return
	}

	writeResult(w, newCustomerPayload(c))
}

// updateInput はcustomers.updateの入力スキーマ。
// 省略されたフィールドは更新対象外となる。
type updateInput struct {
	ID      int64   `json:"id"`
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Company *string `json:"company"`
	Notes   *string `json:"notes"`
}

func (in *updateInput) validate() error {
	if in.ID < 1 {
		return model.NewValidationError("idは正の整数で指定してください")
	}
	return nil
}

func (h *Handler) customersUpdate(w http.ResponseWriter, r *http.Request) {
	var in updateInput
	if err := decodeInput(r, &in); err != nil {
		writeRPCError(w, err)
		return
	}
	if err := in.validate(); err != nil {
		writeRPCError(w, err)
		return
	}

	c, err := h.customers.Update(r.Context(), in.ID, model.CustomerPatch{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Company: in.Company,
		Notes:   in.Notes,
	})
	if err != nil {
		writeRPCError(w, err)
		return
	}

	writeResult(w, newCustomerPayload(c))
}

func (h *Handler) customersDelete(w http.ResponseWriter, r *http.Request) {
	var in idInput
	if err := decodeInput(r, &in); err != nil {
		writeRPCError(w, err)
		return
	}
	if err := in.validate(); err != nil {
		writeRPCError(w, err)
		return
	}

	c, err := h.customers.Delete(r.Context(), in.ID)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	writeResult(w, newCustomerPayload(c))
}

func (h *Handler) customersSeed(w http.ResponseWriter, r *http.Request) {
	if err := h.customers.Seed(r.Context()); err != nil {
		writeRPCError(w, err)
		return
	}

	writeResult(w, map[string]bool{"success": true})
}

// --- レスポンスヘルパー ---

// writeResult は成功レスポンスを {"result": ...} の封筒形式で書き込む。
func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"result": result}); err != nil {
		slog.Error("failed to encode rpc result", slog.String("error", err.Error()))
	}
}

// writeRPCError はサービス層のエラーを統一フォーマットで書き込む。
func writeRPCError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected rpc error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeError(w, apiErr)
}

// writeError はAPIErrorをHTTPステータスにマッピングして書き込む。
func writeError(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusForError(apiErr), apiErr)
}

// statusForError はAPIErrorのコードをHTTPステータスにマッピングする。
func statusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeCustomerNotFound, model.ErrCodeUnknownProcedure:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
