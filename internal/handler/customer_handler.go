package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
)

// CustomerService は顧客ハンドラーが依存するサービスのインターフェース。
type CustomerService interface {
	List(ctx context.Context, page, limit int) (*model.CustomerPage, error)
	Get(ctx context.Context, id int64) (*model.Customer, error)
	Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error)
	Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error)
	Delete(ctx context.Context, id int64) (*model.Customer, error)
	Stats(ctx context.Context) (model.CustomerStats, error)
	Seed(ctx context.Context) error
}

// customerResponse は顧客1件のJSONレスポンス。
type customerResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newCustomerResponse はmodel.CustomerからcustomerResponseを生成する。
func newCustomerResponse(c *model.Customer) *customerResponse {
	return &customerResponse{
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

// customerPageResponse は顧客一覧のJSONレスポンス。
type customerPageResponse struct {
	Customers  []*customerResponse `json:"customers"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalPages int                 `json:"total_pages"`
}

// createCustomerRequest は顧客作成リクエストのボディ。
type createCustomerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	Notes   string `json:"notes"`
}

// updateCustomerRequest は顧客更新リクエストのボディ。
// 省略されたフィールドは更新対象外となる（coalesce更新）。
type updateCustomerRequest struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Company *string `json:"company"`
	Notes   *string `json:"notes"`
}

// CustomerHandler は顧客管理のHTTPハンドラー。
type CustomerHandler struct {
	service CustomerService
}

// NewCustomerHandler はCustomerHandlerを生成する。
func NewCustomerHandler(service CustomerService) *CustomerHandler {
	return &CustomerHandler{service: service}
}

// List は顧客一覧をページネーション付きで返す。
// GET /api/customers?page=N&limit=M
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 0)
	limit := parseIntQuery(r, "limit", 0)

	result, err := h.service.List(r.Context(), page, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	customers := make([]*customerResponse, 0, len(result.Customers))
	for _, c := range result.Customers {
		customers = append(customers, newCustomerResponse(c))
	}

	writeJSON(w, http.StatusOK, customerPageResponse{
		Customers:  customers,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	})
}

// Get は指定IDの顧客を返す。
// GET /api/customers/{id}
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCustomerID(w, r)
	if !ok {
		return
	}

	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newCustomerResponse(c))
}

// Create は顧客を作成する。
// POST /api/customers
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	c, err := h.service.Create(r.Context(), model.CustomerDraft{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Notes:   req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newCustomerResponse(c))
}

// Update は顧客を部分更新する。
// PUT /api/customers/{id}
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCustomerID(w, r)
	if !ok {
		return
	}

	var req updateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	c, err := h.service.Update(r.Context(), id, model.CustomerPatch{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Notes:   req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newCustomerResponse(c))
}

// Delete は顧客を削除し、削除したレコードを返す。
// DELETE /api/customers/{id}
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCustomerID(w, r)
	if !ok {
		return
	}

	c, err := h.service.Delete(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newCustomerResponse(c))
}

// Seed はデモ用の初期顧客データを投入する。
// POST /api/customers/seed
func (h *CustomerHandler) Seed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Seed(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseCustomerID はパスパラメータから顧客IDを取得する。
// 不正な値の場合は400を書き込み、falseを返す。
func parseCustomerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("顧客IDは正の整数で指定してください"))
		return 0, false
	}
	return id, true
}

// parseIntQuery はクエリパラメータを整数として取得する。未指定・不正時はフォールバック値を返す。
func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーをHTTPステータスに変換して書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected service error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteErrorResponse(w, statusForAPIError(apiErr), apiErr)
}

// statusForAPIError はAPIErrorのコードをHTTPステータスにマッピングする。
func statusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidRequest, model.ErrCodeInvalidState:
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
