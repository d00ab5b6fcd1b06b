package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker はデータベース疎通確認のインターフェース。
// sql.DBのPingContextの部分集合として定義する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout はヘルスチェックのDB疎通確認タイムアウト。
const healthCheckTimeout = 3 * time.Second

// SystemHandler はヘルスチェックとダッシュボード統計のHTTPハンドラー。
type SystemHandler struct {
	db       HealthChecker
	customer CustomerService
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(db HealthChecker, customer CustomerService) *SystemHandler {
	return &SystemHandler{db: db, customer: customer}
}

// Health はサービスの稼働状態を返す。DB疎通が取れない場合は503を返す。
// GET /api/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	statusCode := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsResponse はダッシュボード統計のJSONレスポンス。
type statsResponse struct {
	Total         int `json:"total"`
	WithEmail     int `json:"with_email"`
	WithPhone     int `json:"with_phone"`
	NewLast30Days int `json:"new_last_30_days"`
}

// Stats はダッシュボード向けの顧客統計を返す。
// GET /api/stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.customer.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		WithEmail:     stats.WithEmail,
		WithPhone:     stats.WithPhone,
		NewLast30Days: stats.NewLast30Days,
	})
}
