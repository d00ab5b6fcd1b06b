package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmdesk/internal/metrics"
	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService   AuthServiceInterface
	SSRFGuard     security.SSRFGuardService
	SessionMaxAge time.Duration
	BaseURL       string

	// 顧客管理
	CustomerService CustomerService

	// システム
	DB HealthChecker

	// メトリクス
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer

	// RPCバインディング（POST /rpc/{procedure}）
	RPCHandler http.Handler

	// SPAシェル
	AppTitle string
	AppLogo  string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Session → Logging
//
// 照会系（一覧・取得・統計）は公開、変更系はRequireUser + 変更系レート制限を適用する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Collector != nil {
		r.Use(deps.Collector.Middleware())
	}
	r.Use(middleware.NewSessionMiddleware(deps.UserResolver))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	// nilの*metrics.Collectorを非nilインターフェースとして渡さないようにする
	var loginRecorder LoginRecorder
	if deps.Collector != nil {
		loginRecorder = deps.Collector
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SSRFGuard, loginRecorder, deps.SessionMaxAge, deps.BaseURL)
	customerHandler := NewCustomerHandler(deps.CustomerService)
	systemHandler := NewSystemHandler(deps.DB, deps.CustomerService)

	spaHandler, err := NewSPAHandler(deps.AppTitle, deps.AppLogo)
	if err != nil {
		return nil, err
	}

	// Prometheusスクレイプ用エンドポイント（レート制限の対象外）
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// APIルート: API全般のレート制限を適用
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// システム
		r.Get("/api/health", systemHandler.Health)
		r.Get("/api/stats", systemHandler.Stats)

		// 認証
		r.Route("/api/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.RequireUser).Get("/avatar", authHandler.Avatar)
		})

		// 顧客管理: 照会系は公開、変更系は認証必須 + 変更系レート制限
		r.Route("/api/customers", func(r chi.Router) {
			r.Get("/", customerHandler.List)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Use(deps.RateLimiter.MutationMiddleware())

				r.Post("/", customerHandler.Create)
				r.Post("/seed", customerHandler.Seed)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", customerHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireUser)
					r.Use(deps.RateLimiter.MutationMiddleware())

					r.Put("/", customerHandler.Update)
					r.Delete("/", customerHandler.Delete)
				})
			})
		})

		// 型付きRPCバインディング
		if deps.RPCHandler != nil {
			r.Post("/rpc/{procedure}", deps.RPCHandler.ServeHTTP)
		}
	})

	// 上記に一致しないGETリクエストはすべてSPAシェルを返す
	r.NotFound(spaHandler.ServeHTTP)

	return r, nil
}
