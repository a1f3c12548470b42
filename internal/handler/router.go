package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/asobiba/internal/metrics"
	"github.com/hitoshi/asobiba/internal/middleware"
	"github.com/hitoshi/asobiba/internal/notify"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPStats         middleware.HTTPStats
	CORSAllowedOrigin string
	CookieSecure      bool
	RateLimiter       *middleware.RateLimiter

	// サービス
	Registry SessionRegistryInterface
	Roster   RosterServiceInterface
	Game     GameServiceInterface
	Chain    ChainServiceInterface

	// 変更通知
	SessionFinder SessionFinder
	Notifier      notify.Notifier

	// メトリクス公開用。nilの場合は/metricsを公開しない。
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Identity → CSRF → RateLimit(General)
//
// /healthzと/metricsはミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.HTTPStats))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.Registry, deps.Roster)
	gameHandler := NewGameHandler(deps.Game, deps.Chain)
	eventsHandler := NewEventsHandler(deps.SessionFinder, deps.Notifier)

	// --- 運用ルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: Identity → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.CookieSecure))
		r.Use(middleware.NewCSRFMiddleware(deps.CookieSecure))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CookieSecure))

		r.Route("/api/sessions", func(r chi.Router) {
			// POST /api/sessions - セッション作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.SessionCreationMiddleware()).Post("/", sessionHandler.CreateSession)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Post("/participants", sessionHandler.JoinSession)

				// ゲーム進行
				r.Post("/start", gameHandler.Start)
				r.Post("/advance", gameHandler.Advance)
				r.Post("/actions", gameHandler.SubmitAction)
				r.Post("/vote", gameHandler.ResolveVote)
				r.Post("/eliminations", gameHandler.RecordElimination)

				// 変更通知ストリーム
				r.Get("/events", eventsHandler.Stream)
			})
		})
	})

	return r
}
