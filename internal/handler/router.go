package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authbridge/internal/middleware"
)

// HealthChecker はヘルスチェックでのDB死活確認インターフェース。
// *sql.DB がそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ヘルスチェック用のDB接続（nil可）
	HealthChecker HealthChecker

	// 認証サービス
	AuthService AuthServiceInterface

	// ベアラー資格情報の解決
	Resolver middleware.UserResolver

	// リクエストログ出力用ロガー
	Logger *slog.Logger

	// HTTPステータスのメトリクス記録（nil可）
	Metrics middleware.StatusRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
//
// /auth/token と /auth/me のみベアラー認証を必須とする。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService)

	// ヘルスチェック（認証不要）
	r.Get("/health", newHealthCheck(deps.HealthChecker))

	r.Route("/auth", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Post("/sync-user", authHandler.SyncUser)
		r.Post("/generate-token", authHandler.GenerateToken)
		r.Post("/verify-token", authHandler.VerifyToken)

		// --- ベアラー認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Resolver))

			r.Get("/token", authHandler.GetToken)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}

// newHealthCheck は死活監視用のハンドラーを返す。
// checkerが指定されている場合はDBへのPingも確認する。
// GET /health
func newHealthCheck(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check db ping failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
