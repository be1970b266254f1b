// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authbridge/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserResolver はベアラー資格情報の解決に必要なインターフェース。
// auth.Resolverの部分集合として定義する。
type UserResolver interface {
	Resolve(ctx context.Context, credential string) (*model.User, error)
	ResolveOptional(ctx context.Context, credential string) (*model.User, error)
}

// extractBearer はAuthorizationヘッダからベアラー資格情報を取り出す。
// ヘッダが無い、または形式が不正な場合は空文字列を返す。
func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// NewAuthMiddleware はAuthorizationヘッダのベアラー資格情報を解決し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 認証失敗は401、IdP障害は502、ストレージ障害は500を返す。
// 資格情報そのものはログに出力しない。
func NewAuthMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.Context(), extractBearer(r))
			if err != nil {
				writeResolutionError(w, r, err)
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware は資格情報があれば解決するが、
// 認証失敗でもリクエストを通すミドルウェアを返す。
// インフラ障害のみエラーレスポンスを返す。
func NewOptionalAuthMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.ResolveOptional(r.Context(), extractBearer(r))
			if err != nil {
				writeResolutionError(w, r, err)
				return
			}

			ctx := r.Context()
			if user != nil {
				ctx = ContextWithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeResolutionError は解決エラーを分類してエラーレスポンスを書き込む。
func writeResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
	case errors.Is(err, model.ErrUpstreamUnavailable):
		slog.Error("idp unavailable during resolution",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamUnavailableError())
	default:
		slog.Error("credential resolution failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, http.StatusInternalServerError, model.NewStoreFailureError())
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
