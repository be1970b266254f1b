// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// SyncUser はIdP由来のユーザーデータをローカルに同期する。
	SyncUser(ctx context.Context, patch *model.UserUpsert) (*model.User, error)
	// GenerateToken は指定external_idのユーザーに新しいトークンを発行する。
	GenerateToken(ctx context.Context, externalID string, ttlMinutes int) (*model.User, *model.SessionToken, error)
	// GetValidToken は有効なトークンのうち最新のものを返す。
	GetValidToken(ctx context.Context, externalID string) (*model.SessionToken, error)
	// VerifyToken はトークンのシークレットから所有ユーザーを解決する。
	VerifyToken(ctx context.Context, secret string) (*model.User, error)
}

// AuthHandler はユーザー同期とトークン管理のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// syncUserRequest はユーザー同期リクエストのボディ。
type syncUserRequest struct {
	ClerkID      string     `json:"clerkId"`
	Email        string     `json:"email"`
	FirstName    *string    `json:"firstName"`
	LastName     *string    `json:"lastName"`
	ImageURL     *string    `json:"imageUrl"`
	LastSignInAt *time.Time `json:"lastSignInAt"`
}

// generateTokenRequest はトークン発行リクエストのボディ。
type generateTokenRequest struct {
	ClerkID          string `json:"clerkId"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

// verifyTokenRequest はトークン検証リクエストのボディ。
type verifyTokenRequest struct {
	Token string `json:"token"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID           string     `json:"id"`
	ClerkID      string     `json:"clerkId"`
	Email        string     `json:"email"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	ImageURL     string     `json:"imageUrl"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastSignInAt *time.Time `json:"lastSignInAt"`
}

// tokenResponse はトークン情報のAPIレスポンス。シークレットを含むため
// レスポンスボディ以外（ログ等）には決して出力しない。
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// envelope は成功レスポンスの統一フォーマット。
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// toUserResponse はドメインモデルをAPIレスポンスに変換する。
func toUserResponse(user *model.User) userResponse {
	resp := userResponse{
		ID:        user.ID,
		ClerkID:   user.ExternalID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		ImageURL:  user.ImageURL,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if !user.LastSignInAt.IsZero() {
		at := user.LastSignInAt
		resp.LastSignInAt = &at
	}
	return resp
}

// writeJSON は成功レスポンスをエンベロープ形式で書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// SyncUser はIdP由来のユーザーデータをローカルストアに同期する。
// external_idをキーとした冪等な操作で、再実行しても安全。
// POST /auth/sync-user
func (h *AuthHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	var req syncUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.ClerkID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("clerkIdが空です"))
		return
	}
	if req.Email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("emailが空です"))
		return
	}

	user, err := h.service.SyncUser(r.Context(), &model.UserUpsert{
		ExternalID:   req.ClerkID,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ImageURL:     req.ImageURL,
		LastSignInAt: req.LastSignInAt,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    map[string]any{"user": toUserResponse(user)},
		Message: "User synced successfully",
	})
}

// GenerateToken は新しいセッショントークンを発行する。
// 対象ユーザーが未同期の場合は404を返す。
// POST /auth/generate-token
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.ClerkID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("clerkIdが空です"))
		return
	}

	user, issued, err := h.service.GenerateToken(r.Context(), req.ClerkID, req.ExpiresInMinutes)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"user":      toUserResponse(user),
			"token":     issued.Secret,
			"expiresAt": issued.ExpiresAt,
		},
		Message: "Token generated successfully",
	})
}

// GetToken は認証済みユーザーの有効なトークンのうち最新のものを返す。
// GET /auth/token
func (h *AuthHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	issued, err := h.service.GetValidToken(r.Context(), user.ExternalID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewTokenNotFoundError())
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: tokenResponse{
			Token:     issued.Secret,
			ExpiresAt: issued.ExpiresAt,
		},
	})
}

// Me は現在の認証済みユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    map[string]any{"user": toUserResponse(user)},
	})
}

// VerifyToken はトークンの有効性を検証し、有効なら所有ユーザーを返す。
// 無効・期限切れでもHTTPステータスは200で、success=falseを返す。
// POST /auth/verify-token
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	user, err := h.service.VerifyToken(r.Context(), req.Token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if user == nil {
		writeJSON(w, http.StatusOK, envelope{
			Success: false,
			Error:   "Invalid or expired token",
		})
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    map[string]any{"user": toUserResponse(user)},
	})
}

// handleServiceError はサービス層のエラーを分類してエラーレスポンスを書き込む。
// エラー詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUpstreamUnavailable):
		slog.Error("idp unavailable", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamUnavailableError())
	case errors.Is(err, model.ErrStoreFailure):
		slog.Error("store failure", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewStoreFailureError())
	default:
		slog.Error("unexpected service error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
