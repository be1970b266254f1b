// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 障害分類用のセンチネルエラー。
// リポジトリやアダプタはラップして返し、呼び出し側はerrors.Isで分類する。
var (
	// ErrUnauthenticated は有効な資格情報が見つからなかったことを示す（401相当）。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound はエンティティの不在を示す。認証失敗とは区別する。
	ErrNotFound = errors.New("not found")
	// ErrStoreFailure はストレージI/Oの失敗を示す（リトライ可能、5xx相当）。
	ErrStoreFailure = errors.New("store failure")
	// ErrUpstreamUnavailable はIdPへのネットワーク/API障害を示す。
	// ローカル障害（ErrStoreFailure）とは区別して扱う。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system, upstream
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeTokenNotFound       = "TOKEN_NOT_FOUND"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeStoreFailure        = "STORE_FAILURE"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// NewUnauthenticatedError は認証失敗エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "有効な認証資格情報が見つかりません。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。先にユーザー同期を実行してください。",
		Category: "auth",
		Action:   "sync-userを呼び出してから再度お試しください。",
	}
}

// NewTokenNotFoundError は有効なトークンが見つからない場合のエラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "有効なトークンが見つかりません。",
		Category: "auth",
		Action:   "generate-tokenで新しいトークンを発行してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewStoreFailureError はストレージ障害エラーを生成する。
func NewStoreFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamUnavailableError はIdP障害エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "認証プロバイダーに接続できません。",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
