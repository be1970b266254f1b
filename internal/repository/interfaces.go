// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID はIdP発行のexternal_idでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Upsert はexternal_idをキーにユーザーを冪等に作成・部分更新する。
	// パッチのnilフィールドは既存値を維持する。
	// 同一external_idへの並行Upsertは単一文のON CONFLICTで直列化され、
	// 重複ユーザーを生成しない。更新後のユーザーを返す。
	Upsert(ctx context.Context, patch *model.UserUpsert) (*model.User, error)

	// TouchLastSignIn は認証成功時にlast_sign_in_atを前進させる。
	TouchLastSignIn(ctx context.Context, id string, at time.Time) error
}

// TokenRepository はセッショントークンの永続化インターフェース。
type TokenRepository interface {
	// Create は指定ユーザーのトークンを新規発行する。
	// TTLは[1, 最大TTL]分にクランプしてから使用する。
	Create(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error)

	// GetValid は指定external_idの有効なトークンのうち最新のものを返す。
	// 複数の有効トークンが併存する場合はcreated_at降順で新しい方を採用する。
	// 見つからない場合はnilを返す。
	GetValid(ctx context.Context, externalID string) (*model.SessionToken, error)

	// VerifyAndResolve はシークレットから所有ユーザーを解決する。
	// 期限切れ・未知のシークレットの場合はnilを返す。
	VerifyAndResolve(ctx context.Context, secret string) (*model.User, error)

	// DeleteExpiredByUserID は指定ユーザーの期限切れトークンを削除し、削除件数を返す。
	// トークン発行前の日和見クリーンアップに使う。
	DeleteExpiredByUserID(ctx context.Context, userID string) (int64, error)

	// PurgeExpired は全ユーザーの期限切れトークンを削除し、削除件数を返す。
	// 判定時刻は呼び出し時点のスナップショットで固定する。
	PurgeExpired(ctx context.Context) (int64, error)
}
