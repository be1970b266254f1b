package repository

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/token"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = pq.ErrorCode("23505")

// isUniqueViolation は一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresTokenRepo はPostgreSQLを使用したセッショントークンリポジトリ。
type PostgresTokenRepo struct {
	db            *sql.DB
	maxTTLMinutes int
	now           func() time.Time
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
// maxTTLMinutesはCreate時のTTL上限（分）。
func NewPostgresTokenRepo(db *sql.DB, maxTTLMinutes int) *PostgresTokenRepo {
	return &PostgresTokenRepo{
		db:            db,
		maxTTLMinutes: maxTTLMinutes,
		now:           time.Now,
	}
}

// clampTTL はTTLを[1, max]分の範囲に収める。
func clampTTL(ttlMinutes, maxMinutes int) int {
	if ttlMinutes < 1 {
		return 1
	}
	if ttlMinutes > maxMinutes {
		return maxMinutes
	}
	return ttlMinutes
}

// Create は指定ユーザーのトークンを新規発行する。
// TTLは[1, maxTTLMinutes]分にクランプしてから有効期限を計算する。
// シークレットの万一の衝突はsecretカラムの一意制約違反として表面化する。
func (r *PostgresTokenRepo) Create(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error) {
	secret, err := token.NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := r.now().UTC()
	ttl := clampTTL(ttlMinutes, r.maxTTLMinutes)
	t := &model.SessionToken{
		ID:         token.NewID("token"),
		UserID:     userID,
		ExternalID: externalID,
		Secret:     secret,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Duration(ttl) * time.Minute),
		CreatedAt:  now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tokens (id, user_id, external_id, secret, issued_at, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.ExternalID, t.Secret, t.IssuedAt, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("token id or secret conflict: %w", err)
		}
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	return t, nil
}

// GetValid は指定external_idの有効なトークンのうち最新のものを返す。
// 複数の有効トークンが併存する場合はcreated_at降順で新しい方を採用する。
// 見つからない場合はnilを返す。
func (r *PostgresTokenRepo) GetValid(ctx context.Context, externalID string) (*model.SessionToken, error) {
	t := &model.SessionToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, secret, issued_at, expires_at, created_at
		 FROM tokens
		 WHERE external_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		externalID, r.now().UTC(),
	).Scan(&t.ID, &t.UserID, &t.ExternalID, &t.Secret, &t.IssuedAt, &t.ExpiresAt, &t.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get valid token: %w", err)
	}

	return t, nil
}

// VerifyAndResolve はシークレットから所有ユーザーを解決する。
// INNER JOINにより所有ユーザーを失ったトークンは不在として扱う。
// 取得した行のシークレットは定数時間比較で再確認してから採用する。
func (r *PostgresTokenRepo) VerifyAndResolve(ctx context.Context, secret string) (*model.User, error) {
	var storedSecret string
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT t.secret, u.id, u.external_id, u.email, u.first_name, u.last_name, u.image_url, u.created_at, u.updated_at, u.last_sign_in_at
		 FROM tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.secret = $1 AND t.expires_at > $2`,
		secret, r.now().UTC(),
	).Scan(
		&storedSecret,
		&user.ID, &user.ExternalID, &user.Email,
		&user.FirstName, &user.LastName, &user.ImageURL,
		&user.CreatedAt, &user.UpdatedAt, &user.LastSignInAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedSecret), []byte(secret)) != 1 {
		return nil, nil
	}

	return user, nil
}

// DeleteExpiredByUserID は指定ユーザーの期限切れトークンを削除し、削除件数を返す。
func (r *PostgresTokenRepo) DeleteExpiredByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = $1 AND expires_at <= $2`,
		userID, r.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// PurgeExpired は全ユーザーの期限切れトークンを削除し、削除件数を返す。
// 判定時刻は単一のスナップショットで固定するため、削除中に期限を迎えた
// トークンは次回の実行に持ち越される。
func (r *PostgresTokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at <= $1`,
		r.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
