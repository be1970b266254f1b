package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/token"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, now: time.Now}
}

const userColumns = `id, external_id, email, first_name, last_name, image_url, created_at, updated_at, last_sign_in_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.ExternalID, &user.Email,
		&user.FirstName, &user.LastName, &user.ImageURL,
		&user.CreatedAt, &user.UpdatedAt, &user.LastSignInAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByExternalID はIdP発行のexternal_idでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// Upsert はexternal_idをキーにユーザーを冪等に作成・部分更新する。
// 新規作成と更新を単一のINSERT ... ON CONFLICT文で行うため、
// 同一external_idへの並行呼び出しでも重複ユーザーは生成されない。
// パッチのnilフィールドはCOALESCEにより既存値（新規時はゼロ値）を維持する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, patch *model.UserUpsert) (*model.User, error) {
	now := r.now().UTC()
	id := token.NewID("user")

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, external_id, email, first_name, last_name, image_url, created_at, updated_at, last_sign_in_at)
		 VALUES ($1, $2, $3, COALESCE($4, ''), COALESCE($5, ''), COALESCE($6, ''), $7, $7, COALESCE($8, $7))
		 ON CONFLICT (external_id) DO UPDATE SET
		     email = EXCLUDED.email,
		     first_name = COALESCE($4, users.first_name),
		     last_name = COALESCE($5, users.last_name),
		     image_url = COALESCE($6, users.image_url),
		     updated_at = EXCLUDED.updated_at,
		     last_sign_in_at = COALESCE($8, users.last_sign_in_at)
		 RETURNING `+userColumns,
		id, patch.ExternalID, patch.Email,
		patch.FirstName, patch.LastName, patch.ImageURL,
		now, patch.LastSignInAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// TouchLastSignIn は認証成功時にlast_sign_in_atを前進させる。
func (r *PostgresUserRepo) TouchLastSignIn(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_sign_in_at = $2, updated_at = $2 WHERE id = $1`,
		id, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to touch last sign in: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
