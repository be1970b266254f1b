package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

func TestService_SyncUser(t *testing.T) {
	t.Run("必須フィールド欠落はエラー", func(t *testing.T) {
		svc := NewService(&mockUserRepo{}, &mockTokenRepo{}, ServiceConfig{}, nil)

		if _, err := svc.SyncUser(context.Background(), &model.UserUpsert{Email: "no-ext@example.com"}); err == nil {
			t.Error("externalID欠落がエラーにならなかった")
		}
		if _, err := svc.SyncUser(context.Background(), &model.UserUpsert{ExternalID: "ext_1"}); err == nil {
			t.Error("email欠落がエラーにならなかった")
		}
	})

	t.Run("Upsertに委譲する", func(t *testing.T) {
		var gotPatch *model.UserUpsert
		svc := NewService(
			&mockUserRepo{
				upsertFn: func(ctx context.Context, patch *model.UserUpsert) (*model.User, error) {
					gotPatch = patch
					return testUser(), nil
				},
			},
			&mockTokenRepo{}, ServiceConfig{}, nil,
		)

		user, err := svc.SyncUser(context.Background(), &model.UserUpsert{
			ExternalID: "ext_abc",
			Email:      "abc@example.com",
		})
		if err != nil {
			t.Fatalf("SyncUserに失敗: %v", err)
		}
		if user.ID != "user_abc" {
			t.Errorf("user.ID = %q, want %q", user.ID, "user_abc")
		}
		if gotPatch == nil || gotPatch.ExternalID != "ext_abc" {
			t.Errorf("patch = %+v, want ExternalID ext_abc", gotPatch)
		}
	})

	t.Run("ストレージ障害はErrStoreFailure", func(t *testing.T) {
		svc := NewService(
			&mockUserRepo{
				upsertFn: func(ctx context.Context, patch *model.UserUpsert) (*model.User, error) {
					return nil, fmt.Errorf("deadlock detected")
				},
			},
			&mockTokenRepo{}, ServiceConfig{}, nil,
		)

		_, err := svc.SyncUser(context.Background(), &model.UserUpsert{ExternalID: "ext_1", Email: "e@example.com"})
		if !errors.Is(err, model.ErrStoreFailure) {
			t.Errorf("error = %v, want ErrStoreFailure", err)
		}
	})
}

func TestService_GenerateToken(t *testing.T) {
	t.Run("未同期ユーザーはErrNotFound", func(t *testing.T) {
		svc := NewService(&mockUserRepo{}, &mockTokenRepo{}, ServiceConfig{DefaultTTLMinutes: 1440}, nil)

		_, _, err := svc.GenerateToken(context.Background(), "ext_unknown", 60)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("発行前に期限切れトークンを回収する", func(t *testing.T) {
		cleanupCalled := false
		var cleanupOrder, createOrder int
		order := 0
		recorder := &mockRecorder{}

		svc := NewService(
			&mockUserRepo{
				findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
					return testUser(), nil
				},
			},
			&mockTokenRepo{
				deleteExpiredFn: func(ctx context.Context, userID string) (int64, error) {
					cleanupCalled = true
					order++
					cleanupOrder = order
					if userID != "user_abc" {
						t.Errorf("cleanup userID = %q, want %q", userID, "user_abc")
					}
					return 2, nil
				},
				createFn: func(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error) {
					order++
					createOrder = order
					return &model.SessionToken{ID: "token_1", UserID: userID, ExternalID: externalID}, nil
				},
			},
			ServiceConfig{DefaultTTLMinutes: 1440},
			recorder,
		)

		user, issued, err := svc.GenerateToken(context.Background(), "ext_abc", 60)
		if err != nil {
			t.Fatalf("GenerateTokenに失敗: %v", err)
		}
		if user == nil || issued == nil {
			t.Fatal("expected user and token")
		}
		if !cleanupCalled {
			t.Error("期限切れトークンの回収が呼ばれていない")
		}
		if cleanupOrder >= createOrder {
			t.Error("クリーンアップは発行より前に実行されるべき")
		}
		if recorder.issued != 1 {
			t.Errorf("issued = %d, want 1", recorder.issued)
		}
	})

	t.Run("TTL未指定はデフォルトTTL", func(t *testing.T) {
		var gotTTL int
		svc := NewService(
			&mockUserRepo{
				findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
					return testUser(), nil
				},
			},
			&mockTokenRepo{
				createFn: func(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error) {
					gotTTL = ttlMinutes
					return &model.SessionToken{ID: "token_1"}, nil
				},
			},
			ServiceConfig{DefaultTTLMinutes: 1440},
			nil,
		)

		if _, _, err := svc.GenerateToken(context.Background(), "ext_abc", 0); err != nil {
			t.Fatalf("GenerateTokenに失敗: %v", err)
		}
		if gotTTL != 1440 {
			t.Errorf("ttl = %d, want 1440", gotTTL)
		}
	})

	t.Run("クリーンアップ失敗でも発行は続行する", func(t *testing.T) {
		svc := NewService(
			&mockUserRepo{
				findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
					return testUser(), nil
				},
			},
			&mockTokenRepo{
				deleteExpiredFn: func(ctx context.Context, userID string) (int64, error) {
					return 0, fmt.Errorf("lock timeout")
				},
				createFn: func(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error) {
					return &model.SessionToken{ID: "token_1"}, nil
				},
			},
			ServiceConfig{DefaultTTLMinutes: 1440},
			nil,
		)

		_, issued, err := svc.GenerateToken(context.Background(), "ext_abc", 60)
		if err != nil {
			t.Fatalf("クリーンアップ失敗で発行が失敗した: %v", err)
		}
		if issued == nil {
			t.Fatal("expected token")
		}
	})

	t.Run("発行失敗はErrStoreFailure", func(t *testing.T) {
		svc := NewService(
			&mockUserRepo{
				findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
					return testUser(), nil
				},
			},
			&mockTokenRepo{
				createFn: func(ctx context.Context, userID, externalID string, ttlMinutes int) (*model.SessionToken, error) {
					return nil, fmt.Errorf("unique violation")
				},
			},
			ServiceConfig{DefaultTTLMinutes: 1440},
			nil,
		)

		_, _, err := svc.GenerateToken(context.Background(), "ext_abc", 60)
		if !errors.Is(err, model.ErrStoreFailure) {
			t.Errorf("error = %v, want ErrStoreFailure", err)
		}
	})
}

func TestService_GetValidToken(t *testing.T) {
	t.Run("有効トークンなしはErrNotFound", func(t *testing.T) {
		svc := NewService(&mockUserRepo{}, &mockTokenRepo{}, ServiceConfig{}, nil)

		_, err := svc.GetValidToken(context.Background(), "ext_abc")
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("最新の有効トークンを返す", func(t *testing.T) {
		want := &model.SessionToken{
			ID:        "token_1",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		svc := NewService(
			&mockUserRepo{},
			&mockTokenRepo{
				getValidFn: func(ctx context.Context, externalID string) (*model.SessionToken, error) {
					return want, nil
				},
			},
			ServiceConfig{}, nil,
		)

		got, err := svc.GetValidToken(context.Background(), "ext_abc")
		if err != nil {
			t.Fatalf("GetValidTokenに失敗: %v", err)
		}
		if got.ID != want.ID {
			t.Errorf("token.ID = %q, want %q", got.ID, want.ID)
		}
	})
}

func TestService_VerifyToken(t *testing.T) {
	t.Run("空のシークレットは不在", func(t *testing.T) {
		svc := NewService(&mockUserRepo{}, &mockTokenRepo{}, ServiceConfig{}, nil)

		user, err := svc.VerifyToken(context.Background(), "")
		if err != nil {
			t.Fatalf("空のシークレットでエラーが返った: %v", err)
		}
		if user != nil {
			t.Errorf("空のシークレットでユーザーが返った: %+v", user)
		}
	})

	t.Run("有効なシークレットは所有ユーザーを返す", func(t *testing.T) {
		svc := NewService(
			&mockUserRepo{},
			&mockTokenRepo{
				verifyAndResolveFn: func(ctx context.Context, secret string) (*model.User, error) {
					return testUser(), nil
				},
			},
			ServiceConfig{}, nil,
		)

		user, err := svc.VerifyToken(context.Background(), "valid-secret")
		if err != nil {
			t.Fatalf("VerifyTokenに失敗: %v", err)
		}
		if user == nil || user.ID != "user_abc" {
			t.Errorf("user = %+v, want user_abc", user)
		}
	})

	t.Run("ストレージ障害はErrStoreFailure", func(t *testing.T) {
		svc := NewService(
			&mockUserRepo{},
			&mockTokenRepo{
				verifyAndResolveFn: func(ctx context.Context, secret string) (*model.User, error) {
					return nil, fmt.Errorf("connection reset")
				},
			},
			ServiceConfig{}, nil,
		)

		_, err := svc.VerifyToken(context.Background(), "secret")
		if !errors.Is(err, model.ErrStoreFailure) {
			t.Errorf("error = %v, want ErrStoreFailure", err)
		}
	})
}
