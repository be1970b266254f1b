package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
)

// ServiceConfig はトークン発行サービスの設定。
type ServiceConfig struct {
	// DefaultTTLMinutes はTTL未指定時のトークン有効期間（分）。
	DefaultTTLMinutes int
}

// Service はユーザー同期とセッショントークンの発行・検証を提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	config    ServiceConfig
	metrics   Recorder
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	config ServiceConfig,
	metrics Recorder,
) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		config:    config,
		metrics:   metrics,
	}
}

// SyncUser はIdP由来のユーザーデータをローカルに同期する。
// external_idをキーとした冪等なUpsertで、既存ユーザーは部分更新される。
func (s *Service) SyncUser(ctx context.Context, patch *model.UserUpsert) (*model.User, error) {
	if patch.ExternalID == "" || patch.Email == "" {
		return nil, fmt.Errorf("external ID and email are required")
	}

	user, err := s.userRepo.Upsert(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: user sync failed: %v", model.ErrStoreFailure, err)
	}

	slog.Info("user synced",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)

	return user, nil
}

// GenerateToken は指定external_idのユーザーに新しいセッショントークンを発行する。
// ユーザーが未同期の場合はErrNotFoundを返す。
// 発行前にそのユーザーの期限切れトークンを日和見的に回収する。
// ttlMinutesが0以下の場合はデフォルトTTLを使用する。
func (s *Service) GenerateToken(ctx context.Context, externalID string, ttlMinutes int) (*model.User, *model.SessionToken, error) {
	user, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: user lookup failed: %v", model.ErrStoreFailure, err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: user %s", model.ErrNotFound, externalID)
	}

	// 期限切れトークンの日和見クリーンアップ。失敗しても発行は続行する。
	if deleted, err := s.tokenRepo.DeleteExpiredByUserID(ctx, user.ID); err != nil {
		slog.Warn("failed to clean up expired tokens",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else if deleted > 0 {
		slog.Info("cleaned up expired tokens",
			slog.String("user_id", user.ID),
			slog.Int64("deleted", deleted),
		)
	}

	if ttlMinutes <= 0 {
		ttlMinutes = s.config.DefaultTTLMinutes
	}

	issued, err := s.tokenRepo.Create(ctx, user.ID, user.ExternalID, ttlMinutes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: token creation failed: %v", model.ErrStoreFailure, err)
	}

	s.metrics.RecordTokenIssued()
	slog.Info("token issued",
		slog.String("user_id", user.ID),
		slog.String("token_id", issued.ID),
		slog.Time("expires_at", issued.ExpiresAt),
	)

	return user, issued, nil
}

// GetValidToken は指定external_idの有効なトークンのうち最新のものを返す。
// 有効なトークンが存在しない場合はErrNotFoundを返す。
func (s *Service) GetValidToken(ctx context.Context, externalID string) (*model.SessionToken, error) {
	issued, err := s.tokenRepo.GetValid(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%w: token lookup failed: %v", model.ErrStoreFailure, err)
	}
	if issued == nil {
		return nil, fmt.Errorf("%w: no valid token", model.ErrNotFound)
	}
	return issued, nil
}

// VerifyToken はセッショントークンのシークレットから所有ユーザーを解決する。
// 無効・期限切れの場合はnilを返す。
func (s *Service) VerifyToken(ctx context.Context, secret string) (*model.User, error) {
	if secret == "" {
		return nil, nil
	}
	user, err := s.tokenRepo.VerifyAndResolve(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: token verification failed: %v", model.ErrStoreFailure, err)
	}
	return user, nil
}
