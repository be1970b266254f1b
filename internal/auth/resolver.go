// Package auth は資格情報の解決とセッショントークンの発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authbridge/internal/idp"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
)

// 解決戦略のラベル。メトリクスとログで使用する。
const (
	StrategySessionToken = "session_token"
	StrategyIdP          = "idp"
)

// 解決結果のラベル。
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// Recorder は認証・発行イベントの記録インターフェース。
// 本番ではmetrics.Collectorを渡す。
type Recorder interface {
	// RecordAuthResolution は解決試行を戦略・結果別に記録する。
	RecordAuthResolution(strategy, outcome string)
	// RecordTokenIssued はトークン発行を記録する。
	RecordTokenIssued()
}

// nopRecorder は何も記録しないRecorder。
type nopRecorder struct{}

func (nopRecorder) RecordAuthResolution(strategy, outcome string) {}
func (nopRecorder) RecordTokenIssued()                            {}

// ProfileFetcher はIdPからのプロフィール取得のインターフェース。
type ProfileFetcher interface {
	// FetchProfile は指定external_idのプロフィールを取得する。
	// ユーザーが存在しない場合はnilを返す。
	FetchProfile(ctx context.Context, externalID string) (*idp.Profile, error)
}

// CredentialStrategy はベアラー資格情報をユーザーに解決する単一の戦略。
// 解決できない場合は(nil, nil)を返し、次の戦略に委ねる。
// エラーはインフラ障害のみに使う。
type CredentialStrategy interface {
	// Name はメトリクスラベルに使う戦略名を返す。
	Name() string
	Resolve(ctx context.Context, credential string) (*model.User, error)
}

// Resolver はベアラー資格情報を順序付きの戦略リストでローカルユーザーに解決する。
// 戦略は登録順に試行され、最初にヒットしたものが勝つ。
type Resolver struct {
	strategies []CredentialStrategy
	metrics    Recorder
}

// NewResolver はデフォルトの戦略順（セッショントークン照合、IdP資格情報）で
// Resolverを生成する。metricsがnilの場合は記録しない。
func NewResolver(
	tokenRepo repository.TokenRepository,
	userRepo repository.UserRepository,
	claims idp.ClaimsResolver,
	profiles ProfileFetcher,
	metrics Recorder,
) *Resolver {
	return NewResolverWithStrategies(metrics,
		&sessionTokenStrategy{
			tokenRepo: tokenRepo,
			userRepo:  userRepo,
			now:       time.Now,
		},
		&idpStrategy{
			claims:   claims,
			profiles: profiles,
			userRepo: userRepo,
			now:      time.Now,
		},
	)
}

// NewResolverWithStrategies は任意の戦略リストでResolverを生成する。
// 戦略は渡された順に試行される。
func NewResolverWithStrategies(metrics Recorder, strategies ...CredentialStrategy) *Resolver {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Resolver{
		strategies: strategies,
		metrics:    metrics,
	}
}

// Resolve はベアラー資格情報をユーザーに解決する。
// 全戦略が外れた場合はErrUnauthenticatedを返す。
// ストレージ障害・IdP障害はそのまま伝播する。資格情報はログに出力しない。
func (r *Resolver) Resolve(ctx context.Context, credential string) (*model.User, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing bearer credential", model.ErrUnauthenticated)
	}

	for _, strategy := range r.strategies {
		user, err := strategy.Resolve(ctx, credential)
		if err != nil {
			r.metrics.RecordAuthResolution(strategy.Name(), OutcomeError)
			return nil, err
		}
		if user != nil {
			r.metrics.RecordAuthResolution(strategy.Name(), OutcomeHit)
			return user, nil
		}
		r.metrics.RecordAuthResolution(strategy.Name(), OutcomeMiss)
	}

	return nil, fmt.Errorf("%w: no strategy resolved the credential", model.ErrUnauthenticated)
}

// ResolveOptional はResolveと同様だが、認証失敗を不在（nil）として返す。
// インフラ障害のエラーはそのまま伝播する。
func (r *Resolver) ResolveOptional(ctx context.Context, credential string) (*model.User, error) {
	user, err := r.Resolve(ctx, credential)
	if err != nil {
		if isUnauthenticated(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// sessionTokenStrategy は資格情報をファーストパーティのセッショントークンとして照合する。
type sessionTokenStrategy struct {
	tokenRepo repository.TokenRepository
	userRepo  repository.UserRepository
	now       func() time.Time
}

func (s *sessionTokenStrategy) Name() string { return StrategySessionToken }

func (s *sessionTokenStrategy) Resolve(ctx context.Context, credential string) (*model.User, error) {
	user, err := s.tokenRepo.VerifyAndResolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: token lookup failed: %v", model.ErrStoreFailure, err)
	}
	if user == nil {
		return nil, nil
	}
	touchLastSignIn(ctx, s.userRepo, user, s.now())
	return user, nil
}

// idpStrategy は資格情報をIdP発行のものとしてクレーム解決し、
// subjectでローカルユーザーを検索する。不在の場合はIdPのプロフィールで実体化する。
type idpStrategy struct {
	claims   idp.ClaimsResolver
	profiles ProfileFetcher
	userRepo repository.UserRepository
	now      func() time.Time
}

func (s *idpStrategy) Name() string { return StrategyIdP }

func (s *idpStrategy) Resolve(ctx context.Context, credential string) (*model.User, error) {
	claims, err := s.claims.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("claim resolution failed: %w", err)
	}
	if claims == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByExternalID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: user lookup failed: %v", model.ErrStoreFailure, err)
	}

	if user == nil {
		return s.materialize(ctx, claims.Subject)
	}

	touchLastSignIn(ctx, s.userRepo, user, s.now())
	return user, nil
}

// materialize はIdPからプロフィールを取得してローカルユーザーを作成する。
// IdP側にもユーザーが存在しない場合はnilを返す。
func (s *idpStrategy) materialize(ctx context.Context, externalID string) (*model.User, error) {
	profile, err := s.profiles.FetchProfile(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}
	if profile == nil {
		return nil, nil
	}

	now := s.now().UTC()
	lastSignIn := profile.LastSignInAt
	if lastSignIn == nil {
		lastSignIn = &now
	}

	user, err := s.userRepo.Upsert(ctx, &model.UserUpsert{
		ExternalID:   profile.ExternalID,
		Email:        profile.Email,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		ImageURL:     profile.ImageURL,
		LastSignInAt: lastSignIn,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: user upsert failed: %v", model.ErrStoreFailure, err)
	}

	slog.Info("user materialized from idp",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)

	return user, nil
}

// isUnauthenticated は認証失敗エラーかどうかを判定する。
func isUnauthenticated(err error) bool {
	return errors.Is(err, model.ErrUnauthenticated)
}

// touchLastSignIn は認証成功を記録する。失敗しても認証自体は成立させる。
func touchLastSignIn(ctx context.Context, userRepo repository.UserRepository, user *model.User, at time.Time) {
	if err := userRepo.TouchLastSignIn(ctx, user.ID, at.UTC()); err != nil {
		slog.Warn("failed to update last sign in",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface checks
var (
	_ CredentialStrategy = (*sessionTokenStrategy)(nil)
	_ CredentialStrategy = (*idpStrategy)(nil)
)
