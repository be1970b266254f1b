// Package idp は外部IdPへのアダプタを提供する。
// ベアラー資格情報からのクレーム解決と、IdP APIからのプロフィール取得を担う。
package idp

import (
	"context"
	"net/http"
	"time"
)

// Claims は外部資格情報から解決されたアイデンティティクレーム。
type Claims struct {
	// Subject はIdP発行のユーザーID（external_id）。
	Subject string
}

// ClaimsResolver は外部ベアラー資格情報をクレームに解決する。
// 資格情報が無効な場合はnilを返す。エラーはインフラ障害のみに使う。
type ClaimsResolver interface {
	Resolve(ctx context.Context, credential string) (*Claims, error)
}

// Profile はIdPから取得したユーザープロフィール。
// ポインタ型のフィールドはIdP側で未設定の場合にnilになる。
type Profile struct {
	ExternalID   string
	Email        string
	FirstName    *string
	LastName     *string
	ImageURL     *string
	LastSignInAt *time.Time
}

// EgressRecorder はIdPへのアウトバウンドリクエストの記録インターフェース。
type EgressRecorder interface {
	// RecordIdPStatus はIdPのHTTPステータスコードを記録する。
	RecordIdPStatus(statusCode int)
	// RecordIdPLatency はIdPリクエストのレイテンシを記録する。
	RecordIdPLatency(duration time.Duration)
}

// nopEgressRecorder は何も記録しないEgressRecorder。
type nopEgressRecorder struct{}

func (nopEgressRecorder) RecordIdPStatus(statusCode int)          {}
func (nopEgressRecorder) RecordIdPLatency(duration time.Duration) {}

// Config はIdPアダプタの設定。
type Config struct {
	// BaseURL はIdPのREST APIベースURL。
	BaseURL string
	// SecretKey はIdP APIのサービスシークレット。ログには決して出力しない。
	SecretKey string
	// VerifyURL が設定されている場合、クレーム解決をリモート検証エンドポイントに委譲する。
	VerifyURL string
	// Timeout はIdPへのHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// RateLimit はIdPへの秒あたりリクエスト数の上限。0以下で無制限。
	RateLimit float64

	// Metrics はアウトバウンドリクエストの記録先。nilの場合は記録しない。
	Metrics EgressRecorder

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}
