package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

// RemoteClaimsResolver はクレーム解決をリモートの検証エンドポイントに委譲する。
// 署名検証をIdP側に任せるため、ローカルでの未署名デコードより安全な戦略。
type RemoteClaimsResolver struct {
	verifyURL string
	secretKey string
	client    *http.Client
	metrics   EgressRecorder
}

// NewRemoteClaimsResolver はRemoteClaimsResolverを生成する。
func NewRemoteClaimsResolver(config Config) *RemoteClaimsResolver {
	client := config.HTTPClient
	if client == nil {
		client = NewOutboundClient(config.Timeout)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = nopEgressRecorder{}
	}
	return &RemoteClaimsResolver{
		verifyURL: config.VerifyURL,
		secretKey: config.SecretKey,
		client:    client,
		metrics:   metrics,
	}
}

// verifyRequest は検証エンドポイントへのリクエストボディ。
type verifyRequest struct {
	Token string `json:"token"`
}

// verifyResponse は検証エンドポイントのレスポンスエンベロープ。
type verifyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		User struct {
			ClerkID string `json:"clerkId"`
		} `json:"user"`
	} `json:"data"`
	Error string `json:"error"`
}

// Resolve は資格情報をリモートで検証してクレームを取り出す。
// 検証失敗（success=false）は不在として扱い、ネットワーク障害のみエラーを返す。
// 資格情報そのものはエラーメッセージに含めない。
func (r *RemoteClaimsResolver) Resolve(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, nil
	}

	body, err := json.Marshal(verifyRequest{Token: credential})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.secretKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	r.metrics.RecordIdPLatency(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: verify request failed", model.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	r.metrics.RecordIdPStatus(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read verify response", model.ErrUpstreamUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verify endpoint returned status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var verifyResp verifyResponse
	if err := json.Unmarshal(respBody, &verifyResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse verify response", model.ErrUpstreamUnavailable)
	}

	if !verifyResp.Success || verifyResp.Data.User.ClerkID == "" {
		return nil, nil
	}

	return &Claims{Subject: verifyResp.Data.User.ClerkID}, nil
}

// compile-time interface check
var _ ClaimsResolver = (*RemoteClaimsResolver)(nil)
