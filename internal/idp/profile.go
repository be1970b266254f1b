package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/authbridge/internal/model"
)

// DefaultBaseURL はIdP REST APIのデフォルトベースURL。
const DefaultBaseURL = "https://api.clerk.com/v1"

// ProfileClient はIdP APIからユーザープロフィールを取得する。
// 全リクエストはアウトバウンドのレートリミッタを通過する。
type ProfileClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
	limiter   *rate.Limiter
	metrics   EgressRecorder
}

// NewProfileClient はProfileClientを生成する。
func NewProfileClient(config Config) *ProfileClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := config.HTTPClient
	if client == nil {
		client = NewOutboundClient(config.Timeout)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = nopEgressRecorder{}
	}

	return &ProfileClient{
		baseURL:   baseURL,
		secretKey: config.SecretKey,
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   metrics,
	}
}

// clerkEmailAddress はIdPユーザーのメールアドレスエントリ。
type clerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// clerkUser はIdPのユーザーAPIレスポンス。
type clerkUser struct {
	ID                    string              `json:"id"`
	FirstName             *string             `json:"first_name"`
	LastName              *string             `json:"last_name"`
	ImageURL              *string             `json:"image_url"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmailAddress `json:"email_addresses"`
	LastSignInAt          *int64              `json:"last_sign_in_at"` // ミリ秒エポック
}

// primaryEmail はprimary_email_address_idに一致するメールアドレスを返す。
// 一致するものがない場合は先頭のアドレスにフォールバックする。
func (u *clerkUser) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// FetchProfile はIdP APIからユーザープロフィールを取得する。
// ユーザーが存在しない場合はnilを返す。ネットワーク障害はエラーを返す。
func (c *ProfileClient) FetchProfile(ctx context.Context, externalID string) (*Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	endpoint := c.baseURL + "/users/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	c.metrics.RecordIdPLatency(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: profile request failed", model.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	c.metrics.RecordIdPStatus(resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read profile response", model.ErrUpstreamUnavailable)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: profile fetch returned status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var user clerkUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("%w: failed to parse profile response", model.ErrUpstreamUnavailable)
	}

	if user.ID == "" {
		return nil, fmt.Errorf("%w: empty user ID in profile response", model.ErrUpstreamUnavailable)
	}

	profile := &Profile{
		ExternalID: user.ID,
		Email:      user.primaryEmail(),
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		ImageURL:   user.ImageURL,
	}
	if user.LastSignInAt != nil {
		t := time.UnixMilli(*user.LastSignInAt).UTC()
		profile.LastSignInAt = &t
	}

	return profile, nil
}
