package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

// NewPostgresTokenRepoが正しく初期化されることを検証
func TestNewPostgresTokenRepo_Initializes(t *testing.T) {
	repo := NewPostgresTokenRepo(nil, 10080)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
	if repo.maxTTLMinutes != 10080 {
		t.Errorf("maxTTLMinutes = %d, want 10080", repo.maxTTLMinutes)
	}
}

// clampTTLがTTLを[1, max]分の範囲に収めることを検証
func TestClampTTL(t *testing.T) {
	const maxMinutes = 10080 // 7日

	tests := []struct {
		name string
		ttl  int
		want int
	}{
		{"ゼロは最小値1にクランプ", 0, 1},
		{"負値は最小値1にクランプ", -5, 1},
		{"最小値1はそのまま", 1, 1},
		{"デフォルト1440はそのまま", 1440, 1440},
		{"最大値10080はそのまま", 10080, 10080},
		{"最大値超過は10080にクランプ", 999999, 10080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampTTL(tt.ttl, maxMinutes)
			if got != tt.want {
				t.Errorf("clampTTL(%d, %d) = %d, want %d", tt.ttl, maxMinutes, got, tt.want)
			}
		})
	}
}

// クランプ後のTTLから計算した有効期限がexpiresAt > issuedAtを満たすことの検証
func TestTokenExpiry_Concept(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ttl := clampTTL(999999, 10080)

	tok := &model.SessionToken{
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Minute),
	}

	if !tok.ExpiresAt.After(tok.IssuedAt) {
		t.Error("expected expiresAt > issuedAt")
	}

	// 7日より後には延びない
	if tok.ExpiresAt.After(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("expiresAt = %v, want <= now + 7 days", tok.ExpiresAt)
	}

	// TTLクランプ後の有効期限時点では無効
	if tok.Valid(tok.ExpiresAt) {
		t.Error("token should be invalid at exactly expiresAt")
	}
	if !tok.Valid(tok.ExpiresAt.Add(-time.Second)) {
		t.Error("token should be valid just before expiresAt")
	}
}
