// Package token は不透明トークンと主キーの生成を提供する。
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// secretByteLength はシークレットのバイト長（256ビット）。
const secretByteLength = 32

// NewToken は暗号的に安全なランダムシークレットを生成する。
// 256ビットのエントロピーをURL-safeなBase64（パディングなし）で符号化する。
// 衝突確率は無視できるため衝突処理は行わない。
func NewToken() (string, error) {
	b := make([]byte, secretByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewID はプレフィックス付きの一意な識別子を生成する（例: "user_<suffix>"）。
// 一意性の保証はストアの主キー制約に委ねる。
// 万一の衝突はストア側の一意制約違反として表面化させる。
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + suffix
}
