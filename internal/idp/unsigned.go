package idp

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// UnsignedClaimsResolver はIdP発行のJWTを署名検証なしでデコードしてクレームを取り出す。
// 署名を検証しないため、信頼できるネットワーク境界の内側でのみ使用すること。
// リモート検証エンドポイントが利用できる環境ではRemoteClaimsResolverを使う。
type UnsignedClaimsResolver struct {
	parser *jwt.Parser
}

// NewUnsignedClaimsResolver はUnsignedClaimsResolverを生成する。
func NewUnsignedClaimsResolver() *UnsignedClaimsResolver {
	return &UnsignedClaimsResolver{parser: jwt.NewParser()}
}

// Resolve はJWTをデコードしてsubjectクレームを取り出す。
// 不正な形式のトークンやsubject欠落はエラーではなく不在として扱う。
func (r *UnsignedClaimsResolver) Resolve(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(credential, claims); err != nil {
		return nil, nil
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, nil
	}

	return &Claims{Subject: sub}, nil
}

// compile-time interface check
var _ ClaimsResolver = (*UnsignedClaimsResolver)(nil)
