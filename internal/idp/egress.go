package idp

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// defaultTimeout はアウトバウンドHTTPクライアントのデフォルトタイムアウト。
const defaultTimeout = 10 * time.Second

// NewOutboundClient はSSRF防止機能付きのアウトバウンドHTTPクライアントを生成する。
// safeurlにより、プライベートIP、ループバック、リンクローカル、
// メタデータIPへのリクエストがブロックされる。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
func NewOutboundClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}
