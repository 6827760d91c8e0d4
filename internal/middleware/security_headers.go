package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// 同期ページ（/auth/cross-domain-sync）は対向サイトのiframeに埋め込まれる必要があるため、
// framePeerOriginsで指定されたオリジンからのフレーム化のみ許可する。
// それ以外のパスはフレーム化を全面的に拒否する。
func NewSecurityHeadersMiddleware(framePeerOrigins []string) func(next http.Handler) http.Handler {
	frameAncestors := "'none'"
	if len(framePeerOrigins) > 0 {
		frameAncestors = strings.Join(framePeerOrigins, " ")
	}
	syncPageCSP := fmt.Sprintf("frame-ancestors %s", frameAncestors)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if r.URL.Path == "/auth/cross-domain-sync" {
				// X-Frame-Optionsでは特定オリジンの許可を表現できないため
				// CSPのframe-ancestorsで制御する
				w.Header().Set("Content-Security-Policy", syncPageCSP)
			} else {
				w.Header().Set("X-Frame-Options", "DENY")
				w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
			}

			next.ServeHTTP(w, r)
		})
	}
}
