package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService は共有ストアに書き込むプロフィール項目の
// サニタイズ機能のインターフェースを定義する。
// 共有ストアの値は両オリジンのページに表示されるため、
// 書き込み側のオリジンを信頼せず保存前に必ずサニタイズする。
type ProfileSanitizerService interface {
	// SanitizeField はプロフィールのテキスト項目（username、country等）から
	// 全てのHTMLタグを除去し、前後の空白を取り除いて返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeField(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeField はプロフィールのテキスト項目から全てのHTMLタグを除去する。
func (s *profileSanitizer) SanitizeField(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
