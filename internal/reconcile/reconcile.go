// Package reconcile は受信側オリジンでの同期イベントの検証を提供する。
//
// 同期イベント（postMessage・localStorageフラグ・サーバ間通知）は
// いずれも信頼できない入力であり、ここでの検証を通過しても
// セッションを直接確立することはない。検証の結果は
// 「ローカルのセッション状態を再確認するべきか」の判断にのみ使う。
// 検証失敗はログとメトリクスに記録して捨てる。ユーザーに提示することはない。
package reconcile

import (
	"fmt"
	"time"

	"github.com/iamdrhock/flixsync/internal/model"
)

// DefaultMaxEventAge は同期イベントの既定の鮮度上限。
// これより古いイベントはログイン直後の通知ではないため無視する。
const DefaultMaxEventAge = 60 * time.Second

// DropReason はイベントを捨てた理由の分類。メトリクスのラベルに使用する。
type DropReason string

const (
	DropUntrustedOrigin DropReason = "untrusted_origin"
	DropStale           DropReason = "stale"
	DropMissingFields   DropReason = "missing_fields"
	DropSelfOrigin      DropReason = "self_origin"
)

// DropError は検証失敗を理由付きで表す。
type DropError struct {
	Reason DropReason
	Detail string
}

// Error はerrorインターフェースを実装する。
func (e *DropError) Error() string {
	return fmt.Sprintf("sync event dropped (%s): %s", e.Reason, e.Detail)
}

// Config はValidatorの設定。
type Config struct {
	Origin         model.Site    // このデプロイメントのオリジン
	AllowedOrigins []string      // 協調する2オリジンの完全なオリジン文字列
	MaxEventAge    time.Duration // ゼロ値はDefaultMaxEventAge
}

// Validator は同期イベントの検証を行う。
type Validator struct {
	config Config

	// now はテストで時刻を固定するために差し替え可能。
	now func() time.Time
}

// NewValidator はValidatorを生成する。
func NewValidator(config Config) *Validator {
	if config.MaxEventAge <= 0 {
		config.MaxEventAge = DefaultMaxEventAge
	}
	return &Validator{
		config: config,
		now:    time.Now,
	}
}

// OriginAllowed は送信元オリジンが許可リストに含まれるかを返す。
// 部分一致やサフィックス一致は行わない。完全一致のみ。
func (v *Validator) OriginAllowed(origin string) bool {
	for _, allowed := range v.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ValidateEvent は同期イベントを検証する。
// senderOriginはHTTPのOriginヘッダ等、トランスポート層から得た送信元。
// 検証を通過した場合のみnilを返し、呼び出し側はセッション再確認を行ってよい。
func (v *Validator) ValidateEvent(senderOrigin string, event model.SyncEvent) error {
	if !v.OriginAllowed(senderOrigin) {
		return &DropError{Reason: DropUntrustedOrigin, Detail: fmt.Sprintf("origin %q", senderOrigin)}
	}

	if event.UserID == "" || event.Email == "" {
		return &DropError{Reason: DropMissingFields, Detail: "userId or email is empty"}
	}

	// 自オリジン発のイベントは反映済みであり再確認は不要
	if event.SourceOrigin == v.config.Origin {
		return &DropError{Reason: DropSelfOrigin, Detail: string(event.SourceOrigin)}
	}

	age := v.now().Sub(event.Timestamp)
	if age > v.config.MaxEventAge {
		return &DropError{Reason: DropStale, Detail: fmt.Sprintf("age %s", age)}
	}

	return nil
}
