// Package syncnotify はクロスオリジン通知の送信側を提供する。
//
// 通知は2経路の冪等なベストエフォート配信で行う。
//   - iframe経路: ピアの同期ページを不可視iframeで読み込み、
//     ページ内スクリプトがpostMessageとlocalStorageフラグで親へ通知する
//   - サーバ間経路: ピアのsync-fromエンドポイントへのHTTP POST
//
// どちらの経路も失敗してよい。受信側は通知を信頼せず、
// ローカルでのセッション再確認のトリガーとしてのみ扱う。
package syncnotify

import (
	"fmt"
	"html/template"
	"io"
	"net/url"

	"github.com/iamdrhock/flixsync/internal/model"
)

// IframeRemovalDelayMS は呼び出し側が同期iframeを除去するまでの待ち時間（ミリ秒）。
const IframeRemovalDelayMS = 3000

// BuildSyncURL はピアの同期ページ（iframeで読み込むURL）を組み立てる。
func BuildSyncURL(peerBaseURL string, from model.Site, userID, email string) string {
	query := url.Values{}
	query.Set("userId", userID)
	query.Set("email", email)
	query.Set("from", string(from))
	return fmt.Sprintf("%s/auth/cross-domain-sync?%s", peerBaseURL, query.Encode())
}

// syncPageTemplate は同期ページのHTML。
// html/templateの文脈依存エスケープにより、クエリパラメータ由来の値は
// スクリプト内に安全に埋め込まれる。
// postMessageの宛先は'*'だが、受信側がオリジン許可リストで検証するため
// 機密情報はペイロードに含めない（userId・emailは受信側で再確認される前提の値）。
var syncPageTemplate = template.Must(template.New("sync").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Syncing...</title>
</head>
<body>
<script>
if (window.parent && window.parent !== window) {
  window.parent.postMessage({
    type: {{.MessageType}},
    userId: {{.UserID}},
    email: {{.Email}},
    from: {{.From}},
    target: {{.Target}},
    timestamp: {{.Timestamp}}
  }, '*');
}
try {
  localStorage.setItem({{.FlagKey}}, JSON.stringify({
    userId: {{.UserID}},
    email: {{.Email}},
    from: {{.From}},
    timestamp: {{.Timestamp}}
  }));
} catch (e) {}
</script>
</body>
</html>
`))

// syncPageData はテンプレートに渡すデータ。
type syncPageData struct {
	MessageType string
	FlagKey     string
	UserID      string
	Email       string
	From        string
	Target      string
	Timestamp   int64
}

// RenderSyncPage は同期イベントをpostMessage・localStorageフラグとして
// 配信するHTMLページを書き出す。iframe内で実行されることを想定する。
func RenderSyncPage(w io.Writer, event model.SyncEvent) error {
	data := syncPageData{
		MessageType: model.SyncMessageType,
		FlagKey:     model.SyncFlagKey,
		UserID:      event.UserID,
		Email:       event.Email,
		From:        string(event.SourceOrigin),
		Target:      string(event.TargetOrigin),
		Timestamp:   event.Timestamp.UnixMilli(),
	}
	if err := syncPageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render sync page: %w", err)
	}
	return nil
}
