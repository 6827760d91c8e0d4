package syncnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iamdrhock/flixsync/internal/model"
)

// SafeClientFactory はSSRF防止付きHTTPクライアントの生成インターフェース。
type SafeClientFactory interface {
	NewSafeClient(timeout time.Duration) *http.Client
}

// PeerNotifyRecorder は通知の成否を記録するメトリクスインターフェース。
type PeerNotifyRecorder interface {
	RecordPeerNotify(success bool)
}

// Notifier はログイン成功後にピアサイトへサーバ間通知を送る。
// 配信はベストエフォートであり、失敗してもログインは成功のまま進行する。
type Notifier struct {
	client  *http.Client
	peerURL string
	from    model.Site
	metrics PeerNotifyRecorder
}

// NewNotifier はNotifierを生成する。
func NewNotifier(factory SafeClientFactory, peerURL string, from model.Site, timeout time.Duration) *Notifier {
	return &Notifier{
		client:  factory.NewSafeClient(timeout),
		peerURL: peerURL,
		from:    from,
	}
}

// SetMetrics は通知成否のメトリクス記録先を設定する。
func (n *Notifier) SetMetrics(recorder PeerNotifyRecorder) {
	n.metrics = recorder
}

// notifyPayload はsync-fromエンドポイントへのリクエストボディ。
type notifyPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Notify はピアのsync-fromエンドポイントへ{userId, email}をPOSTする。
// エラーは呼び出し元へ返すが、呼び出し元はログ記録以外の対応をしない。
func (n *Notifier) Notify(ctx context.Context, userID, email string) error {
	body, err := json.Marshal(notifyPayload{UserID: userID, Email: email})
	if err != nil {
		return fmt.Errorf("failed to marshal notify payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/auth/sync-from-%s", n.peerURL, n.from)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to notify peer: %w", err)
	}
	defer resp.Body.Close()
	// レスポンスボディは読み捨てる（コネクション再利用のため）
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("peer notify returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyAsync はNotifyをバックグラウンドで実行する。
// ログイン応答をブロックしないためのファイア・アンド・フォーゲット経路。
func (n *Notifier) NotifyAsync(userID, email string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout+time.Second)
		defer cancel()
		err := n.Notify(ctx, userID, email)
		if n.metrics != nil {
			n.metrics.RecordPeerNotify(err == nil)
		}
		if err != nil {
			slog.Warn("ピアへの同期通知に失敗しました（ログインには影響しません）",
				slog.String("peer", n.peerURL),
				slog.String("error", err.Error()),
			)
		}
	}()
}
