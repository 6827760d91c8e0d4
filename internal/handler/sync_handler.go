package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iamdrhock/flixsync/internal/middleware"
	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/reconcile"
	"github.com/iamdrhock/flixsync/internal/syncnotify"
	"github.com/iamdrhock/flixsync/internal/synctoken"
)

// TokenExchangeInterface は同期トークンの発行・引き換えインターフェース。
type TokenExchangeInterface interface {
	Issue(identity *model.Identity, target model.Site) (string, error)
	Redeem(ctx context.Context, tokenString string) (*synctoken.Redeemed, error)
}

// IdentityLookupInterface は共有ストアのアイデンティティ照合インターフェース。
type IdentityLookupInterface interface {
	Get(ctx context.Context, id string) (*model.Identity, error)
	LookupPair(ctx context.Context, id, email string) (*model.Identity, error)
}

// EventValidatorInterface は受信同期イベントの検証インターフェース。
type EventValidatorInterface interface {
	ValidateEvent(senderOrigin string, event model.SyncEvent) error
}

// SyncMetricsRecorder は同期プロトコルのメトリクス記録インターフェース。
type SyncMetricsRecorder interface {
	RecordTokenIssued(target string)
	RecordTokenRedeemed(replayed bool)
	RecordRedeemFailure(reason string)
	RecordEventReceived()
	RecordEventDropped(reason string)
}

// SyncHandlerConfig は同期ハンドラーの設定。
type SyncHandlerConfig struct {
	Site          model.Site
	BaseURL       string
	PeerURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int
}

// SyncHandler はクロスドメイン同期プロトコルのHTTPハンドラー。
type SyncHandler struct {
	exchange   TokenExchangeInterface
	identities IdentityLookupInterface
	validator  EventValidatorInterface
	metrics    SyncMetricsRecorder
	script     []byte // 起動時にレンダリング済みのreconcilerスクリプト
	config     SyncHandlerConfig
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(
	exchange TokenExchangeInterface,
	identities IdentityLookupInterface,
	validator EventValidatorInterface,
	metrics SyncMetricsRecorder,
	script []byte,
	config SyncHandlerConfig,
) *SyncHandler {
	return &SyncHandler{
		exchange:   exchange,
		identities: identities,
		validator:  validator,
		metrics:    metrics,
		script:     script,
		config:     config,
	}
}

// SyncPage は対向サイトのiframeに埋め込まれるスクリプトのみのHTMLページを返す。
// ページは親ウィンドウへのpostMessageとlocalStorageフラグの書き込みを行う。
// GET /auth/cross-domain-sync?userId=&email=&from=
func (h *SyncHandler) SyncPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("userId")
	email := query.Get("email")
	from := model.Site(query.Get("from"))

	if userID == "" || email == "" || from == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("userId, email, from"))
		return
	}
	if from != h.config.Site.Peer() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("from"))
		return
	}

	event := model.SyncEvent{
		UserID:       userID,
		Email:        email,
		SourceOrigin: from,
		TargetOrigin: h.config.Site,
		Timestamp:    time.Now(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := syncnotify.RenderSyncPage(w, event); err != nil {
		slog.Error("failed to render sync page", slog.String("error", err.Error()))
	}
}

// SyncFrom はピアのサーバー間通知を受け付ける。
// ボディの{userId, email}ペアを共有ストアで厳密照合し、
// 映画サイト側では引き換え用の同期トークンとexchangeUrlを返す。
// コミュニティ側は共有プロファイルテーブルを直接参照するため、確認応答のみ返す。
// POST /auth/sync-from-{site}
func (h *SyncHandler) SyncFrom(w http.ResponseWriter, r *http.Request) {
	from := model.Site(chi.URLParam(r, "site"))
	if from != h.config.Site.Peer() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("site"))
		return
	}

	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || body.Email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("userId, email"))
		return
	}

	identity, err := h.identities.LookupPair(r.Context(), body.UserID, body.Email)
	if err != nil {
		slog.Error("failed to look up identity pair", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if identity == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewIdentityNotFoundError())
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if h.config.Site == model.SiteTalkflix {
		// コミュニティ側は共有プロファイルを直接参照するため、照合の成功確認のみで足りる
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		return
	}

	token, err := h.exchange.Issue(identity, h.config.Site)
	if err != nil {
		slog.Error("failed to issue sync token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.metrics.RecordTokenIssued(string(h.config.Site))

	json.NewEncoder(w).Encode(map[string]string{
		"syncToken":   token,
		"exchangeUrl": h.exchangeURL(token),
	})
}

// SyncTo は認証済みユーザーのためにピアへの同期URLを計算して返す。
// クライアントはこのURLを不可視iframeで読み込む。
// POST /auth/sync-to-{site}
func (h *SyncHandler) SyncTo(w http.ResponseWriter, r *http.Request) {
	target := model.Site(chi.URLParam(r, "site"))
	if target != h.config.Site.Peer() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("site"))
		return
	}

	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	current, err := h.identities.Get(r.Context(), identityID)
	if err != nil {
		slog.Error("failed to load identity for sync-to", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if current == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"syncUrl": syncnotify.BuildSyncURL(h.config.PeerURL, h.config.Site, current.ID, current.Email),
	})
}

// ExchangeToken は同期トークンを引き換えて自オリジンのセッションを発行し、
// セッションCookieを設定してサイトのトップへリダイレクトする。
// トークン検証失敗の内訳はログとメトリクスにのみ残し、
// クライアントには一律のエラーを返す。
// GET /auth/exchange-sync-token?token=
func (h *SyncHandler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("token"))
		return
	}

	redeemed, err := h.exchange.Redeem(r.Context(), token)
	if err != nil {
		reason := redeemFailureReason(err)
		h.metrics.RecordRedeemFailure(reason)
		slog.Warn("sync token redemption failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSyncFailedError())
		return
	}

	h.metrics.RecordTokenRedeemed(redeemed.Replayed)

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    redeemed.Session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// SyncEvents はブラウザのReconcilerが報告する同期イベントを受け付ける。
// イベントは信頼できないトリガーであり、検証に通ってもセッションを
// 発行することはない。検証失敗は202のまま黙って破棄しログにのみ残す。
// POST /auth/sync/events
func (h *SyncHandler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordEventReceived()

	var body struct {
		Type      string `json:"type"`
		UserID    string `json:"userId"`
		Email     string `json:"email"`
		From      string `json:"from"`
		Target    string `json:"target"`
		Timestamp int64  `json:"timestamp"` // UnixMilli
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.metrics.RecordEventDropped("malformed")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("event body"))
		return
	}

	if body.Type != model.SyncMessageType {
		h.metrics.RecordEventDropped("wrong_type")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	event := model.SyncEvent{
		UserID:       body.UserID,
		Email:        body.Email,
		SourceOrigin: model.Site(body.From),
		TargetOrigin: model.Site(body.Target),
		Timestamp:    time.UnixMilli(body.Timestamp),
	}

	if err := h.validator.ValidateEvent(r.Header.Get("Origin"), event); err != nil {
		// 信頼できないイベントは黙って破棄する
		h.metrics.RecordEventDropped(dropReason(err))
		slog.Warn("sync event dropped",
			slog.String("sender_origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// 検証に通ったイベントはローカルのセッション再確認のトリガーにのみ使う。
	// セッションの発行・付与はここでは一切行わない。
	slog.Info("sync event accepted",
		slog.String("user_id", event.UserID),
		slog.String("from", string(event.SourceOrigin)),
	)
	w.WriteHeader(http.StatusAccepted)
}

// ReconcilerScript は埋め込みのブラウザ側Reconcilerスクリプトを返す。
// GET /auth/reconciler.js
func (h *SyncHandler) ReconcilerScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(h.script)
}

// exchangeURL はトークン引き換えエンドポイントの完全なURLを組み立てる。
func (h *SyncHandler) exchangeURL(token string) string {
	return fmt.Sprintf("%s/auth/exchange-sync-token?token=%s", h.config.BaseURL, url.QueryEscape(token))
}

// redeemFailureReason はメトリクスラベル用の失敗理由を返す。
func redeemFailureReason(err error) string {
	switch {
	case errors.Is(err, synctoken.ErrExpiredToken):
		return "expired"
	case errors.Is(err, synctoken.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, synctoken.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, synctoken.ErrIdentityNotFound):
		return "identity_not_found"
	default:
		return "internal"
	}
}

// dropReason はDropErrorからメトリクスラベル用の理由を取り出す。
func dropReason(err error) string {
	var dropErr *reconcile.DropError
	if errors.As(err, &dropErr) {
		return string(dropErr.Reason)
	}
	return "invalid"
}
