// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iamdrhock/flixsync/internal/middleware"
	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/syncnotify"
)

// IdentityServiceInterface は認証ハンドラーが必要とするアイデンティティサービス。
type IdentityServiceInterface interface {
	Get(ctx context.Context, id string) (*model.Identity, error)
	ProfileCompleted(ctx context.Context, id string) (bool, error)
	CompleteProfile(ctx context.Context, id, email, username, password, country, pictureURL string) (*model.Identity, error)
	Delete(ctx context.Context, id string) error
}

// SessionServiceInterface は認証ハンドラーが必要とするセッションサービス。
type SessionServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Destroy(ctx context.Context, sessionID string) error
	DestroyAll(ctx context.Context, identityID string) error
}

// PeerNotifierInterface はログイン成功後のピア通知インターフェース。
type PeerNotifierInterface interface {
	NotifyAsync(userID, email string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Site          model.Site
	BaseURL       string
	PeerURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はネイティブ認証関連のHTTPハンドラー。
type AuthHandler struct {
	identities IdentityServiceInterface
	sessions   SessionServiceInterface
	notifier   PeerNotifierInterface
	config     AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	identities IdentityServiceInterface,
	sessions SessionServiceInterface,
	notifier PeerNotifierInterface,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		identities: identities,
		sessions:   sessions,
		notifier:   notifier,
		config:     config,
	}
}

// identityResponse はアイデンティティのJSON表現。
type identityResponse struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	Username          string `json:"username,omitempty"`
	Country           string `json:"country,omitempty"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
	ProfileCompleted  bool   `json:"profileCompleted"`
}

func newIdentityResponse(identity *model.Identity) identityResponse {
	return identityResponse{
		ID:                identity.ID,
		Email:             identity.Email,
		Username:          identity.Username,
		Country:           identity.Country,
		ProfilePictureURL: identity.ProfilePictureURL,
		ProfileCompleted:  identity.ProfileCompleted(),
	}
}

// Login はメールアドレスとパスワードでログインし、セッションCookieを設定する。
// 成功時はピアオリジンへのサーバー間通知を非同期で開始し、
// クライアントがiframeで読み込むべき同期URLを応答に含める。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("email, password"))
		return
	}

	session, err := h.sessions.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, "login failed", err)
		return
	}

	identity, err := h.identities.Get(r.Context(), session.IdentityID)
	if err != nil || identity == nil {
		slog.Error("failed to load identity after login", slog.String("error", errString(err)))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setSessionCookie(w, session.ID)

	// ピアへのベストエフォート通知。失敗してもログインは成功のまま。
	h.notifier.NotifyAsync(identity.ID, identity.Email)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user":    newIdentityResponse(identity),
		"syncUrl": syncnotify.BuildSyncURL(h.config.PeerURL, h.config.Site, identity.ID, identity.Email),
	})
}

// Logout は現在のセッションを破棄し、Cookieをクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if destroyErr := h.sessions.Destroy(r.Context(), cookie.Value); destroyErr != nil {
			slog.Error("failed to destroy session", slog.String("error", destroyErr.Error()))
			// 破棄に失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged_out"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	identity, err := h.identities.Get(r.Context(), identityID)
	if err != nil {
		slog.Error("failed to get identity", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if identity == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newIdentityResponse(identity))
}

// Delete はアカウントを削除する。共有ストアのプロフィールを削除すると
// 両オリジンのセッションがカスケードで失効する。
// DELETE /auth/me
func (h *AuthHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.identities.Delete(r.Context(), identityID); err != nil {
		writeServiceError(w, "failed to delete identity", err)
		return
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// ProfileStatus はプロフィール完了状態を返す。
// GET /auth/complete-profile
func (h *AuthHandler) ProfileStatus(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	completed, err := h.identities.ProfileCompleted(r.Context(), identityID)
	if err != nil {
		writeServiceError(w, "failed to check profile status", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"profileCompleted": completed})
}

// CompleteProfile はユーザー名・パスワード等を設定しプロフィールを完了する。
// 完了後はピアオリジンにも通知し、プロフィールが両サイトで見えるようにする。
// POST /auth/complete-profile
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body struct {
		Username          string `json:"username"`
		Password          string `json:"password"`
		Country           string `json:"country"`
		ProfilePictureURL string `json:"profilePictureUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamsError("username, password"))
		return
	}

	current, err := h.identities.Get(r.Context(), identityID)
	if err != nil {
		slog.Error("failed to get identity", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if current == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewIdentityNotFoundError())
		return
	}

	identity, err := h.identities.CompleteProfile(
		r.Context(),
		identityID,
		current.Email,
		body.Username,
		body.Password,
		body.Country,
		body.ProfilePictureURL,
	)
	if err != nil {
		writeServiceError(w, "failed to complete profile", err)
		return
	}

	h.notifier.NotifyAsync(identity.ID, identity.Email)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newIdentityResponse(identity))
}

// setSessionCookie はセッションCookieを設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieをクリアする。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeServiceError はサービス層のエラーを統一フォーマットで書き込む。
// APIErrorはコードに応じたステータスで返し、それ以外は500として詳細をログにのみ残す。
func writeServiceError(w http.ResponseWriter, logMsg string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusCodeForAPIError(apiErr), apiErr)
		return
	}
	slog.Error(logMsg, slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
