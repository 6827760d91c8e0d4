package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iamdrhock/flixsync/internal/model"
)

// TestRouterIntegration_CSRFTokenEndpoint はCSRFトークン取得エンドポイントが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := chi.NewRouter()

	csrfConfig := CSRFConfig{CookieSecure: false}
	r.Get("/auth/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Session -> CSRF のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	validator := &mockSessionValidator{
		validateFn: func(ctx context.Context, sessionID string) (*model.Session, error) {
			if sessionID == "router-test-session" {
				return &model.Session{
					ID:         "router-test-session",
					IdentityID: "u-router-test",
					Origin:     model.SiteRockflix,
					ExpiresAt:  time.Now().Add(1 * time.Hour),
				}, nil
			}
			return nil, nil
		},
	}

	r := chi.NewRouter()

	csrfConfig := CSRFConfig{
		CookieSecure:       false,
		ExemptPathPrefixes: []string{"/auth/sync-from-", "/auth/sync/events"},
	}

	// CSRFトークン取得エンドポイント（認証不要）
	r.Get("/auth/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// クロスオリジン同期エンドポイント（認証不要・CSRF免除）
	r.Group(func(r chi.Router) {
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.Post("/auth/sync-from-talkflix", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
	})

	// 認証が必要なルートグループ
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(validator))
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
			identityID, _ := IdentityIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"identity_id": identityID})
		})

		r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			identityID, _ := IdentityIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"identity_id": identityID, "action": "logged_out"})
		})
	})

	// テスト1: GET /auth/me は認証あり + CSRFなしで通る
	t.Run("GET_me_with_session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "router-test-session"})
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
	})

	// テスト2: GET /auth/me は認証なしで401
	t.Run("GET_me_no_session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})

	// テスト3: POST /auth/logout は認証あり + CSRFトークンで通る
	t.Run("POST_logout_with_session_and_csrf", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "router-test-session"})
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
		req.Header.Set(csrfHeaderName, "test-csrf-token")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}

		var body map[string]string
		json.NewDecoder(w.Result().Body).Decode(&body)
		if body["identity_id"] != "u-router-test" {
			t.Errorf("identity_id = %q, want %q", body["identity_id"], "u-router-test")
		}
	})

	// テスト4: POST /auth/logout は認証あり + CSRFトークンなしで403
	t.Run("POST_logout_without_csrf", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "router-test-session"})
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
		}
	})

	// テスト5: POST /auth/logout は認証なしで401（CSRFチェックの前にセッションチェック）
	t.Run("POST_logout_no_session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})

	// テスト6: 同期エンドポイントは認証もCSRFトークンも不要
	t.Run("POST_sync_from_peer_no_auth_no_csrf", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-talkflix", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
	})
}
