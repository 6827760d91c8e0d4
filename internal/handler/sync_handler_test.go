package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"

	"github.com/iamdrhock/flixsync/internal/middleware"
	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/reconcile"
	"github.com/iamdrhock/flixsync/internal/synctoken"
)

// --- モック定義 ---

type mockTokenExchange struct {
	issueFn  func(identity *model.Identity, target model.Site) (string, error)
	redeemFn func(ctx context.Context, tokenString string) (*synctoken.Redeemed, error)
}

func (m *mockTokenExchange) Issue(identity *model.Identity, target model.Site) (string, error) {
	if m.issueFn != nil {
		return m.issueFn(identity, target)
	}
	return "", nil
}

func (m *mockTokenExchange) Redeem(ctx context.Context, tokenString string) (*synctoken.Redeemed, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, tokenString)
	}
	return nil, nil
}

type mockIdentityLookup struct {
	getFn        func(ctx context.Context, id string) (*model.Identity, error)
	lookupPairFn func(ctx context.Context, id, email string) (*model.Identity, error)
}

func (m *mockIdentityLookup) Get(ctx context.Context, id string) (*model.Identity, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityLookup) LookupPair(ctx context.Context, id, email string) (*model.Identity, error) {
	if m.lookupPairFn != nil {
		return m.lookupPairFn(ctx, id, email)
	}
	return nil, nil
}

type mockEventValidator struct {
	validateFn func(senderOrigin string, event model.SyncEvent) error
}

func (m *mockEventValidator) ValidateEvent(senderOrigin string, event model.SyncEvent) error {
	if m.validateFn != nil {
		return m.validateFn(senderOrigin, event)
	}
	return nil
}

// mockSyncMetrics は呼ばれたメトリクスを記録する。
type mockSyncMetrics struct {
	issued   []string
	redeemed []bool
	failures []string
	received int
	dropped  []string
}

func (m *mockSyncMetrics) RecordTokenIssued(target string)    { m.issued = append(m.issued, target) }
func (m *mockSyncMetrics) RecordTokenRedeemed(replayed bool)  { m.redeemed = append(m.redeemed, replayed) }
func (m *mockSyncMetrics) RecordRedeemFailure(reason string)  { m.failures = append(m.failures, reason) }
func (m *mockSyncMetrics) RecordEventReceived()               { m.received++ }
func (m *mockSyncMetrics) RecordEventDropped(reason string)   { m.dropped = append(m.dropped, reason) }

func testSyncConfig(site model.Site) SyncHandlerConfig {
	base := "https://rockflix.example.com"
	peer := "https://talkflix.example.com"
	if site == model.SiteTalkflix {
		base, peer = peer, base
	}
	return SyncHandlerConfig{
		Site:          site,
		BaseURL:       base,
		PeerURL:       peer,
		CookieSecure:  true,
		SessionMaxAge: 86400,
	}
}

func newTestSyncHandler(site model.Site, exchange *mockTokenExchange, identities *mockIdentityLookup, validator *mockEventValidator, m *mockSyncMetrics) *SyncHandler {
	return NewSyncHandler(exchange, identities, validator, m, []byte("// reconciler"), testSyncConfig(site))
}

// syncRouter はURLパラメータ付きルートを解決するためのテスト用ルーター。
func syncRouter(h *SyncHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/auth/cross-domain-sync", h.SyncPage)
	r.Post("/auth/sync-from-{site}", h.SyncFrom)
	r.Post("/auth/sync-to-{site}", h.SyncTo)
	r.Get("/auth/exchange-sync-token", h.ExchangeToken)
	r.Post("/auth/sync/events", h.SyncEvents)
	r.Get("/auth/reconciler.js", h.ReconcilerScript)
	return r
}

// --- SyncPage ---

func TestSyncHandler_SyncPage_MissingParams_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	urls := []string{
		"/auth/cross-domain-sync",
		"/auth/cross-domain-sync?userId=u-42",
		"/auth/cross-domain-sync?userId=u-42&email=jane%40example.com",
	}

	for _, u := range urls {
		req := httptest.NewRequest(http.MethodGet, u, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", u, w.Result().StatusCode, http.StatusBadRequest)
		}
	}
}

func TestSyncHandler_SyncPage_WrongFrom_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	// rockflixのページを開くfromはtalkflixでなければならない
	req := httptest.NewRequest(http.MethodGet, "/auth/cross-domain-sync?userId=u-42&email=jane%40example.com&from=rockflix", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestSyncHandler_SyncPage_RendersScriptOnlyHTML(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/cross-domain-sync?userId=u-42&email=jane%40example.com&from=talkflix", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	// HTMLとしてパースでき、script要素を含むこと
	doc, err := html.Parse(resp.Body)
	if err != nil {
		t.Fatalf("failed to parse HTML: %v", err)
	}

	var scriptText string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" && n.FirstChild != nil {
			scriptText += n.FirstChild.Data
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if scriptText == "" {
		t.Fatal("expected inline script in sync page")
	}
	for _, want := range []string{model.SyncMessageType, model.SyncFlagKey, "u-42", "postMessage", "localStorage"} {
		if !strings.Contains(scriptText, want) {
			t.Errorf("script should contain %q", want)
		}
	}
}

// --- SyncFrom ---

func TestSyncHandler_SyncFrom_MissingParams_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-rockflix", strings.NewReader(`{"userId":"u-42"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestSyncHandler_SyncFrom_UnknownPair_Returns404(t *testing.T) {
	identities := &mockIdentityLookup{
		lookupPairFn: func(ctx context.Context, id, email string) (*model.Identity, error) {
			return nil, nil
		},
	}
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, identities, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-rockflix",
		strings.NewReader(`{"userId":"u-42","email":"other@example.com"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestSyncHandler_SyncFrom_WrongSiteParam_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	// talkflix側のsync-fromはrockflixからの通知のみ受け付ける
	req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-talkflix",
		strings.NewReader(`{"userId":"u-42","email":"jane@example.com"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestSyncHandler_SyncFrom_MoviesDirection_ReturnsTokenAndExchangeURL(t *testing.T) {
	identities := &mockIdentityLookup{
		lookupPairFn: func(ctx context.Context, id, email string) (*model.Identity, error) {
			if id == "u-42" && email == "jane@example.com" {
				return testIdentity(), nil
			}
			return nil, nil
		},
	}
	exchange := &mockTokenExchange{
		issueFn: func(identity *model.Identity, target model.Site) (string, error) {
			if target != model.SiteRockflix {
				t.Errorf("issue target = %q, want %q", target, model.SiteRockflix)
			}
			return "signed-token", nil
		},
	}
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteRockflix, exchange, identities, &mockEventValidator{}, m)
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-talkflix",
		strings.NewReader(`{"userId":"u-42","email":"jane@example.com"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["syncToken"] != "signed-token" {
		t.Errorf("syncToken = %q, want %q", body["syncToken"], "signed-token")
	}
	if want := "https://rockflix.example.com/auth/exchange-sync-token?token=signed-token"; body["exchangeUrl"] != want {
		t.Errorf("exchangeUrl = %q, want %q", body["exchangeUrl"], want)
	}
	if len(m.issued) != 1 {
		t.Errorf("token issued metric count = %d, want 1", len(m.issued))
	}
}

func TestSyncHandler_SyncFrom_CommunityDirection_ReturnsAck(t *testing.T) {
	identities := &mockIdentityLookup{
		lookupPairFn: func(ctx context.Context, id, email string) (*model.Identity, error) {
			return testIdentity(), nil
		},
	}
	exchange := &mockTokenExchange{
		issueFn: func(identity *model.Identity, target model.Site) (string, error) {
			t.Fatal("community direction should not issue a token")
			return "", nil
		},
	}
	h := newTestSyncHandler(model.SiteTalkflix, exchange, identities, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync-from-rockflix",
		strings.NewReader(`{"userId":"u-42","email":"jane@example.com"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

// --- SyncTo ---

func TestSyncHandler_SyncTo_NoSession_Returns401(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync-to-talkflix", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSyncHandler_SyncTo_ReturnsSyncURL(t *testing.T) {
	identities := &mockIdentityLookup{
		getFn: func(ctx context.Context, id string) (*model.Identity, error) {
			return testIdentity(), nil
		},
	}
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, identities, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/auth/sync-to-talkflix", nil), "u-42")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	syncURL := body["syncUrl"]
	if !strings.HasPrefix(syncURL, "https://talkflix.example.com/auth/cross-domain-sync?") {
		t.Errorf("syncUrl = %q, should point at peer sync page", syncURL)
	}
	for _, want := range []string{"userId=u-42", "from=rockflix"} {
		if !strings.Contains(syncURL, want) {
			t.Errorf("syncUrl %q should contain %q", syncURL, want)
		}
	}
}

func TestSyncHandler_SyncTo_WrongTarget_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/auth/sync-to-rockflix", nil), "u-42")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// --- ExchangeToken ---

func TestSyncHandler_ExchangeToken_Success_SetsCookieAndRedirects(t *testing.T) {
	exchange := &mockTokenExchange{
		redeemFn: func(ctx context.Context, tokenString string) (*synctoken.Redeemed, error) {
			return &synctoken.Redeemed{
				Identity: testIdentity(),
				Session:  &model.Session{ID: "sess-minted", IdentityID: "u-42", Origin: model.SiteTalkflix},
			}, nil
		},
	}
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, exchange, &mockIdentityLookup{}, &mockEventValidator{}, m)
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/exchange-sync-token?token=good-token", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := resp.Header.Get("Location"); loc != "https://talkflix.example.com" {
		t.Errorf("Location = %q, want site base URL", loc)
	}

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value != "sess-minted" {
		t.Fatalf("expected session cookie sess-minted, got %+v", sessionCookie)
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	if len(m.redeemed) != 1 || m.redeemed[0] {
		t.Errorf("redeemed metrics = %v, want one non-replayed", m.redeemed)
	}
}

func TestSyncHandler_ExchangeToken_MissingToken_Returns400(t *testing.T) {
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/exchange-sync-token", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestSyncHandler_ExchangeToken_Failure_ReturnsUniformError(t *testing.T) {
	// 失敗の内訳はメトリクスにのみ現れ、レスポンスは一律SYNC_FAILED
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"expired", synctoken.ErrExpiredToken, "expired"},
		{"invalid signature", synctoken.ErrInvalidSignature, "invalid_signature"},
		{"already redeemed", synctoken.ErrAlreadyRedeemed, "already_redeemed"},
		{"identity not found", synctoken.ErrIdentityNotFound, "identity_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := &mockTokenExchange{
				redeemFn: func(ctx context.Context, tokenString string) (*synctoken.Redeemed, error) {
					return nil, tt.err
				},
			}
			m := &mockSyncMetrics{}
			h := newTestSyncHandler(model.SiteTalkflix, exchange, &mockIdentityLookup{}, &mockEventValidator{}, m)
			router := syncRouter(h)

			req := httptest.NewRequest(http.MethodGet, "/auth/exchange-sync-token?token=bad", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}

			var errBody middleware.ErrorResponseBody
			json.NewDecoder(resp.Body).Decode(&errBody)
			if errBody.Code != model.ErrCodeSyncFailed {
				t.Errorf("code = %q, want %q (failure detail must not leak)", errBody.Code, model.ErrCodeSyncFailed)
			}

			if len(m.failures) != 1 || m.failures[0] != tt.wantReason {
				t.Errorf("failure metrics = %v, want [%s]", m.failures, tt.wantReason)
			}
		})
	}
}

func TestSyncHandler_ExchangeToken_Replayed_ReturnsFirstSession(t *testing.T) {
	exchange := &mockTokenExchange{
		redeemFn: func(ctx context.Context, tokenString string) (*synctoken.Redeemed, error) {
			return &synctoken.Redeemed{
				Identity: testIdentity(),
				Session:  &model.Session{ID: "sess-first", IdentityID: "u-42", Origin: model.SiteTalkflix},
				Replayed: true,
			}, nil
		},
	}
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, exchange, &mockIdentityLookup{}, &mockEventValidator{}, m)
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/exchange-sync-token?token=replayed", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value != "sess-first" {
		t.Errorf("cookie should carry the first-minted session, got %+v", sessionCookie)
	}
	if len(m.redeemed) != 1 || !m.redeemed[0] {
		t.Errorf("redeemed metrics = %v, want one replayed", m.redeemed)
	}
}

// --- SyncEvents ---

func TestSyncHandler_SyncEvents_ValidEvent_Accepted(t *testing.T) {
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, m)
	router := syncRouter(h)

	body := `{"type":"CROSS_DOMAIN_AUTH_SYNC","userId":"u-42","email":"jane@example.com","from":"rockflix","target":"talkflix","timestamp":1700000000000}`
	req := httptest.NewRequest(http.MethodPost, "/auth/sync/events", strings.NewReader(body))
	req.Header.Set("Origin", "https://rockflix.example.com")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusAccepted)
	}
	if m.received != 1 {
		t.Errorf("received metric = %d, want 1", m.received)
	}
	if len(m.dropped) != 0 {
		t.Errorf("dropped metrics = %v, want none", m.dropped)
	}
}

func TestSyncHandler_SyncEvents_UntrustedOrigin_DroppedSilently(t *testing.T) {
	validator := &mockEventValidator{
		validateFn: func(senderOrigin string, event model.SyncEvent) error {
			return &reconcile.DropError{Reason: reconcile.DropUntrustedOrigin, Detail: senderOrigin}
		},
	}
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, validator, m)
	router := syncRouter(h)

	body := `{"type":"CROSS_DOMAIN_AUTH_SYNC","userId":"u-42","email":"jane@example.com","from":"rockflix","target":"talkflix","timestamp":1700000000000}`
	req := httptest.NewRequest(http.MethodPost, "/auth/sync/events", strings.NewReader(body))
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// 信頼できないイベントも202で黙って破棄（攻撃者に判定結果を教えない）
	if w.Result().StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusAccepted)
	}
	if len(m.dropped) != 1 || m.dropped[0] != string(reconcile.DropUntrustedOrigin) {
		t.Errorf("dropped metrics = %v, want untrusted origin drop", m.dropped)
	}
}

func TestSyncHandler_SyncEvents_WrongType_Dropped(t *testing.T) {
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, m)
	router := syncRouter(h)

	body := `{"type":"SOMETHING_ELSE","userId":"u-42"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/sync/events", strings.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusAccepted)
	}
	if len(m.dropped) != 1 || m.dropped[0] != "wrong_type" {
		t.Errorf("dropped metrics = %v, want [wrong_type]", m.dropped)
	}
}

func TestSyncHandler_SyncEvents_MalformedBody_Returns400(t *testing.T) {
	m := &mockSyncMetrics{}
	h := newTestSyncHandler(model.SiteTalkflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, m)
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/auth/sync/events", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// --- ReconcilerScript ---

func TestSyncHandler_ReconcilerScript_ServesJavaScript(t *testing.T) {
	h := newTestSyncHandler(model.SiteRockflix, &mockTokenExchange{}, &mockIdentityLookup{}, &mockEventValidator{}, &mockSyncMetrics{})
	router := syncRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/auth/reconciler.js", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Errorf("Content-Type = %q, want application/javascript", ct)
	}
}
