// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iamdrhock/flixsync/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Site
	Site         model.Site // このデプロイメントが担当するオリジン（rockflix / talkflix）
	MoviesURL    string     // rockflix側のベースURL
	CommunityURL string     // talkflix側のベースURL

	// Sync
	SyncSecret        string        // 両オリジンだけが共有するトークン署名シークレット
	SyncTokenTTL      time.Duration // Syncトークンの有効期間
	SyncEventMaxAge   time.Duration // SyncイベントおよびlocalStorageフラグの許容経過時間
	PeerNotifyTimeout time.Duration // ピアオリジンへのサーバー間通知のタイムアウト

	// Session
	SessionMaxAge int // セッション有効期間（秒）

	// Rate Limit
	RateLimitSync  int // 未認証の同期エンドポイントのレート（req/min/IP）
	RateLimitLogin int // ログインエンドポイントのレート（req/min/IP）

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	site := os.Getenv("SITE")
	if site == "" {
		missing = append(missing, "SITE")
	}

	cfg.SyncSecret = os.Getenv("SYNC_SECRET")
	if cfg.SyncSecret == "" {
		missing = append(missing, "SYNC_SECRET")
	}

	cfg.MoviesURL = os.Getenv("MOVIES_URL")
	if cfg.MoviesURL == "" {
		missing = append(missing, "MOVIES_URL")
	}

	cfg.CommunityURL = os.Getenv("COMMUNITY_URL")
	if cfg.CommunityURL == "" {
		missing = append(missing, "COMMUNITY_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Site = model.Site(strings.ToLower(strings.TrimSpace(site)))
	if !cfg.Site.Valid() {
		return nil, fmt.Errorf("SITE must be %q or %q, got %q", model.SiteRockflix, model.SiteTalkflix, site)
	}

	// Optional fields with defaults
	cfg.SyncTokenTTL = getEnvDuration("SYNC_TOKEN_TTL", 120*time.Second)
	cfg.SyncEventMaxAge = getEnvDuration("SYNC_EVENT_MAX_AGE", 60*time.Second)
	cfg.PeerNotifyTimeout = getEnvDuration("PEER_NOTIFY_TIMEOUT", 5*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 30)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL(), "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// BaseURL は自オリジンのベースURLを返す。
func (c *Config) BaseURL() string {
	if c.Site == model.SiteRockflix {
		return c.MoviesURL
	}
	return c.CommunityURL
}

// PeerURL は反対側オリジンのベースURLを返す。
func (c *Config) PeerURL() string {
	if c.Site == model.SiteRockflix {
		return c.CommunityURL
	}
	return c.MoviesURL
}

// AllowedOrigins はpostMessage/CORSで許可されるオリジンの一覧を返す。
// 協調する2オリジンのみを含み、それ以外は一切許可しない。
func (c *Config) AllowedOrigins() []string {
	return []string{c.MoviesURL, c.CommunityURL}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
