// Package model はドメインモデルを定義する。
package model

import "time"

// Site は協調する2つのオリジンのどちらかを表す。
type Site string

const (
	// SiteRockflix は動画配信サイト（NextAuth相当のネイティブ認証を持つ側）。
	SiteRockflix Site = "rockflix"
	// SiteTalkflix はコミュニティサイト。
	SiteTalkflix Site = "talkflix"
)

// Valid はSiteが既知の値かどうかを返す。
func (s Site) Valid() bool {
	return s == SiteRockflix || s == SiteTalkflix
}

// Peer は反対側のサイトを返す。未知の値の場合は空のSiteを返す。
func (s Site) Peer() Site {
	switch s {
	case SiteRockflix:
		return SiteTalkflix
	case SiteTalkflix:
		return SiteRockflix
	default:
		return ""
	}
}

// Identity は両オリジンで共有されるユーザーレコードを表す。
// IDは両オリジンのセッションシステムを結合するキーであり、
// 一度割り当てられたら再生成してはならない。
type Identity struct {
	ID                string
	Email             string
	Username          string
	CredentialHash    string // OAuth専用アカウントの場合は空
	Country           string
	ProfilePictureURL string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfileCompleted はユーザー名が設定済み（プロフィール完了）かどうかを返す。
func (i *Identity) ProfileCompleted() bool {
	return i != nil && i.Username != ""
}

// Session はオリジン固有のログインセッションを表す。
// あるオリジンが発行したセッションを他オリジンが直接受け入れることはない。
type Session struct {
	ID         string
	IdentityID string
	Origin     Site
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// SyncEvent はクロスオリジン通知のペイロードを表す。
// 受信側オリジンでは常に信頼できない入力として扱い、
// ローカルのセッション再確認のトリガーにのみ使用する。
type SyncEvent struct {
	UserID       string
	Email        string
	SourceOrigin Site
	TargetOrigin Site
	Timestamp    time.Time
}

// SyncRedemption は同期トークンの引き換え記録を表す。
// トークンID（jti）をキーにした挿入記録がリプレイ防止キャッシュとして機能し、
// 有効期限内の再引き換えには初回に発行したセッションをそのまま返す。
type SyncRedemption struct {
	TokenID      string
	IdentityID   string
	SessionID    string
	SourceOrigin Site
	TargetOrigin Site
	RedeemedAt   time.Time
	ExpiresAt    time.Time
}

// SyncMessageType はpostMessageペイロードのtypeフィールドの値。
const SyncMessageType = "CROSS_DOMAIN_AUTH_SYNC"

// SyncFlagKey は同一タブ配信フォールバック用のlocalStorageキー。
const SyncFlagKey = "auth_sync_needed"
