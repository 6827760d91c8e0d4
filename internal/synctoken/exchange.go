// Package synctoken は2つのオリジン間でログイン状態を引き継ぐための
// 短命な同期トークンの発行と引き換えを提供する。
//
// トークンは共有シークレットによるHS256署名付きJWTで、発行から最大120秒のみ有効。
// 引き換えは共有ストアでのid・emailペア再検証を必ず伴い、トークン自体を
// 信頼の根拠にはしない。引き換え記録（jti単位）がリプレイ防止キャッシュとなる。
package synctoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iamdrhock/flixsync/internal/model"
)

// DefaultTTL は同期トークンの既定の有効期間。
const DefaultTTL = 120 * time.Second

// 引き換え失敗の分類。クライアントへはいずれも同一のSyncFailedとして返し、
// 内訳はログとメトリクスにのみ記録する。
var (
	// ErrExpiredToken はトークンの有効期限切れを表す。
	ErrExpiredToken = errors.New("sync token expired")
	// ErrInvalidSignature は署名不正・改ざん・対象オリジン不一致を表す。
	ErrInvalidSignature = errors.New("sync token signature invalid")
	// ErrAlreadyRedeemed は使用済みトークンの別ペイロードでの再使用を表す。
	ErrAlreadyRedeemed = errors.New("sync token already redeemed")
	// ErrIdentityNotFound はトークンのid・emailペアが共有ストアに存在しないことを表す。
	ErrIdentityNotFound = errors.New("identity not found for sync token")
)

// SyncClaims は同期トークンのJWTクレーム。
// Subjectに共有アイデンティティID、IDにリプレイ検出用のjtiを保持する。
type SyncClaims struct {
	Email  string `json:"email"`
	From   string `json:"from"`
	Target string `json:"target"`
	jwt.RegisteredClaims
}

// IdentityLookup はid・emailペアの厳密照合インターフェース。
type IdentityLookup interface {
	LookupPair(ctx context.Context, id, email string) (*model.Identity, error)
}

// SessionMinter は引き換え先オリジンのセッション発行インターフェース。
type SessionMinter interface {
	Mint(ctx context.Context, identityID string) (*model.Session, error)
	Destroy(ctx context.Context, sessionID string) error
}

// RedemptionStore は引き換え記録の永続化インターフェース。
type RedemptionStore interface {
	TryRedeem(ctx context.Context, redemption *model.SyncRedemption) (stored *model.SyncRedemption, inserted bool, err error)
}

// Config はExchangeの設定。
type Config struct {
	Secret []byte        // 両オリジンで共有するHMACシークレット
	TTL    time.Duration // トークン有効期間（ゼロ値はDefaultTTL）
	Origin model.Site    // このデプロイメントのオリジン
}

// Exchange は同期トークンの発行と引き換えを行う。
type Exchange struct {
	config      Config
	identities  IdentityLookup
	sessions    SessionMinter
	redemptions RedemptionStore

	// now はテストで時刻を固定するために差し替え可能。
	now func() time.Time
}

// NewExchange はExchangeを生成する。
func NewExchange(
	config Config,
	identities IdentityLookup,
	sessions SessionMinter,
	redemptions RedemptionStore,
) *Exchange {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Exchange{
		config:      config,
		identities:  identities,
		sessions:    sessions,
		redemptions: redemptions,
		now:         time.Now,
	}
}

// Issue は現オリジンでログイン済みのアイデンティティに対し、
// targetオリジンで引き換え可能な同期トークンを発行する。
func (e *Exchange) Issue(identity *model.Identity, target model.Site) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("identity is required")
	}
	if !target.Valid() {
		return "", fmt.Errorf("invalid target origin: %q", target)
	}

	now := e.now()
	claims := SyncClaims{
		Email:  identity.Email,
		From:   string(e.config.Origin),
		Target: string(target),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.config.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(e.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign sync token: %w", err)
	}
	return signed, nil
}

// Redeemed は引き換えの結果。
type Redeemed struct {
	Identity *model.Identity
	Session  *model.Session
	// Replayed は同一トークンの再引き換えで初回発行セッションを返したことを示す。
	Replayed bool
}

// Redeem は同期トークンを検証し、このオリジンのセッションを発行する。
//
// 検証は署名・有効期限・対象オリジンの順に行い、その後で共有ストアの
// id・emailペアを再照合する。トークンの主張は照合が通るまで信頼しない。
// 同一トークンの有効期間内の再引き換えは初回に発行したセッションを返す。
func (e *Exchange) Redeem(ctx context.Context, tokenString string) (*Redeemed, error) {
	claims, err := e.verify(tokenString)
	if err != nil {
		return nil, err
	}

	// 共有ストアでのペア再照合。片方のみ一致は別人であり拒否する。
	identity, err := e.identities.LookupPair(ctx, claims.Subject, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	// 先にセッションを発行し、引き換え記録の挿入で勝敗を決める。
	// 負けた側（挿入済み＝リプレイ）は発行したセッションを破棄して初回の記録を返す。
	session, err := e.sessions.Mint(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session: %w", err)
	}

	stored, inserted, err := e.redemptions.TryRedeem(ctx, &model.SyncRedemption{
		TokenID:      claims.ID,
		IdentityID:   identity.ID,
		SessionID:    session.ID,
		SourceOrigin: model.Site(claims.From),
		TargetOrigin: model.Site(claims.Target),
		RedeemedAt:   e.now(),
		ExpiresAt:    claims.ExpiresAt.Time,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record redemption: %w", err)
	}

	if inserted {
		return &Redeemed{Identity: identity, Session: session, Replayed: false}, nil
	}

	// リプレイ: 今回発行したセッションは不要
	if destroyErr := e.sessions.Destroy(ctx, session.ID); destroyErr != nil {
		slog.Warn("リプレイ時の余剰セッション破棄に失敗しました",
			slog.String("session_id", session.ID),
			slog.String("error", destroyErr.Error()),
		)
	}

	// 初回の記録とアイデンティティが食い違う場合は別人による再使用として拒否
	if stored.IdentityID != identity.ID || stored.TargetOrigin != model.Site(claims.Target) {
		return nil, ErrAlreadyRedeemed
	}

	return &Redeemed{
		Identity: identity,
		Session: &model.Session{
			ID:         stored.SessionID,
			IdentityID: stored.IdentityID,
			Origin:     stored.TargetOrigin,
			ExpiresAt:  stored.ExpiresAt,
			CreatedAt:  stored.RedeemedAt,
		},
		Replayed: true,
	}, nil
}

// verify は署名・有効期限・対象オリジンを検証してクレームを返す。
func (e *Exchange) verify(tokenString string) (*SyncClaims, error) {
	claims := &SyncClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return e.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if model.Site(claims.Target) != e.config.Origin {
		// 他オリジン宛のトークンはこのオリジンでは引き換えられない
		return nil, fmt.Errorf("%w: token target is %q", ErrInvalidSignature, claims.Target)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidSignature)
	}

	return claims, nil
}
