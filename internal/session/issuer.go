// Package session はオリジン固有セッションの発行・検証・破棄を提供する。
//
// セッションは発行したオリジンに属し、ピアオリジンが直接受け入れることはない。
// ピアでのセッション確立は同期トークンの引き換えを経由する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/repository"
)

// Config はセッション発行の設定。
type Config struct {
	Origin model.Site // このデプロイメントのオリジン
	MaxAge int        // セッション有効期間（秒）
}

// Issuer はオリジン固有のセッション発行者。
type Issuer struct {
	identityRepo repository.IdentityRepository
	sessionRepo  repository.SessionRepository
	config       Config
}

// NewIssuer はIssuerを生成する。
func NewIssuer(
	identityRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config Config,
) *Issuer {
	return &Issuer{
		identityRepo: identityRepo,
		sessionRepo:  sessionRepo,
		config:       config,
	}
}

// Login はemail・passwordを検証し、このオリジンのセッションを発行する。
// emailの存在有無とパスワード不一致は区別せず、同一のエラーを返す。
func (i *Issuer) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if email == "" || password == "" {
		return nil, model.NewMissingParamsError("email, password")
	}

	identity, err := i.identityRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil || identity.CredentialHash == "" {
		return nil, model.NewInvalidCredentialError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.CredentialHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialError()
	}

	session, err := i.Mint(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("ログインしました",
		slog.String("identity_id", identity.ID),
		slog.String("origin", string(i.config.Origin)),
	)
	return session, nil
}

// Mint は指定アイデンティティのセッションを新規発行して永続化する。
// 同期トークンの引き換え成功時にも使用される。
func (i *Issuer) Mint(ctx context.Context, identityID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("セッションIDの生成に失敗しました: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:         sessionID,
		IdentityID: identityID,
		Origin:     i.config.Origin,
		ExpiresAt:  now.Add(time.Duration(i.config.MaxAge) * time.Second),
		CreatedAt:  now,
	}

	if err := i.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	return session, nil
}

// Validate はセッションIDを検証し、有効であればセッションを返す。
// 期限切れ・未知のID・他オリジンが発行したセッションはいずれもnilを返す。
func (i *Issuer) Validate(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := i.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if session.Origin != i.config.Origin {
		// 共有テーブル上のピアのセッションはこのオリジンでは無効
		return nil, nil
	}

	return session, nil
}

// Destroy は指定IDのセッションを破棄する。
func (i *Issuer) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := i.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	slog.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// DestroyAll は指定アイデンティティの全オリジンのセッションを破棄する。
func (i *Issuer) DestroyAll(ctx context.Context, identityID string) error {
	if err := i.sessionRepo.DeleteByIdentityID(ctx, identityID); err != nil {
		return fmt.Errorf("全セッションの削除に失敗しました: %w", err)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
