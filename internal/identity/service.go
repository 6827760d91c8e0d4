// Package identity は共有アイデンティティストアへのアクセスを提供する。
//
// 共有ストアは両オリジンのデプロイメントから参照される唯一の信頼情報源であり、
// 書き込みは全てidをキーにした冪等なupsertで行う。
// テキスト項目は書き込み側オリジンを信頼せず保存前にサニタイズする。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/repository"
	"github.com/iamdrhock/flixsync/internal/security"
)

// minPasswordLength はプロフィール完了時のパスワード最低文字数。
const minPasswordLength = 6

// Service は共有アイデンティティストアのサービス層。
type Service struct {
	repo      repository.IdentityRepository
	sanitizer security.ProfileSanitizerService
	ssrfGuard security.SSRFGuardService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.IdentityRepository,
	sanitizer security.ProfileSanitizerService,
	ssrfGuard security.SSRFGuardService,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		ssrfGuard: ssrfGuard,
	}
}

// Get は指定IDのアイデンティティを取得する。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Identity, error) {
	identity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	return identity, nil
}

// LookupPair はIDとemailの両方が一致するアイデンティティを取得する。
// 片方のみ一致する場合は別人のアイデンティティに接続しないようnilを返す。
// あいまい一致やフォールバック検索は行わない。
func (s *Service) LookupPair(ctx context.Context, id, email string) (*model.Identity, error) {
	identity, err := s.repo.FindByIDAndEmail(ctx, id, email)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの照合に失敗しました: %w", err)
	}
	return identity, nil
}

// ProfileCompleted は指定IDのプロフィールが完了済みかどうかを返す。
// アイデンティティが存在しない場合はIdentityNotFoundエラーを返す。
func (s *Service) ProfileCompleted(ctx context.Context, id string) (bool, error) {
	identity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return false, model.NewIdentityNotFoundError()
	}
	return identity.ProfileCompleted(), nil
}

// CompleteProfile はユーザー名とパスワードを設定してプロフィールを完了する。
// アイデンティティが未作成の場合（OAuth初回ログイン等）はid・emailで新規作成する。
// ユーザー名の重複は事前チェックとDB制約の二段階で検出する。
func (s *Service) CompleteProfile(ctx context.Context, id, email, username, password, country, pictureURL string) (*model.Identity, error) {
	username = s.sanitizer.SanitizeField(username)
	country = s.sanitizer.SanitizeField(country)

	if id == "" || email == "" || username == "" {
		return nil, model.NewMissingParamsError("id, email, username")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewWeakPasswordError()
	}
	if pictureURL != "" {
		if err := s.ssrfGuard.ValidateURL(pictureURL); err != nil {
			slog.Warn("プロフィール画像URLを拒否しました",
				slog.String("identity_id", id),
				slog.String("error", err.Error()),
			)
			pictureURL = ""
		}
	}

	// 事前チェック: ユーザー名が他のアイデンティティに使われていないか
	existing, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名の重複確認に失敗しました: %w", err)
	}
	if existing != nil && existing.ID != id {
		return nil, model.NewUsernameTakenError(username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	identity := &model.Identity{
		ID:                id,
		Email:             email,
		Username:          username,
		CredentialHash:    string(hash),
		Country:           country,
		ProfilePictureURL: pictureURL,
	}
	if err := s.repo.Upsert(ctx, identity); err != nil {
		// 事前チェックをすり抜けた並行書き込みはDB制約で検出される
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, model.NewUsernameTakenError(username)
		}
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}

	slog.Info("プロフィールを完了しました",
		slog.String("identity_id", id),
		slog.String("username", username),
	)

	return identity, nil
}

// Delete はアカウントを削除する。
// 両オリジンのセッションはDBのCASCADEで同時に削除される。
func (s *Service) Delete(ctx context.Context, id string) error {
	identity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.NewIdentityNotFoundError()
	}

	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("アイデンティティの削除に失敗しました: %w", err)
	}

	slog.Info("アカウントを削除しました",
		slog.String("identity_id", id),
	)
	return nil
}
