// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iamdrhock/flixsync/internal/model"
)

// ErrDuplicateUsername はusernameのユニーク制約違反を表す。
// 両オリジンからの同時プロフィール完了はDB制約でのみ確実に検出できる。
var ErrDuplicateUsername = errors.New("username already taken")

// IdentityRepository は共有アイデンティティストアの永続化インターフェース。
// 両オリジンのデプロイメントが同一のprofilesテーブルを参照する。
type IdentityRepository interface {
	// FindByID は指定IDのアイデンティティを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByIDAndEmail はIDとemailの両方が一致するアイデンティティを取得する。
	// 同期トークン引き換え時のペア検証に使用し、片方のみ一致する場合もnilを返す。
	FindByIDAndEmail(ctx context.Context, id, email string) (*model.Identity, error)

	// FindByEmail はemailでアイデンティティを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// FindByUsername はusernameでアイデンティティを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Identity, error)

	// Upsert はIDをキーにアイデンティティを作成または更新する。
	// 既存レコードがある場合、空でないフィールドのみ上書きする。
	// IDは一度割り当てたら変更しない。
	Upsert(ctx context.Context, identity *model.Identity) error

	// CompleteProfile はusername・country・profile_picture_urlを設定する。
	// usernameが既に他のアイデンティティに使われている場合はErrDuplicateUsernameを返す。
	CompleteProfile(ctx context.Context, id, username, country, pictureURL string) error

	// DeleteByID は指定IDのアイデンティティを削除する。
	// 両オリジンのsessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はオリジン固有セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByIdentityID は指定アイデンティティの全オリジンのセッションを削除する。
	DeleteByIdentityID(ctx context.Context, identityID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// RedemptionRepository は同期トークンの引き換え記録の永続化インターフェース。
type RedemptionRepository interface {
	// TryRedeem は引き換え記録の挿入を試みる。
	// 初回の引き換えであればredemptionを記録してinserted=trueを返す。
	// 既に同じtoken_idの記録が存在する場合は既存の記録とinserted=falseを返す。
	TryRedeem(ctx context.Context, redemption *model.SyncRedemption) (stored *model.SyncRedemption, inserted bool, err error)

	// DeleteExpired は有効期限を過ぎた引き換え記録を削除し、削除件数を返す。
	// 記録の有効期限はトークン自体の有効期限と一致するため、
	// 削除後に同じトークンが再提示されても署名検証の時点で期限切れになる。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
