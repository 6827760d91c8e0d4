package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/iamdrhock/flixsync/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用した共有アイデンティティリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `id, email, COALESCE(username, ''), COALESCE(password_hash, ''),
	COALESCE(country, ''), COALESCE(profile_picture_url, ''), created_at, updated_at`

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	identity := &model.Identity{}
	err := row.Scan(
		&identity.ID, &identity.Email, &identity.Username, &identity.CredentialHash,
		&identity.Country, &identity.ProfilePictureURL, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	return identity, nil
}

// FindByID は指定IDのアイデンティティを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM profiles WHERE id = $1`,
		id,
	))
}

// FindByIDAndEmail はIDとemailの両方が一致するアイデンティティを取得する。
// ペアの片方のみ一致する場合もnilを返す。
func (r *PostgresIdentityRepo) FindByIDAndEmail(ctx context.Context, id, email string) (*model.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM profiles WHERE id = $1 AND email = $2`,
		id, email,
	))
}

// FindByEmail はemailでアイデンティティを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM profiles WHERE email = $1`,
		email,
	))
}

// FindByUsername はusernameでアイデンティティを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByUsername(ctx context.Context, username string) (*model.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM profiles WHERE username = $1`,
		username,
	))
}

// Upsert はIDをキーにアイデンティティを作成または更新する。
// 既存レコードの非空フィールドを空値で上書きしないよう、
// 更新側はNULLIF + COALESCEで空文字を「変更なし」として扱う。
func (r *PostgresIdentityRepo) Upsert(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, username, password_hash, country, profile_picture_url, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), now(), now())
		 ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			username = COALESCE(EXCLUDED.username, profiles.username),
			password_hash = COALESCE(EXCLUDED.password_hash, profiles.password_hash),
			country = COALESCE(EXCLUDED.country, profiles.country),
			profile_picture_url = COALESCE(EXCLUDED.profile_picture_url, profiles.profile_picture_url),
			updated_at = now()`,
		identity.ID, identity.Email, identity.Username, identity.CredentialHash,
		identity.Country, identity.ProfilePictureURL,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// CompleteProfile はusername・country・profile_picture_urlを設定する。
func (r *PostgresIdentityRepo) CompleteProfile(ctx context.Context, id, username, country, pictureURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET username = $2,
			country = NULLIF($3, ''),
			profile_picture_url = NULLIF($4, ''),
			updated_at = now()
		 WHERE id = $1`,
		id, username, country, pictureURL,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to complete profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

// DeleteByID は指定IDのアイデンティティを削除する。
// 両オリジンのsessionsはCASCADE削除される。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

// isUniqueViolation はPostgreSQLのユニーク制約違反（SQLSTATE 23505）かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
