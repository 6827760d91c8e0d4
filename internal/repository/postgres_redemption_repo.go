package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamdrhock/flixsync/internal/model"
)

// PostgresRedemptionRepo はPostgreSQLを使用した同期トークン引き換えリポジトリ。
type PostgresRedemptionRepo struct {
	db *sql.DB
}

// NewPostgresRedemptionRepo はPostgresRedemptionRepoを生成する。
func NewPostgresRedemptionRepo(db *sql.DB) *PostgresRedemptionRepo {
	return &PostgresRedemptionRepo{db: db}
}

// TryRedeem は引き換え記録の挿入を試みる。
// ON CONFLICT DO NOTHINGの挿入と既存記録の取得を同一トランザクションで行い、
// 同じトークンの並行引き換えでも必ずどちらか一方だけがinserted=trueになる。
func (r *PostgresRedemptionRepo) TryRedeem(ctx context.Context, redemption *model.SyncRedemption) (*model.SyncRedemption, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO sync_redemptions (token_id, identity_id, session_id, source_origin, target_origin, redeemed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (token_id) DO NOTHING`,
		redemption.TokenID, redemption.IdentityID, redemption.SessionID,
		string(redemption.SourceOrigin), string(redemption.TargetOrigin),
		redemption.RedeemedAt, redemption.ExpiresAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert redemption: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	stored := &model.SyncRedemption{}
	err = tx.QueryRowContext(ctx,
		`SELECT token_id, identity_id, session_id, source_origin, target_origin, redeemed_at, expires_at
		 FROM sync_redemptions
		 WHERE token_id = $1`,
		redemption.TokenID,
	).Scan(
		&stored.TokenID, &stored.IdentityID, &stored.SessionID,
		&stored.SourceOrigin, &stored.TargetOrigin,
		&stored.RedeemedAt, &stored.ExpiresAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find redemption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return stored, rowsAffected > 0, nil
}

// DeleteExpired は有効期限を過ぎた引き換え記録を削除し、削除件数を返す。
func (r *PostgresRedemptionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_redemptions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired redemptions: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ RedemptionRepository = (*PostgresRedemptionRepo)(nil)
