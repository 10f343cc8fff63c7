package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// Load は指定名のスナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresSnapshotRepo) Load(ctx context.Context, name string) (*model.CredentialSnapshot, error) {
	var (
		token    string
		userJSON []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_data
		 FROM credential_snapshots
		 WHERE name = $1`,
		name,
	).Scan(&token, &userJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snapshot := &model.CredentialSnapshot{Token: token}
	if len(userJSON) > 0 && string(userJSON) != "null" {
		var user model.User
		if err := json.Unmarshal(userJSON, &user); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot user: %w", err)
		}
		snapshot.User = &user
	}
	return snapshot, nil
}

// Save はスナップショットをUPSERTで保存する。
func (r *PostgresSnapshotRepo) Save(ctx context.Context, name string, snapshot *model.CredentialSnapshot) error {
	userJSON, err := json.Marshal(snapshot.User)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot user: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO credential_snapshots (name, token, user_data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET token = EXCLUDED.token, user_data = EXCLUDED.user_data, updated_at = now()`,
		name, snapshot.Token, userJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Delete は指定名のスナップショットを削除する。
func (r *PostgresSnapshotRepo) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM credential_snapshots WHERE name = $1`,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
