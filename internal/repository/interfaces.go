// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// DefaultSnapshotName は認証情報スナップショットの既定のレコード名。
const DefaultSnapshotName = "auth-storage"

// SnapshotRepository は認証情報スナップショットの永続化インターフェース。
// 名前付きの単一レコードとして{token, user}を保持する。
type SnapshotRepository interface {
	// Load は指定名のスナップショットを取得する。存在しない場合はnilを返す。
	Load(ctx context.Context, name string) (*model.CredentialSnapshot, error)
	// Save はスナップショットを保存する。既存のレコードは上書きする。
	Save(ctx context.Context, name string, snapshot *model.CredentialSnapshot) error
	// Delete は指定名のスナップショットを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, name string) error
}
