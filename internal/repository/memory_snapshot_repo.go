package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// MemorySnapshotRepo はプロセス内メモリのみを使用するスナップショットリポジトリ。
// 再起動をまたいで認証情報を保持しない運用（STORAGE_DRIVER=memory）とテストで使用する。
type MemorySnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[string]model.CredentialSnapshot
}

// NewMemorySnapshotRepo はMemorySnapshotRepoを生成する。
func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{snapshots: make(map[string]model.CredentialSnapshot)}
}

// Load は指定名のスナップショットのコピーを返す。
func (r *MemorySnapshotRepo) Load(ctx context.Context, name string) (*model.CredentialSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.snapshots[name]
	if !ok {
		return nil, nil
	}
	return &model.CredentialSnapshot{Token: s.Token, User: s.User.Clone()}, nil
}

// Save はスナップショットのコピーを保存する。
func (r *MemorySnapshotRepo) Save(ctx context.Context, name string, snapshot *model.CredentialSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[name] = model.CredentialSnapshot{Token: snapshot.Token, User: snapshot.User.Clone()}
	return nil
}

// Delete は指定名のスナップショットを削除する。
func (r *MemorySnapshotRepo) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.snapshots, name)
	return nil
}

// compile-time interface check
var _ SnapshotRepository = (*MemorySnapshotRepo)(nil)
