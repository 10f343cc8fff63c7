package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// FileSnapshotRepo はJSONファイルを使用したスナップショットリポジトリ。
// 書き込みは一時ファイルへの書き込みとリネームで行い、途中状態のファイルを残さない。
type FileSnapshotRepo struct {
	dir string
	mu  sync.Mutex
}

// NewFileSnapshotRepo はFileSnapshotRepoを生成する。ディレクトリが無ければ作成する。
func NewFileSnapshotRepo(dir string) (*FileSnapshotRepo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileSnapshotRepo{dir: dir}, nil
}

// Load は指定名のスナップショットを取得する。ファイルが無い場合はnilを返す。
func (r *FileSnapshotRepo) Load(ctx context.Context, name string) (*model.CredentialSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot model.CredentialSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Save はスナップショットをアトミックに保存する。
func (r *FileSnapshotRepo) Save(ctx context.Context, name string, snapshot *model.CredentialSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := r.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Delete はスナップショットのファイルを削除する。
func (r *FileSnapshotRepo) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (r *FileSnapshotRepo) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// compile-time interface check
var _ SnapshotRepository = (*FileSnapshotRepo)(nil)
