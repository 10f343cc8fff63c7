package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

func TestFileSnapshotRepo_LoadMissing_ReturnsNil(t *testing.T) {
	repo, err := NewFileSnapshotRepo(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSnapshotRepo: %v", err)
	}

	got, err := repo.Load(context.Background(), DefaultSnapshotName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestFileSnapshotRepo_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileSnapshotRepo(dir)
	if err != nil {
		t.Fatalf("NewFileSnapshotRepo: %v", err)
	}
	ctx := context.Background()

	fid := "func-7"
	in := &model.CredentialSnapshot{
		Token: "tok-123",
		User:  &model.User{ID: "u1", Username: "jperez", Role: model.RoleAdmin, FuncionarioID: &fid},
	}
	if err := repo.Save(ctx, DefaultSnapshotName, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// 一時ファイルが残っていないこと
	if _, err := os.Stat(filepath.Join(dir, DefaultSnapshotName+".json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary file should not remain, stat err = %v", err)
	}

	got, err := repo.Load(ctx, DefaultSnapshotName)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Token != "tok-123" {
		t.Errorf("Token = %q, want %q", got.Token, "tok-123")
	}
	if got.User == nil || got.User.Role != model.RoleAdmin {
		t.Fatalf("User = %+v, want role %q", got.User, model.RoleAdmin)
	}
	if got.User.FuncionarioID == nil || *got.User.FuncionarioID != "func-7" {
		t.Errorf("FuncionarioID = %v, want %q", got.User.FuncionarioID, "func-7")
	}
}

func TestFileSnapshotRepo_Delete_IsIdempotent(t *testing.T) {
	repo, err := NewFileSnapshotRepo(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSnapshotRepo: %v", err)
	}
	ctx := context.Background()

	if err := repo.Save(ctx, DefaultSnapshotName, &model.CredentialSnapshot{Token: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Delete(ctx, DefaultSnapshotName); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := repo.Delete(ctx, DefaultSnapshotName); err != nil {
		t.Errorf("second Delete should not fail: %v", err)
	}

	got, err := repo.Load(ctx, DefaultSnapshotName)
	if err != nil || got != nil {
		t.Errorf("Load after delete = %+v, %v; want nil, nil", got, err)
	}
}

func TestFileSnapshotRepo_CorruptFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileSnapshotRepo(dir)
	if err != nil {
		t.Fatalf("NewFileSnapshotRepo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultSnapshotName+".json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Load(context.Background(), DefaultSnapshotName); err == nil {
		t.Error("expected decode error for corrupt snapshot")
	}
}
