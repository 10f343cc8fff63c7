// Package model はドメインモデルを定義する。
package model

// 役割（ロール）の定義済み値。
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// User は認証済みの操作者（ダッシュボード利用者）のプロフィールを表す。
// FuncionarioIDは利用者が職員レコードに紐付いている場合のみ設定される。
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Name          string  `json:"name,omitempty"`
	Role          string  `json:"role"`
	FuncionarioID *string `json:"funcionario_id,omitempty"`
}

// Clone はUserのディープコピーを返す。nilの場合はnilを返す。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.FuncionarioID != nil {
		id := *u.FuncionarioID
		c.FuncionarioID = &id
	}
	return &c
}

// HasRole は利用者が指定ロールを持つかどうかを返す。
func (u *User) HasRole(role string) bool {
	return u != nil && u.Role == role
}

// CredentialSnapshot は永続化される認証情報のスナップショット。
// ハイドレーション完了フラグは永続化せず、起動時に必ず再計算する。
type CredentialSnapshot struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// IsEmpty はトークンとユーザーのどちらも保持していない場合にtrueを返す。
func (s *CredentialSnapshot) IsEmpty() bool {
	return s == nil || (s.Token == "" && s.User == nil)
}
