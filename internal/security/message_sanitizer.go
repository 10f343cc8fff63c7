// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はバックエンドから受け取ったメッセージを画面に表示する前に
// マークアップを取り除く。バックエンドのエラーメッセージは利用者の入力を
// そのまま含むことがあるため、テキストとしてのみ扱う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizer はメッセージのサニタイズ機能のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize はすべてのタグを取り除いたプレーンテキストを返す。
	// 結果はエスケープされていないため、html/templateなどで出力時にエスケープすること。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(message string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyを使う。
func NewMessageSanitizer() MessageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを取り除き、前後の空白を除去したテキストを返す。
func (s *messageSanitizer) Sanitize(message string) string {
	if message == "" {
		return ""
	}
	// ポリシーが付与した文字参照は戻す（二重エスケープを避ける）
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(message)))
}
