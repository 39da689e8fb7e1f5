// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizerService はブックマークタイトルをサニタイズし、
// ダッシュボードでの描画時にXSSとなりうるHTMLをすべて除去する。
// bluemondayのStrictPolicyを使用し、タグを一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService はタイトルサニタイズ機能のインターフェースを定義する。
// ブックマークの保存前に使用される。
type TitleSanitizerService interface {
	// Sanitize はタイトルからHTMLタグをすべて除去し、前後の空白を削る。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストのみを通過させる。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタイトルからHTMLタグをすべて除去する。
func (s *titleSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ TitleSanitizerService = (*titleSanitizer)(nil)
