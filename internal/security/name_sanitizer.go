// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizerService は参加者の表示名をサニタイズし、
// 他のクライアントに再表示される文字列からXSSリスクを取り除く。
// bluemondayのStrictPolicyですべてのHTMLタグを除去する。
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数（rune単位）。
const MaxDisplayNameLength = 32

// NameSanitizerService は表示名サニタイズ機能のインターフェースを定義する。
// 参加者の保存前に使用される。
type NameSanitizerService interface {
	// Sanitize は表示名をサニタイズして返す。
	// HTMLタグをすべて除去し、前後の空白を取り除き、連続する空白を1つに畳み、
	// MaxDisplayNameLengthを超える部分を切り詰める。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawName string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストのみを残す。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をサニタイズして返す。
func (s *nameSanitizer) Sanitize(rawName string) string {
	name := s.policy.Sanitize(rawName)
	name = strings.Join(strings.Fields(name), " ")

	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		runes := []rune(name)
		name = string(runes[:MaxDisplayNameLength])
	}

	return name
}

// compile-time interface check
var _ NameSanitizerService = (*nameSanitizer)(nil)
