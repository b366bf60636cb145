// Package security はユーザー入力の無害化を提供する。
//
// イベントのタイトルやユーザー名はプレーンテキストとして保存する。
// bluemondayのStrictPolicyで全てのHTMLタグを除去した後、
// エスケープされた文字参照を元に戻してから空白を正規化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、連続する空白を1つにまとめて前後を切り詰めた文字列を返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(input string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのPolicyは生成後の読み取りのみでスレッドセーフ。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(input))
	return strings.Join(strings.Fields(stripped), " ")
}
