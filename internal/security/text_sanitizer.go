// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は患者名・来院理由・処方内容などの自由入力から
// マークアップを取り除き、保存前のテキストを正規化する。
// bluemondayのStrictPolicyを使用し、タグと属性はすべて除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由入力テキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Text はタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 改行は保持する。同一入力に対して常に同一出力を返す（冪等）。
	Text(raw string) string
}

// textSanitizer はTextSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxPasses はエスケープ解除で現れたタグを再度除去する回数の上限。
const maxPasses = 3

// Text はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体は元の文字に戻す。
func (s *textSanitizer) Text(raw string) string {
	out := strings.TrimSpace(raw)
	for i := 0; i < maxPasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(out)))
		if next == out {
			break
		}
		out = next
	}
	return out
}
