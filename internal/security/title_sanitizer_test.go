package security

import "testing"

// TestTitleSanitizer_Sanitize はHTMLタグの除去と空白の正規化を検証する。
func TestTitleSanitizer_Sanitize(t *testing.T) {
	s := NewTitleSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "Go言語入門", "Go言語入門"},
		{"scriptタグ除去", `<script>alert("xss")</script>記事タイトル`, "記事タイトル"},
		{"imgタグ除去", `タイトル<img src=x onerror=alert(1)>`, "タイトル"},
		{"インラインタグ除去", "<b>太字</b>の<i>タイトル</i>", "太字のタイトル"},
		{"前後空白の除去", "  タイトル  ", "タイトル"},
		{"空文字列", "", ""},
		{"タグのみ", "<div></div>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestTitleSanitizer_Idempotent は同一入力への冪等性を検証する。
func TestTitleSanitizer_Idempotent(t *testing.T) {
	s := NewTitleSanitizer()

	input := "<b>Go</b> Concurrency Patterns"
	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("sanitize should be idempotent: %q != %q", first, second)
	}
}
