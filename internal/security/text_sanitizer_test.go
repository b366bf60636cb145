package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"空文字列", "", ""},
		{"プレーンテキストはそのまま", "Team standup", "Team standup"},
		{"タグを除去", "<b>Focus</b> time", "Focus time"},
		{"scriptタグは中身ごと除去", `Lunch<script>alert(1)</script>`, "Lunch"},
		{"イベント属性付きタグを除去", `<img src=x onerror=alert(1)>Review`, "Review"},
		{"アンパサンドは二重エスケープしない", "R&D sync", "R&D sync"},
		{"空白を正規化", "  1:1   with\n Bob ", "1:1 with Bob"},
		{"日本語", "<p>定例会議</p>", "定例会議"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{"<i>Design</i> review", "a & b", "a  <em>b</em>"}

	for _, in := range inputs {
		once := s.Sanitize(in)
		if twice := s.Sanitize(once); twice != once {
			t.Errorf("Sanitize is not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
