package security

import (
	"strings"
	"testing"
)

func TestText_PlainTextUnchanged(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []string{
		"山田 太郎",
		"O'Brien",
		"Tom & Jerry",
		"Paracetamol 500mg\n1日3回 食後",
		"血圧 < 140",
	}
	for _, input := range tests {
		if got := sanitizer.Text(input); got != input {
			t.Errorf("Text(%q) = %q, expected unchanged", input, got)
		}
	}
}

func TestText_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{`<b>Alice</b>`, "Alice"},
		{`<p OnClick="alert('xss')">頭痛</p>`, "頭痛"},
		{`<script>alert('xss')</script>発熱`, "発熱"},
		{`<img src=x onerror=alert(1)>Bob`, "Bob"},
		{`  <a href="javascript:alert(1)">link</a>  `, "link"},
		{`&lt;script&gt;alert(1)&lt;/script&gt;`, ""},
	}
	for _, tt := range tests {
		got := sanitizer.Text(tt.input)
		if got != tt.want {
			t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if strings.Contains(strings.ToLower(got), "<script") {
			t.Errorf("Text(%q) = %q still contains a script tag", tt.input, got)
		}
	}
}

func TestText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	inputs := []string{
		`<em>Ibuprofen</em> &amp; rest`,
		`a &lt;b&gt; c`,
		"  spaced  ",
	}
	for _, input := range inputs {
		once := sanitizer.Text(input)
		twice := sanitizer.Text(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}

func TestText_EmptyInput(t *testing.T) {
	if got := NewTextSanitizer().Text("   "); got != "" {
		t.Errorf("Text(blank) = %q, want empty", got)
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
