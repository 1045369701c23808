// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSanitizeText_DropsC1Controls(t *testing.T) {
	in := "Article\u0085 21\u009b2J\u0080"
	if got := SanitizeText(in); got != "Article 212J" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSanitize_Truncates(t *testing.T) {
	got := Sanitize("  héllo wörld  ", 5)
	if got != "héllo" {
		t.Fatalf("unexpected: %q", got)
	}
	if Sanitize("abc", 0) != "abc" {
		t.Fatalf("no limit should keep input")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{"", "  x  ", "a\x01b\x02c", "What is   Article 21?\n", "long text with trailing space after cut "}
	for _, in := range inputs {
		once := Sanitize(in, 24)
		twice := Sanitize(once, 24)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  What  IS\tArticle\n21? "); got != "what is article 21?" {
		t.Fatalf("unexpected: %q", got)
	}
}
