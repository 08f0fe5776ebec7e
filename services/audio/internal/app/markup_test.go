package app

import "testing"

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Just a sentence.", "Just a sentence."},
		{"markdown headings", "## Chapter One\n\nFirst paragraph.\n", "Chapter One First paragraph."},
		{"bold and underscores", "A **bold** and __underlined__ word.", "A bold and underlined word."},
		{"html tags", "<p>Hello <em>there</em>.</p><p>Again.</p>", "Hello there. Again."},
		{"script dropped", "<p>Keep</p><script>alert(1)</script>", "Keep"},
		{"whitespace collapsed", "a\n\n\n  b\t c", "a b c"},
		{"empty", "   \n\n", ""},
		{"heading only", "## \n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripMarkup(tc.in); got != tc.want {
				t.Fatalf("StripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
