package ai

import (
	"context"
	"math/rand"
	"strings"
	"testing"
)

func TestCannedCompleterDeterministic(t *testing.T) {
	c := NewCannedCompleter()
	convo := Context{
		ChapterID:    "ch-1",
		ChapterTitle: "The Spark",
		BookTitle:    "Digital Dreams",
		AuthorName:   "Alex Chen",
	}
	first, err := c.Complete(context.Background(), convo, "What inspired this?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := c.Complete(context.Background(), convo, "What inspired this?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if first != second {
		t.Fatalf("same chapter+message should give same reply:\n%s\n%s", first, second)
	}
	if first == "" {
		t.Fatalf("empty reply")
	}
}

func TestCannedCompleterVariesWithInput(t *testing.T) {
	c := NewCannedCompleter()
	convo := Context{ChapterID: "ch-1", ChapterTitle: "The Spark", BookTitle: "Digital Dreams"}
	seen := make(map[string]struct{})
	for _, msg := range []string{"hello", "why this ending?", "tell me more", "who is the narrator?", "loved it"} {
		reply, err := c.Complete(context.Background(), convo, msg)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		seen[reply] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected varied replies, got %d distinct", len(seen))
	}
}

func TestKeyThemeKeywordMatching(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := map[string]string{
		"the digital shift here":     "human creativity and technology",
		"such a creative structure":  "the evolution of digital expression",
		"what about the future?":     "the future of creative collaboration",
	}
	for msg, want := range cases {
		if got := keyTheme(rng, msg); got != want {
			t.Fatalf("keyTheme(%q) = %q, want %q", msg, got, want)
		}
	}
	if got := keyTheme(rng, "no keywords at all"); !strings.HasPrefix(got, "the") && !strings.HasPrefix(got, "human") {
		t.Fatalf("fallback theme not from pool: %q", got)
	}
}
