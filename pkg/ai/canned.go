package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
)

// CannedCompleter answers from a fixed pool of author-persona templates. It
// needs no network or API key, which makes it the default provider for local
// development and tests. Responses are deterministic for a given
// (chapter, message) pair: the pick is seeded from a hash of both.
type CannedCompleter struct{}

// NewCannedCompleter returns the offline completion provider.
func NewCannedCompleter() *CannedCompleter { return &CannedCompleter{} }

var cannedThemes = []string{
	"human creativity and technology",
	"the evolution of digital expression",
	"the intersection of art and innovation",
	"the future of creative collaboration",
	"the democratization of creative tools",
	"the balance between efficiency and authenticity",
}

var cannedInsights = []string{
	"my own experiences with emerging creative technologies",
	"conversations with artists and technologists",
	"observing how creative communities adapt to new tools",
	"research into the history of creative innovation",
	"the changing relationship between creators and their audiences",
}

var cannedThoughts = []string{
	"how traditional creative processes are being transformed",
	"the importance of maintaining human agency in creative work",
	"the potential for technology to amplify rather than replace creativity",
	"the ethical implications of AI in creative fields",
	"how we can preserve authenticity in an increasingly digital world",
}

// Complete implements Completer.
func (c *CannedCompleter) Complete(_ context.Context, convo Context, message string) (string, error) {
	rng := rand.New(rand.NewSource(seedFor(convo.ChapterID, message)))
	theme := keyTheme(rng, message)
	responses := []string{
		fmt.Sprintf("That's a fascinating perspective on %q! In this chapter, I explore how %s relates to the broader themes of %s.",
			convo.ChapterTitle, theme, convo.BookTitle),
		fmt.Sprintf("Great question about this section! What you're noticing here connects to the deeper meaning I was trying to convey about %s. Let me elaborate on that...",
			theme),
		fmt.Sprintf("I'm glad you brought that up! This particular part of %q was inspired by %s. What aspects resonate most with you?",
			convo.ChapterTitle, cannedInsights[rng.Intn(len(cannedInsights))]),
		fmt.Sprintf("Interesting observation! In writing this chapter, I wanted readers to consider %s. How does this connect with your own experiences?",
			cannedThoughts[rng.Intn(len(cannedThoughts))]),
		fmt.Sprintf("That's exactly the kind of thinking I hoped this chapter would inspire! The relationship between %s and the overall narrative is something I explore further in later chapters.",
			theme),
	}
	return responses[rng.Intn(len(responses))], nil
}

// keyTheme matches the reader's message against a few keyword buckets and
// falls back to a seeded pick.
func keyTheme(rng *rand.Rand, message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "technology") || strings.Contains(lower, "digital"):
		return cannedThemes[0]
	case strings.Contains(lower, "creative") || strings.Contains(lower, "art"):
		return cannedThemes[1]
	case strings.Contains(lower, "future") || strings.Contains(lower, "innovation"):
		return cannedThemes[3]
	}
	return cannedThemes[rng.Intn(len(cannedThemes))]
}

func seedFor(chapterID, message string) int64 {
	h := fnv.New64a()
	h.Write([]byte(chapterID))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return int64(h.Sum64())
}
