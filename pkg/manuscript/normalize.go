package manuscript

import (
	"strings"

	"storyweave/pkg/domain"
)

// Overrides carries author-supplied metadata that takes precedence over
// whatever the segmenter produced. Pointer fields distinguish "unset" from
// an explicit false.
type Overrides struct {
	Title          string
	Author         string
	Description    string
	Tags           []string
	HasAudio       *bool
	HasChatEnabled *bool
}

// Normalized is the canonical manuscript-metadata object consumed by the
// materializer: segmenter output merged with author overrides.
type Normalized struct {
	domain.Manuscript
	Tags           []string
	HasAudio       bool
	HasChatEnabled bool
}

// Normalize performs a shallow, field-by-field merge of overrides onto the
// segmented manuscript. Chapters are never merged or replaced. The result
// always has at least one chapter.
func Normalize(segmented domain.Manuscript, overrides Overrides) Normalized {
	out := Normalized{Manuscript: segmented}
	if t := strings.TrimSpace(overrides.Title); t != "" {
		out.Title = t
	}
	if a := strings.TrimSpace(overrides.Author); a != "" {
		out.Author = a
	}
	if d := strings.TrimSpace(overrides.Description); d != "" {
		out.Description = d
	}
	out.Tags = NormalizeTags(overrides.Tags)
	if overrides.HasAudio != nil {
		out.HasAudio = *overrides.HasAudio
	}
	if overrides.HasChatEnabled != nil {
		out.HasChatEnabled = *overrides.HasChatEnabled
	}
	if len(out.Chapters) == 0 {
		out.Chapters = []domain.ChapterDraft{{Title: "Chapter 1", Order: 1}}
	}
	return out
}

// NormalizeTags lowercases, trims, and deduplicates tags while preserving
// first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
