package manuscript

import (
	"reflect"
	"testing"

	"storyweave/pkg/domain"
)

func boolPtr(v bool) *bool { return &v }

func TestNormalizeOverridePrecedence(t *testing.T) {
	segmented := domain.Manuscript{
		Title:       "Segmented Title",
		Author:      "Unknown Author",
		Description: "Imported from Markdown file",
		Chapters:    []domain.ChapterDraft{{Title: "A", Content: "x", Order: 1}},
	}
	out := Normalize(segmented, Overrides{
		Title:          "Real Title",
		Author:         "Jane Writer",
		Description:    "A better blurb",
		Tags:           []string{"SciFi", "scifi", " Drama "},
		HasAudio:       boolPtr(true),
		HasChatEnabled: boolPtr(false),
	})
	if out.Title != "Real Title" || out.Author != "Jane Writer" || out.Description != "A better blurb" {
		t.Fatalf("override fields lost: %+v", out)
	}
	if !out.HasAudio || out.HasChatEnabled {
		t.Fatalf("flag overrides lost: hasAudio=%v hasChatEnabled=%v", out.HasAudio, out.HasChatEnabled)
	}
	if want := []string{"scifi", "drama"}; !reflect.DeepEqual(out.Tags, want) {
		t.Fatalf("tags = %v, want %v", out.Tags, want)
	}
	// Chapters are never merged.
	if !reflect.DeepEqual(out.Chapters, segmented.Chapters) {
		t.Fatalf("chapters changed by normalize: %+v", out.Chapters)
	}
}

func TestNormalizeUnsetOverridesKeepSegmentedValues(t *testing.T) {
	segmented := domain.Manuscript{
		Title:    "Keep Me",
		Author:   "Unknown Author",
		Chapters: []domain.ChapterDraft{{Title: "A", Order: 1}},
	}
	out := Normalize(segmented, Overrides{})
	if out.Title != "Keep Me" || out.Author != "Unknown Author" {
		t.Fatalf("segmented fields lost: %+v", out)
	}
	if out.HasAudio || out.HasChatEnabled {
		t.Fatalf("flags should default to false")
	}
}

func TestNormalizeGuaranteesChapters(t *testing.T) {
	out := Normalize(domain.Manuscript{Title: "Bare"}, Overrides{})
	if len(out.Chapters) == 0 {
		t.Fatalf("normalize must guarantee a non-empty chapter list")
	}
}
