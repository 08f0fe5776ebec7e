package manuscript

import (
	"strings"

	"storyweave/pkg/domain"
)

// markdownParser handles Markdown and plain text. The document title comes
// from the first level-1 heading when present, else the filename. Level-2
// headings delimit chapters; body lines keep their terminators so that the
// chapter bodies concatenated in order reproduce the document minus heading
// lines and front matter. Text before the first level-2 heading is excluded
// from chapter bodies on purpose; it still feeds title detection and the
// document word count.
type markdownParser struct {
	format domain.Format
}

func (p markdownParser) Parse(filename string, raw []byte) (domain.Manuscript, error) {
	text := string(raw)
	lines := strings.SplitAfter(text, "\n")

	title := titleFromFilename(filename)
	for _, line := range lines {
		if h, ok := headingText(line, "# "); ok {
			title = h
			break
		}
	}

	var chapters []domain.ChapterDraft
	var body strings.Builder
	current := ""
	inChapter := false
	flush := func() {
		if !inChapter {
			return
		}
		content := body.String()
		chapters = append(chapters, domain.ChapterDraft{
			Title:     current,
			Content:   content,
			WordCount: countWords(content),
			Order:     len(chapters) + 1,
		})
		body.Reset()
	}
	for _, line := range lines {
		if h, ok := headingText(line, "## "); ok {
			flush()
			current = h
			inChapter = true
			continue
		}
		if inChapter {
			body.WriteString(line)
		}
	}
	flush()

	// No level-2 headings at all: the whole document is chapter 1 verbatim.
	if len(chapters) == 0 {
		chapters = append(chapters, domain.ChapterDraft{
			Title:     "Chapter 1",
			Content:   text,
			WordCount: countWords(text),
			Order:     1,
		})
	}

	return domain.Manuscript{
		Title:       title,
		Author:      "Unknown Author",
		Description: "Imported from Markdown file",
		WordCount:   countWords(text),
		Format:      p.format,
		Chapters:    chapters,
	}, nil
}

// headingText reports whether the line (sans terminator) is a heading with
// the given marker and returns the heading text with the marker stripped.
func headingText(line, marker string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, marker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, marker)), true
}
