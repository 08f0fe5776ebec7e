package manuscript

import (
	"fmt"
	"strings"

	"storyweave/pkg/domain"
)

// stubParser recognizes EPUB and DOCX uploads and returns a placeholder
// Manuscript so the rest of the pipeline stays format-agnostic. Real
// container/XML extraction replaces this by registering a parser for the
// same format; nothing downstream changes.
type stubParser struct {
	format domain.Format
}

func (p stubParser) Parse(filename string, _ []byte) (domain.Manuscript, error) {
	var source string
	var wordCount int
	switch p.format {
	case domain.FormatEPUB:
		source = "EPUB file"
		wordCount = 50000
	case domain.FormatDOCX:
		source = "Word document"
		wordCount = 45000
	default:
		return domain.Manuscript{}, fmt.Errorf("%w: %q", ErrUnsupportedType, p.format)
	}
	perChapter := wordCount / 20
	chapters := make([]domain.ChapterDraft, 0, 2)
	for i := 1; i <= 2; i++ {
		chapters = append(chapters, domain.ChapterDraft{
			Title:     fmt.Sprintf("Chapter %d", i),
			Content:   fmt.Sprintf("Content extracted from %s...", strings.ToUpper(string(p.format))),
			WordCount: perChapter,
			Order:     i,
		})
	}
	return domain.Manuscript{
		Title:       titleFromFilename(filename),
		Author:      "Unknown Author",
		Description: "Imported from " + source,
		WordCount:   wordCount,
		Format:      p.format,
		Chapters:    chapters,
	}, nil
}
