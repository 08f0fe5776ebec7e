package manuscript

import (
	"fmt"
	"path/filepath"
	"strings"

	"storyweave/pkg/domain"
)

// FormatParser turns raw manuscript bytes into the format-independent
// Manuscript representation. One parser is registered per format; adding a
// real EPUB or DOCX parser later means replacing the stub behind the same
// contract without touching any caller of Segment.
type FormatParser interface {
	Parse(filename string, raw []byte) (domain.Manuscript, error)
}

var parsers = map[domain.Format]FormatParser{
	domain.FormatMarkdown:  markdownParser{format: domain.FormatMarkdown},
	domain.FormatPlaintext: markdownParser{format: domain.FormatPlaintext},
	domain.FormatEPUB:      stubParser{format: domain.FormatEPUB},
	domain.FormatDOCX:      stubParser{format: domain.FormatDOCX},
}

// Segment dispatches raw manuscript bytes to the parser for the detected
// format. Every parser guarantees at least one chapter, so downstream
// consumers never see an empty chapter list.
func Segment(format domain.Format, filename string, raw []byte) (domain.Manuscript, error) {
	if len(raw) == 0 {
		return domain.Manuscript{}, fmt.Errorf("%w: empty document", ErrParseFailure)
	}
	parser, ok := parsers[format]
	if !ok {
		return domain.Manuscript{}, fmt.Errorf("%w: %q", ErrUnsupportedType, format)
	}
	m, err := parser.Parse(filename, raw)
	if err != nil {
		return domain.Manuscript{}, err
	}
	if len(m.Chapters) == 0 {
		return domain.Manuscript{}, fmt.Errorf("%w: no chapters produced", ErrParseFailure)
	}
	return m, nil
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" {
		return "Untitled"
	}
	return title
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
