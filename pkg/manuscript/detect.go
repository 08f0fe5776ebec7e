package manuscript

import (
	"errors"
	"fmt"

	"storyweave/pkg/domain"
)

// MaxManuscriptBytes is the upload ceiling; anything larger is rejected
// before a single content byte is read.
const MaxManuscriptBytes = 50 * 1024 * 1024

const (
	mimeEPUB      = "application/epub+zip"
	mimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeMarkdown  = "text/markdown"
	mimePlaintext = "text/plain"
)

var (
	// ErrUnsupportedType means the declared MIME type is not one of the four
	// accepted manuscript formats.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrFileTooLarge means the upload exceeds MaxManuscriptBytes.
	ErrFileTooLarge = errors.New("file too large")
	// ErrParseFailure means the segmenter could not produce any chapter.
	ErrParseFailure = errors.New("manuscript parse failure")
)

// Detect classifies an upload by its declared MIME type and size. The
// declared type is trusted as-is; content sniffing is not performed, so a
// mislabeled upload reaches the parser matched to the wrong format.
func Detect(declaredType string, size int64) (domain.Format, error) {
	if size > MaxManuscriptBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrFileTooLarge, size, MaxManuscriptBytes)
	}
	switch declaredType {
	case mimeEPUB:
		return domain.FormatEPUB, nil
	case mimeDOCX:
		return domain.FormatDOCX, nil
	case mimeMarkdown:
		return domain.FormatMarkdown, nil
	case mimePlaintext:
		return domain.FormatPlaintext, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, declaredType)
	}
}
