package app

import "errors"

var (
	// ErrChapterNotFound indicates the chapter does not exist.
	ErrChapterNotFound = errors.New("chapter not found")
	// ErrBookNotFound indicates the book does not exist or is not visible.
	ErrBookNotFound = errors.New("book not found")
	// ErrNoNarratableText indicates the chapter has no text left after
	// markup stripping.
	ErrNoNarratableText = errors.New("chapter has no narratable text")
)
