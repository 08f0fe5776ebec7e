package app

import "errors"

var (
	// ErrBookNotFound indicates a lookup by book id matched no row.
	ErrBookNotFound = errors.New("book not found")
	// ErrChapterNotFound indicates a lookup by chapter id matched no row.
	ErrChapterNotFound = errors.New("chapter not found")
	// ErrBookmarkNotFound indicates the bookmark does not exist or belongs
	// to another user.
	ErrBookmarkNotFound = errors.New("bookmark not found")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
)
