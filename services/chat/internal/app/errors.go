package app

import "errors"

var (
	// ErrChapterNotFound indicates the chapter does not exist.
	ErrChapterNotFound = errors.New("chapter not found")
	// ErrChatDisabled indicates the chapter does not allow conversation.
	ErrChatDisabled = errors.New("chat is not enabled for this chapter")
	// ErrMessageRequired indicates an empty reader utterance.
	ErrMessageRequired = errors.New("message required")
	// ErrProviderUnavailable indicates the conversational provider failed
	// for this turn. The reader's message is kept.
	ErrProviderUnavailable = errors.New("chat provider unavailable")
)
