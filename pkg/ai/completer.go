package ai

import "context"

// Context carries the chapter and book surroundings of a conversation so the
// provider can answer in the author's voice.
type Context struct {
	ChapterID      string
	ChapterTitle   string
	ChapterContent string
	BookTitle      string
	AuthorName     string
}

// Completer produces the author-persona reply to a reader message.
// All providers (canned, OpenAI-compatible) implement this interface.
type Completer interface {
	Complete(ctx context.Context, convo Context, message string) (string, error)
}
