package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"storyweave/pkg/domain"
)

// ErrNotFound is returned by lookups and updates that matched no row.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrExclusiveChatRequiresChat is returned when a write would leave a
// chapter with exclusiveChat set but chatEnabled cleared. The editor UI
// prevents this too; the data layer is the backstop.
var ErrExclusiveChatRequiresChat = errors.New("exclusive chat requires chat enabled")

// BookFilter narrows ListBooks. Pointer fields mean "don't filter".
type BookFilter struct {
	AuthorID       string
	HasAudio       *bool
	HasChatEnabled *bool
	Published      *bool
	Tag            string
	Search         string
}

// BookUpdate applies a partial update; nil fields are left untouched.
// publishedAt is deliberately absent: once set it is never cleared, and
// setting it goes through PublishBook only.
type BookUpdate struct {
	Title          *string
	Description    *string
	CoverURL       *string
	HasAudio       *bool
	HasChatEnabled *bool
	Rating         *float64
	VoiceID        *string
	VoiceSettings  map[string]float64
}

// ChapterUpdate applies a partial chapter update; nil fields are untouched.
type ChapterUpdate struct {
	Title         *string
	Content       *string
	AudioURL      *string
	ChatEnabled   *bool
	ExclusiveChat *bool
}

// Store defines persistence operations for books, chapters, tags, chat
// messages, bookmarks, and reading sessions.
type Store interface {
	// CreateBookWithChapters materializes a manuscript in one logical
	// operation: either the book row and all its chapter/tag rows exist
	// afterwards, or none do.
	CreateBookWithChapters(book domain.Book, chapters []domain.Chapter, tags []string) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks(filter BookFilter, limit, offset int) ([]domain.Book, error)
	UpdateBook(id string, update BookUpdate) error
	SetBookTags(id string, tags []string) error
	PublishBook(id string, at time.Time) error
	DeleteBook(id string) error

	ListChapters(bookID string) ([]domain.Chapter, error)
	GetChapter(id string) (domain.Chapter, bool, error)
	UpdateChapter(id string, update ChapterUpdate) error

	// AppendChatMessage adds to the append-only chat log; messages are
	// never mutated afterwards.
	AppendChatMessage(msg domain.ChatMessage) error
	ListChatMessages(userID, chapterID string) ([]domain.ChatMessage, error)

	SaveBookmark(b domain.Bookmark) error
	ListBookmarks(userID, chapterID string) ([]domain.Bookmark, error)
	DeleteBookmark(id, userID string) error

	UpsertReadingSession(s domain.ReadingSession) error
	GetReadingSession(userID, bookID string) (domain.ReadingSession, bool, error)
}

func validateChapterFlags(chatEnabled, exclusiveChat bool) error {
	if exclusiveChat && !chatEnabled {
		return ErrExclusiveChatRequiresChat
	}
	return nil
}
