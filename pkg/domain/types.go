package domain

import "time"

// Format identifies the declared manuscript file format.
type Format string

const (
	FormatEPUB      Format = "epub"
	FormatDOCX      Format = "docx"
	FormatMarkdown  Format = "markdown"
	FormatPlaintext Format = "plaintext"
)

type UserRole string

const (
	RoleAuthor UserRole = "author"
	RoleReader UserRole = "reader"
	RoleAdmin  UserRole = "admin"
)

// User is the identity resolved from the external auth service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manuscript is the ephemeral normalized representation of an uploaded
// document. It exists between segmentation and materialization and is never
// persisted as its own entity.
type Manuscript struct {
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	Description string         `json:"description"`
	WordCount   int            `json:"wordCount"`
	Format      Format         `json:"format"`
	Chapters    []ChapterDraft `json:"chapters"`
}

// ChapterDraft is one segmented chapter prior to persistence. Order is a
// dense 1-based sequence matching document position.
type ChapterDraft struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
	Order     int    `json:"order"`
}

type Book struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	AuthorID       string             `json:"authorId"`
	AuthorName     string             `json:"authorName"`
	CoverURL       string             `json:"coverUrl,omitempty"`
	Description    string             `json:"description"`
	HasAudio       bool               `json:"hasAudio"`
	HasChatEnabled bool               `json:"hasChatEnabled"`
	PublishedAt    *time.Time         `json:"publishedAt,omitempty"`
	Rating         *float64           `json:"rating,omitempty"`
	Tags           []string           `json:"tags"`
	VoiceID        string             `json:"voiceId,omitempty"`
	VoiceSettings  map[string]float64 `json:"voiceSettings,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type Chapter struct {
	ID            string    `json:"id"`
	BookID        string    `json:"bookId"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	AudioURL      string    `json:"audioUrl,omitempty"`
	ChatEnabled   bool      `json:"chatEnabled"`
	ExclusiveChat bool      `json:"exclusiveChat"`
	OrderIndex    int       `json:"orderIndex"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MessageType distinguishes the two sides of a chat turn.
type MessageType string

const (
	MessageUser MessageType = "user"
	MessageBot  MessageType = "bot"
)

// ChatMessage is one entry of the append-only chapter chat log. A
// conversation is the full timestamp-ordered sequence for one
// (userID, chapterID) pair.
type ChatMessage struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	ChapterID string      `json:"chapterId"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// BookmarkType selects the position semantics of a bookmark: character
// offset for text, elapsed seconds for audio, message index for chat.
type BookmarkType string

const (
	BookmarkText  BookmarkType = "text"
	BookmarkAudio BookmarkType = "audio"
	BookmarkChat  BookmarkType = "chat"
)

type Bookmark struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	ChapterID string       `json:"chapterId"`
	Type      BookmarkType `json:"type"`
	Position  float64      `json:"position"`
	Content   string       `json:"content,omitempty"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ReadingMode is how a reader is currently consuming a book.
type ReadingMode string

const (
	ModeText  ReadingMode = "text"
	ModeAudio ReadingMode = "audio"
	ModeChat  ReadingMode = "chat"
)

// ReadingSession tracks per-user progress in a book; one row per
// (userID, bookID), upserted as the reader moves.
type ReadingSession struct {
	UserID         string      `json:"userId"`
	BookID         string      `json:"bookId"`
	CurrentChapter int         `json:"currentChapter"`
	Mode           ReadingMode `json:"mode"`
	Position       float64     `json:"position"`
	LastAccessed   time.Time   `json:"lastAccessed"`
}
