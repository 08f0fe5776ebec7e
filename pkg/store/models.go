package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID             string `gorm:"primaryKey"`
	Title          string `gorm:"not null"`
	AuthorID       string `gorm:"not null;index"`
	AuthorName     string
	CoverURL       string
	Description    string `gorm:"type:text"`
	HasAudio       bool   `gorm:"not null"`
	HasChatEnabled bool   `gorm:"not null"`
	PublishedAt    *time.Time `gorm:"index"`
	Rating         *float64
	VoiceID        string
	VoiceSettings  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

type ChapterModel struct {
	ID            string `gorm:"primaryKey"`
	BookID        string `gorm:"not null;index;uniqueIndex:idx_chapter_book_order,priority:1"`
	Title         string `gorm:"not null"`
	Content       string `gorm:"type:text"`
	AudioURL      string
	ChatEnabled   bool `gorm:"not null"`
	ExclusiveChat bool `gorm:"not null"`
	OrderIndex    int  `gorm:"not null;uniqueIndex:idx_chapter_book_order,priority:2"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type TagModel struct {
	BookID string `gorm:"primaryKey"`
	Tag    string `gorm:"primaryKey"`
}

type ChatMessageModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index:idx_chat_user_chapter,priority:1"`
	ChapterID string    `gorm:"not null;index:idx_chat_user_chapter,priority:2"`
	Type      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type BookmarkModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index:idx_bookmark_user_chapter,priority:1"`
	ChapterID string `gorm:"not null;index:idx_bookmark_user_chapter,priority:2"`
	Type      string `gorm:"not null"`
	Position  float64
	Content   string
	Note      string
	CreatedAt time.Time `gorm:"not null"`
}

type ReadingSessionModel struct {
	UserID         string `gorm:"primaryKey"`
	BookID         string `gorm:"primaryKey"`
	CurrentChapter int
	Mode           string
	Position       float64
	LastAccessed   time.Time `gorm:"not null"`
}
