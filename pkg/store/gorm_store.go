package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"storyweave/pkg/domain"
)

const migrateLockID int64 = 58215821

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent service startups do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&BookModel{},
			&ChapterModel{},
			&TagModel{},
			&ChatMessageModel{},
			&BookmarkModel{},
			&ReadingSessionModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateBookWithChapters materializes a manuscript in one transaction.
func (s *GormStore) CreateBookWithChapters(book domain.Book, chapters []domain.Chapter, tags []string) error {
	for _, ch := range chapters {
		if err := validateChapterFlags(ch.ChatEnabled, ch.ExclusiveChat); err != nil {
			return err
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := bookToModel(book)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		if len(chapters) > 0 {
			models := make([]ChapterModel, 0, len(chapters))
			for _, ch := range chapters {
				models = append(models, chapterToModel(ch))
			}
			if err := tx.CreateInBatches(&models, 200).Error; err != nil {
				return fmt.Errorf("insert chapters: %w", err)
			}
		}
		if len(tags) > 0 {
			models := make([]TagModel, 0, len(tags))
			for _, tag := range tags {
				models = append(models, TagModel{BookID: book.ID, Tag: tag})
			}
			if err := tx.Create(&models).Error; err != nil {
				return fmt.Errorf("insert tags: %w", err)
			}
		}
		return nil
	})
}

// GetBook retrieves a book with its tags.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	tags, err := s.loadTags([]string{id})
	if err != nil {
		return domain.Book{}, false, err
	}
	return bookFromModel(model, tags[id]), true, nil
}

// ListBooks returns books matching the filter, newest first.
func (s *GormStore) ListBooks(filter BookFilter, limit, offset int) ([]domain.Book, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	tx := s.db.Model(&BookModel{}).Order("created_at DESC").Limit(limit).Offset(offset)
	if filter.AuthorID != "" {
		tx = tx.Where("author_id = ?", filter.AuthorID)
	}
	if filter.HasAudio != nil {
		tx = tx.Where("has_audio = ?", *filter.HasAudio)
	}
	if filter.HasChatEnabled != nil {
		tx = tx.Where("has_chat_enabled = ?", *filter.HasChatEnabled)
	}
	if filter.Published != nil {
		if *filter.Published {
			tx = tx.Where("published_at IS NOT NULL")
		} else {
			tx = tx.Where("published_at IS NULL")
		}
	}
	if filter.Tag != "" {
		tx = tx.Where("id IN (?)", s.db.Model(&TagModel{}).Select("book_id").Where("tag = ?", filter.Tag))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		tx = tx.Where("title ILIKE ? OR description ILIKE ?", pattern, pattern)
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	tags, err := s.loadTags(ids)
	if err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m, tags[m.ID]))
	}
	return books, nil
}

func (s *GormStore) loadTags(bookIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}
	var models []TagModel
	if err := s.db.Where("book_id IN ?", bookIDs).Order("tag ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.BookID] = append(out[m.BookID], m.Tag)
	}
	return out, nil
}

// UpdateBook applies a partial update; tags passed in the update replace the
// existing tag rows.
func (s *GormStore) UpdateBook(id string, update BookUpdate) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.CoverURL != nil {
		updates["cover_url"] = *update.CoverURL
	}
	if update.HasAudio != nil {
		updates["has_audio"] = *update.HasAudio
	}
	if update.HasChatEnabled != nil {
		updates["has_chat_enabled"] = *update.HasChatEnabled
	}
	if update.Rating != nil {
		updates["rating"] = *update.Rating
	}
	if update.VoiceID != nil {
		updates["voice_id"] = *update.VoiceID
	}
	if update.VoiceSettings != nil {
		raw, err := json.Marshal(update.VoiceSettings)
		if err != nil {
			return fmt.Errorf("marshal voice settings: %w", err)
		}
		updates["voice_settings"] = raw
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// SetBookTags replaces the tag rows of a book.
func (s *GormStore) SetBookTags(id string, tags []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&TagModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if len(tags) == 0 {
			return nil
		}
		models := make([]TagModel, 0, len(tags))
		for _, tag := range tags {
			models = append(models, TagModel{BookID: id, Tag: tag})
		}
		return tx.Create(&models).Error
	})
}

// PublishBook stamps publishedAt. Nothing ever clears it back to null.
func (s *GormStore) PublishBook(id string, at time.Time) error {
	res := s.db.Model(&BookModel{}).Where("id = ?", id).Updates(map[string]any{
		"published_at": at.UTC(),
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteBook removes the book and everything hanging off it: chapters, tags,
// reading sessions, and the bookmarks and chat messages of its chapters.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chapterIDs []string
		if err := tx.Model(&ChapterModel{}).Where("book_id = ?", id).Pluck("id", &chapterIDs).Error; err != nil {
			return err
		}
		if len(chapterIDs) > 0 {
			if err := tx.Delete(&ChatMessageModel{}, "chapter_id IN ?", chapterIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&BookmarkModel{}, "chapter_id IN ?", chapterIDs).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&ReadingSessionModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&TagModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChapterModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// ListChapters returns a book's chapters in reading order.
func (s *GormStore) ListChapters(bookID string) ([]domain.Chapter, error) {
	var models []ChapterModel
	if err := s.db.Where("book_id = ?", bookID).Order("order_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chapters := make([]domain.Chapter, 0, len(models))
	for _, m := range models {
		chapters = append(chapters, chapterFromModel(m))
	}
	return chapters, nil
}

// GetChapter retrieves a chapter.
func (s *GormStore) GetChapter(id string) (domain.Chapter, bool, error) {
	var model ChapterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chapter{}, false, nil
		}
		return domain.Chapter{}, false, err
	}
	return chapterFromModel(model), true, nil
}

// UpdateChapter applies a partial update after validating the
// exclusive-chat invariant against the resulting state.
func (s *GormStore) UpdateChapter(id string, update ChapterUpdate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model ChapterModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		chatEnabled := model.ChatEnabled
		exclusiveChat := model.ExclusiveChat
		if update.ChatEnabled != nil {
			chatEnabled = *update.ChatEnabled
		}
		if update.ExclusiveChat != nil {
			exclusiveChat = *update.ExclusiveChat
		}
		if err := validateChapterFlags(chatEnabled, exclusiveChat); err != nil {
			return err
		}
		updates := map[string]any{
			"chat_enabled":   chatEnabled,
			"exclusive_chat": exclusiveChat,
			"updated_at":     time.Now().UTC(),
		}
		if update.Title != nil {
			updates["title"] = *update.Title
		}
		if update.Content != nil {
			updates["content"] = *update.Content
		}
		if update.AudioURL != nil {
			updates["audio_url"] = *update.AudioURL
		}
		return tx.Model(&ChapterModel{}).Where("id = ?", id).Updates(updates).Error
	})
}

// AppendChatMessage records one side of a chat turn.
func (s *GormStore) AppendChatMessage(msg domain.ChatMessage) error {
	model := chatMessageToModel(msg)
	return s.db.Create(&model).Error
}

// ListChatMessages returns the full conversation for (userID, chapterID) in
// chronological order.
func (s *GormStore) ListChatMessages(userID, chapterID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Where("user_id = ? AND chapter_id = ?", userID, chapterID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, chatMessageFromModel(m))
	}
	return msgs, nil
}

// SaveBookmark stores a bookmark.
func (s *GormStore) SaveBookmark(b domain.Bookmark) error {
	model := bookmarkToModel(b)
	return s.db.Create(&model).Error
}

// ListBookmarks returns a user's bookmarks for a chapter, oldest first.
func (s *GormStore) ListBookmarks(userID, chapterID string) ([]domain.Bookmark, error) {
	var models []BookmarkModel
	if err := s.db.Where("user_id = ? AND chapter_id = ?", userID, chapterID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Bookmark, 0, len(models))
	for _, m := range models {
		out = append(out, bookmarkFromModel(m))
	}
	return out, nil
}

// DeleteBookmark removes a bookmark owned by the user.
func (s *GormStore) DeleteBookmark(id, userID string) error {
	res := s.db.Delete(&BookmarkModel{}, "id = ? AND user_id = ?", id, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpsertReadingSession creates or refreshes the per-(user, book) session row.
func (s *GormStore) UpsertReadingSession(session domain.ReadingSession) error {
	model := readingSessionToModel(session)
	return s.db.Save(&model).Error
}

// GetReadingSession returns the session for (userID, bookID).
func (s *GormStore) GetReadingSession(userID, bookID string) (domain.ReadingSession, bool, error) {
	var model ReadingSessionModel
	if err := s.db.First(&model, "user_id = ? AND book_id = ?", userID, bookID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReadingSession{}, false, nil
		}
		return domain.ReadingSession{}, false, err
	}
	return readingSessionFromModel(model), true, nil
}

func bookToModel(b domain.Book) BookModel {
	var settings []byte
	if len(b.VoiceSettings) > 0 {
		settings, _ = json.Marshal(b.VoiceSettings)
	}
	return BookModel{
		ID:             b.ID,
		Title:          b.Title,
		AuthorID:       b.AuthorID,
		AuthorName:     b.AuthorName,
		CoverURL:       b.CoverURL,
		Description:    b.Description,
		HasAudio:       b.HasAudio,
		HasChatEnabled: b.HasChatEnabled,
		PublishedAt:    b.PublishedAt,
		Rating:         b.Rating,
		VoiceID:        b.VoiceID,
		VoiceSettings:  settings,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func bookFromModel(m BookModel, tags []string) domain.Book {
	var settings map[string]float64
	if len(m.VoiceSettings) > 0 {
		_ = json.Unmarshal(m.VoiceSettings, &settings)
	}
	if tags == nil {
		tags = []string{}
	}
	return domain.Book{
		ID:             m.ID,
		Title:          m.Title,
		AuthorID:       m.AuthorID,
		AuthorName:     m.AuthorName,
		CoverURL:       m.CoverURL,
		Description:    m.Description,
		HasAudio:       m.HasAudio,
		HasChatEnabled: m.HasChatEnabled,
		PublishedAt:    m.PublishedAt,
		Rating:         m.Rating,
		Tags:           tags,
		VoiceID:        m.VoiceID,
		VoiceSettings:  settings,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func chapterToModel(c domain.Chapter) ChapterModel {
	return ChapterModel{
		ID:            c.ID,
		BookID:        c.BookID,
		Title:         c.Title,
		Content:       c.Content,
		AudioURL:      c.AudioURL,
		ChatEnabled:   c.ChatEnabled,
		ExclusiveChat: c.ExclusiveChat,
		OrderIndex:    c.OrderIndex,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func chapterFromModel(m ChapterModel) domain.Chapter {
	return domain.Chapter{
		ID:            m.ID,
		BookID:        m.BookID,
		Title:         m.Title,
		Content:       m.Content,
		AudioURL:      m.AudioURL,
		ChatEnabled:   m.ChatEnabled,
		ExclusiveChat: m.ExclusiveChat,
		OrderIndex:    m.OrderIndex,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func chatMessageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:        msg.ID,
		UserID:    msg.UserID,
		ChapterID: msg.ChapterID,
		Type:      string(msg.Type),
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}
}

func chatMessageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		ChapterID: m.ChapterID,
		Type:      domain.MessageType(m.Type),
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

func bookmarkToModel(b domain.Bookmark) BookmarkModel {
	return BookmarkModel{
		ID:        b.ID,
		UserID:    b.UserID,
		ChapterID: b.ChapterID,
		Type:      string(b.Type),
		Position:  b.Position,
		Content:   b.Content,
		Note:      b.Note,
		CreatedAt: b.CreatedAt,
	}
}

func bookmarkFromModel(m BookmarkModel) domain.Bookmark {
	return domain.Bookmark{
		ID:        m.ID,
		UserID:    m.UserID,
		ChapterID: m.ChapterID,
		Type:      domain.BookmarkType(m.Type),
		Position:  m.Position,
		Content:   m.Content,
		Note:      m.Note,
		CreatedAt: m.CreatedAt,
	}
}

func readingSessionToModel(s domain.ReadingSession) ReadingSessionModel {
	return ReadingSessionModel{
		UserID:         s.UserID,
		BookID:         s.BookID,
		CurrentChapter: s.CurrentChapter,
		Mode:           string(s.Mode),
		Position:       s.Position,
		LastAccessed:   s.LastAccessed,
	}
}

func readingSessionFromModel(m ReadingSessionModel) domain.ReadingSession {
	return domain.ReadingSession{
		UserID:         m.UserID,
		BookID:         m.BookID,
		CurrentChapter: m.CurrentChapter,
		Mode:           domain.ReadingMode(m.Mode),
		Position:       m.Position,
		LastAccessed:   m.LastAccessed,
	}
}
