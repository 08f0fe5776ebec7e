package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyweave/internal/util"
	"storyweave/pkg/domain"
	"storyweave/pkg/manuscript"
	"storyweave/pkg/storage"
	"storyweave/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioPublicURL string
	MinioUseSSL    bool
}

// App wires the ingestion pipeline, the editor operations, and the reader
// operations over shared storage.
type App struct {
	store   store.Store
	objects storage.ObjectStore
}

// New constructs the application with database-backed metadata storage and
// object storage for uploaded files.
func New(cfg Config) (*App, error) {
	objStore := cfg.Objects
	if objStore == nil {
		var err error
		objStore, err = storage.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioPublicURL, cfg.MinioUseSSL,
			storage.BucketManuscripts, storage.BucketCovers, storage.BucketAudio,
		)
		if err != nil {
			return nil, err
		}
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{store: dataStore, objects: objStore}, nil
}

// ManuscriptUpload carries an uploaded file plus the author-supplied
// metadata overrides from the upload form.
type ManuscriptUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
	Overrides   manuscript.Overrides
}

// UploadManuscript runs the full ingestion pipeline: detect the format,
// archive the original file, segment into chapters, normalize with the
// author's overrides, and materialize Book/Chapter/Tag rows.
func (a *App) UploadManuscript(author domain.User, upload ManuscriptUpload) (domain.Book, error) {
	if strings.TrimSpace(upload.Filename) == "" {
		return domain.Book{}, errors.New("filename required")
	}
	format, err := manuscript.Detect(upload.ContentType, upload.Size)
	if err != nil {
		return domain.Book{}, err
	}
	raw, err := io.ReadAll(upload.Data)
	if err != nil {
		return domain.Book{}, fmt.Errorf("read upload: %w", err)
	}

	bookID := util.NewID()
	key := buildManuscriptKey(bookID, upload.Filename)
	if _, err := a.objects.Put(context.Background(), storage.BucketManuscripts, key,
		bytes.NewReader(raw), int64(len(raw)), upload.ContentType); err != nil {
		return domain.Book{}, fmt.Errorf("archive manuscript: %w", err)
	}

	segmented, err := manuscript.Segment(format, upload.Filename, raw)
	if err != nil {
		_ = a.objects.Delete(context.Background(), storage.BucketManuscripts, key)
		return domain.Book{}, err
	}
	normalized := manuscript.Normalize(segmented, upload.Overrides)

	now := time.Now().UTC()
	authorName := strings.TrimSpace(author.Name)
	if authorName == "" {
		authorName = normalized.Author
	}
	book := domain.Book{
		ID:             bookID,
		Title:          normalized.Title,
		AuthorID:       author.ID,
		AuthorName:     authorName,
		Description:    normalized.Description,
		HasAudio:       normalized.HasAudio,
		HasChatEnabled: normalized.HasChatEnabled,
		Tags:           normalized.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	chapters := make([]domain.Chapter, 0, len(normalized.Chapters))
	for _, draft := range normalized.Chapters {
		chapters = append(chapters, domain.Chapter{
			ID:          util.NewID(),
			BookID:      bookID,
			Title:       draft.Title,
			Content:     draft.Content,
			ChatEnabled: normalized.HasChatEnabled,
			OrderIndex:  draft.Order,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if err := a.store.CreateBookWithChapters(book, chapters, normalized.Tags); err != nil {
		_ = a.objects.Delete(context.Background(), storage.BucketManuscripts, key)
		return domain.Book{}, fmt.Errorf("materialize book: %w", err)
	}
	return book, nil
}

// LibraryQuery narrows the library listing.
type LibraryQuery struct {
	Mine           bool
	HasAudio       *bool
	HasChatEnabled *bool
	Published      *bool
	Tag            string
	Search         string
	Limit          int
	Offset         int
}

// Library lists books. Without Mine, only published books are visible.
func (a *App) Library(user domain.User, q LibraryQuery) ([]domain.Book, error) {
	filter := store.BookFilter{
		HasAudio:       q.HasAudio,
		HasChatEnabled: q.HasChatEnabled,
		Published:      q.Published,
		Tag:            strings.ToLower(strings.TrimSpace(q.Tag)),
		Search:         strings.TrimSpace(q.Search),
	}
	if q.Mine {
		filter.AuthorID = user.ID
	} else if filter.Published == nil {
		published := true
		filter.Published = &published
	}
	return a.store.ListBooks(filter, q.Limit, q.Offset)
}

// GetBook retrieves a book. Drafts are visible only to their author.
func (a *App) GetBook(user domain.User, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if book.PublishedAt == nil && !canEdit(user, book) {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// BookChapters lists a book's chapters in reading order. For readers other
// than the author, the text of exclusive-chat chapters is withheld: those
// chapters are only revealed through conversation.
func (a *App) BookChapters(user domain.User, bookID string) ([]domain.Chapter, error) {
	book, err := a.GetBook(user, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := a.store.ListChapters(bookID)
	if err != nil {
		return nil, err
	}
	if !canEdit(user, book) {
		for i := range chapters {
			if chapters[i].ExclusiveChat {
				chapters[i].Content = ""
			}
		}
	}
	return chapters, nil
}

// GetChapter retrieves one chapter with the same withholding rule as
// BookChapters.
func (a *App) GetChapter(user domain.User, chapterID string) (domain.Chapter, error) {
	chapter, ok, err := a.store.GetChapter(chapterID)
	if err != nil {
		return domain.Chapter{}, err
	}
	if !ok {
		return domain.Chapter{}, ErrChapterNotFound
	}
	book, err := a.GetBook(user, chapter.BookID)
	if err != nil {
		return domain.Chapter{}, err
	}
	if chapter.ExclusiveChat && !canEdit(user, book) {
		chapter.Content = ""
	}
	return chapter, nil
}

// BookEdit is the editor's partial book update.
type BookEdit struct {
	Update store.BookUpdate
	Tags   []string
}

// UpdateBook applies an editor update; author only.
func (a *App) UpdateBook(user domain.User, id string, edit BookEdit) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if !canEdit(user, book) {
		return domain.Book{}, ErrForbidden
	}
	if err := a.store.UpdateBook(id, edit.Update); err != nil {
		return domain.Book{}, err
	}
	if edit.Tags != nil {
		if err := a.store.SetBookTags(id, manuscript.NormalizeTags(edit.Tags)); err != nil {
			return domain.Book{}, err
		}
	}
	book, _, err = a.store.GetBook(id)
	return book, err
}

// PublishBook stamps publishedAt; author only. Publishing an already
// published book refreshes the timestamp, never clears it.
func (a *App) PublishBook(user domain.User, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if !canEdit(user, book) {
		return domain.Book{}, ErrForbidden
	}
	if err := a.store.PublishBook(id, time.Now().UTC()); err != nil {
		return domain.Book{}, err
	}
	book, _, err = a.store.GetBook(id)
	return book, err
}

// DeleteBook removes the book and cascades to chapters, tags, bookmarks,
// chat messages, and reading sessions; author only.
func (a *App) DeleteBook(user domain.User, id string) error {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !canEdit(user, book) {
		return ErrForbidden
	}
	if err := a.store.DeleteBook(id); err != nil {
		return err
	}
	// Blob cleanup is best effort; every object of a book lives under its
	// id prefix in each bucket.
	ctx := context.Background()
	for _, bucket := range []string{storage.BucketManuscripts, storage.BucketCovers, storage.BucketAudio} {
		_ = a.objects.DeletePrefix(ctx, bucket, id+"/")
	}
	return nil
}

// UploadCover stores a cover image and points the book at its public URL.
func (a *App) UploadCover(user domain.User, bookID, filename, contentType string, r io.Reader, size int64) (string, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBookNotFound
	}
	if !canEdit(user, book) {
		return "", ErrForbidden
	}
	key := path.Join(bookID, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	url, err := a.objects.Put(context.Background(), storage.BucketCovers, key, r, size, contentType)
	if err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	if err := a.store.UpdateBook(bookID, store.BookUpdate{CoverURL: &url}); err != nil {
		_ = a.objects.Delete(context.Background(), storage.BucketCovers, key)
		return "", err
	}
	return url, nil
}

// UpdateChapter applies an editor update to a chapter; author only. The
// store rejects updates that would leave exclusiveChat set without
// chatEnabled.
func (a *App) UpdateChapter(user domain.User, chapterID string, update store.ChapterUpdate) (domain.Chapter, error) {
	chapter, ok, err := a.store.GetChapter(chapterID)
	if err != nil {
		return domain.Chapter{}, err
	}
	if !ok {
		return domain.Chapter{}, ErrChapterNotFound
	}
	book, ok, err := a.store.GetBook(chapter.BookID)
	if err != nil {
		return domain.Chapter{}, err
	}
	if !ok {
		return domain.Chapter{}, ErrBookNotFound
	}
	if !canEdit(user, book) {
		return domain.Chapter{}, ErrForbidden
	}
	if err := a.store.UpdateChapter(chapterID, update); err != nil {
		return domain.Chapter{}, err
	}
	chapter, _, err = a.store.GetChapter(chapterID)
	return chapter, err
}

// CreateBookmark saves a bookmark for the calling user.
func (a *App) CreateBookmark(user domain.User, b domain.Bookmark) (domain.Bookmark, error) {
	if _, ok, err := a.store.GetChapter(b.ChapterID); err != nil {
		return domain.Bookmark{}, err
	} else if !ok {
		return domain.Bookmark{}, ErrChapterNotFound
	}
	b.ID = util.NewID()
	b.UserID = user.ID
	b.CreatedAt = time.Now().UTC()
	if err := a.store.SaveBookmark(b); err != nil {
		return domain.Bookmark{}, err
	}
	return b, nil
}

// ListBookmarks returns the caller's bookmarks for a chapter, oldest first.
func (a *App) ListBookmarks(user domain.User, chapterID string) ([]domain.Bookmark, error) {
	return a.store.ListBookmarks(user.ID, chapterID)
}

// DeleteBookmark removes a bookmark owned by the caller.
func (a *App) DeleteBookmark(user domain.User, id string) error {
	if err := a.store.DeleteBookmark(id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookmarkNotFound
		}
		return err
	}
	return nil
}

// SaveReadingSession upserts the caller's progress in a book.
func (a *App) SaveReadingSession(user domain.User, session domain.ReadingSession) (domain.ReadingSession, error) {
	if _, ok, err := a.store.GetBook(session.BookID); err != nil {
		return domain.ReadingSession{}, err
	} else if !ok {
		return domain.ReadingSession{}, ErrBookNotFound
	}
	session.UserID = user.ID
	session.LastAccessed = time.Now().UTC()
	if err := a.store.UpsertReadingSession(session); err != nil {
		return domain.ReadingSession{}, err
	}
	return session, nil
}

// GetReadingSession returns the caller's progress in a book, if any.
func (a *App) GetReadingSession(user domain.User, bookID string) (domain.ReadingSession, bool, error) {
	return a.store.GetReadingSession(user.ID, bookID)
}

// ChapterContext is the chapter surroundings served to the chat and audio
// services over the internal API. Unlike reader endpoints it always carries
// the full chapter text.
type ChapterContext struct {
	ChapterID      string             `json:"chapterId"`
	ChapterTitle   string             `json:"chapterTitle"`
	ChapterContent string             `json:"chapterContent"`
	BookID         string             `json:"bookId"`
	BookTitle      string             `json:"bookTitle"`
	AuthorID       string             `json:"authorId"`
	AuthorName     string             `json:"authorName"`
	ChatEnabled    bool               `json:"chatEnabled"`
	ExclusiveChat  bool               `json:"exclusiveChat"`
	VoiceID        string             `json:"voiceId,omitempty"`
	VoiceSettings  map[string]float64 `json:"voiceSettings,omitempty"`
}

// GetChapterContext serves the internal chapter-context lookup.
func (a *App) GetChapterContext(chapterID string) (ChapterContext, error) {
	chapter, ok, err := a.store.GetChapter(chapterID)
	if err != nil {
		return ChapterContext{}, err
	}
	if !ok {
		return ChapterContext{}, ErrChapterNotFound
	}
	book, ok, err := a.store.GetBook(chapter.BookID)
	if err != nil {
		return ChapterContext{}, err
	}
	if !ok {
		return ChapterContext{}, ErrBookNotFound
	}
	return ChapterContext{
		ChapterID:      chapter.ID,
		ChapterTitle:   chapter.Title,
		ChapterContent: chapter.Content,
		BookID:         book.ID,
		BookTitle:      book.Title,
		AuthorID:       book.AuthorID,
		AuthorName:     book.AuthorName,
		ChatEnabled:    chapter.ChatEnabled,
		ExclusiveChat:  chapter.ExclusiveChat,
		VoiceID:        book.VoiceID,
		VoiceSettings:  book.VoiceSettings,
	}, nil
}

// SetChapterAudio records a generated narration URL on a chapter and marks
// the book as having audio. Called by the audio service.
func (a *App) SetChapterAudio(chapterID, audioURL string) error {
	chapter, ok, err := a.store.GetChapter(chapterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChapterNotFound
	}
	if err := a.store.UpdateChapter(chapterID, store.ChapterUpdate{AudioURL: &audioURL}); err != nil {
		return err
	}
	hasAudio := true
	return a.store.UpdateBook(chapter.BookID, store.BookUpdate{HasAudio: &hasAudio})
}

func canEdit(user domain.User, book domain.Book) bool {
	return book.AuthorID == user.ID || user.Role == domain.RoleAdmin
}

func buildManuscriptKey(bookID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "manuscript"
	}
	return path.Join(bookID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
