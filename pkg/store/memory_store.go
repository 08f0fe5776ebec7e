package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"storyweave/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local
// development; the failure hooks let tests fault-inject individual steps of
// the materializer.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]domain.Book
	chapters  map[string]domain.Chapter
	tags      map[string][]string
	messages  map[string][]domain.ChatMessage // key: userID + "/" + chapterID
	bookmarks map[string]domain.Bookmark
	sessions  map[string]domain.ReadingSession // key: userID + "/" + bookID
	bookOrder []string

	// Failure hooks for fault-injection tests; when non-nil the
	// corresponding materializer step fails with the given error.
	FailChapterInsert error
	FailTagInsert     error
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]domain.Book),
		chapters:  make(map[string]domain.Chapter),
		tags:      make(map[string][]string),
		messages:  make(map[string][]domain.ChatMessage),
		bookmarks: make(map[string]domain.Bookmark),
		sessions:  make(map[string]domain.ReadingSession),
	}
}

func convKey(userID, otherID string) string { return userID + "/" + otherID }

// CreateBookWithChapters mirrors the transactional materializer: on a failed
// step nothing remains.
func (m *MemoryStore) CreateBookWithChapters(book domain.Book, chapters []domain.Chapter, tags []string) error {
	for _, ch := range chapters {
		if err := validateChapterFlags(ch.ChatEnabled, ch.ExclusiveChat); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailChapterInsert != nil {
		return m.FailChapterInsert
	}
	if m.FailTagInsert != nil {
		return m.FailTagInsert
	}
	m.books[book.ID] = book
	m.bookOrder = append(m.bookOrder, book.ID)
	for _, ch := range chapters {
		m.chapters[ch.ID] = ch
	}
	if len(tags) > 0 {
		m.tags[book.ID] = append([]string(nil), tags...)
	}
	return nil
}

// GetBook retrieves a book with its tags.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	book.Tags = append([]string{}, m.tags[id]...)
	return book, true, nil
}

// ListBooks filters and paginates, newest first.
func (m *MemoryStore) ListBooks(filter BookFilter, limit, offset int) ([]domain.Book, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Book, 0, len(m.books))
	for _, id := range m.bookOrder {
		book, ok := m.books[id]
		if !ok {
			continue
		}
		book.Tags = append([]string{}, m.tags[id]...)
		if m.matches(book, filter) {
			matched = append(matched, book)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return []domain.Book{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *MemoryStore) matches(book domain.Book, filter BookFilter) bool {
	if filter.AuthorID != "" && book.AuthorID != filter.AuthorID {
		return false
	}
	if filter.HasAudio != nil && book.HasAudio != *filter.HasAudio {
		return false
	}
	if filter.HasChatEnabled != nil && book.HasChatEnabled != *filter.HasChatEnabled {
		return false
	}
	if filter.Published != nil && (book.PublishedAt != nil) != *filter.Published {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, tag := range book.Tags {
			if tag == filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Search != "" {
		if !containsFold(book.Title, filter.Search) && !containsFold(book.Description, filter.Search) {
			return false
		}
	}
	return true
}

// UpdateBook applies a partial update.
func (m *MemoryStore) UpdateBook(id string, update BookUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if update.Title != nil {
		book.Title = *update.Title
	}
	if update.Description != nil {
		book.Description = *update.Description
	}
	if update.CoverURL != nil {
		book.CoverURL = *update.CoverURL
	}
	if update.HasAudio != nil {
		book.HasAudio = *update.HasAudio
	}
	if update.HasChatEnabled != nil {
		book.HasChatEnabled = *update.HasChatEnabled
	}
	if update.Rating != nil {
		book.Rating = update.Rating
	}
	if update.VoiceID != nil {
		book.VoiceID = *update.VoiceID
	}
	if update.VoiceSettings != nil {
		book.VoiceSettings = update.VoiceSettings
	}
	book.UpdatedAt = time.Now().UTC()
	m.books[id] = book
	return nil
}

// SetBookTags replaces a book's tags.
func (m *MemoryStore) SetBookTags(id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.tags[id] = append([]string(nil), tags...)
	return nil
}

// PublishBook stamps publishedAt; never cleared afterwards.
func (m *MemoryStore) PublishBook(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	at = at.UTC()
	book.PublishedAt = &at
	book.UpdatedAt = time.Now().UTC()
	m.books[id] = book
	return nil
}

// DeleteBook removes the book and cascades to chapters, tags, sessions,
// bookmarks, and chat messages.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return nil
	}
	chapterIDs := make(map[string]struct{})
	for chID, ch := range m.chapters {
		if ch.BookID == id {
			chapterIDs[chID] = struct{}{}
			delete(m.chapters, chID)
		}
	}
	for key := range m.messages {
		for chID := range chapterIDs {
			if keyHasSuffixID(key, chID) {
				delete(m.messages, key)
			}
		}
	}
	for bmID, bm := range m.bookmarks {
		if _, ok := chapterIDs[bm.ChapterID]; ok {
			delete(m.bookmarks, bmID)
		}
	}
	for key, session := range m.sessions {
		if session.BookID == id {
			delete(m.sessions, key)
		}
	}
	delete(m.tags, id)
	delete(m.books, id)
	for i, orderedID := range m.bookOrder {
		if orderedID == id {
			m.bookOrder = append(m.bookOrder[:i], m.bookOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ListChapters returns chapters of a book in reading order.
func (m *MemoryStore) ListChapters(bookID string) ([]domain.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Chapter, 0)
	for _, ch := range m.chapters {
		if ch.BookID == bookID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// GetChapter retrieves a chapter.
func (m *MemoryStore) GetChapter(id string) (domain.Chapter, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.chapters[id]
	return ch, ok, nil
}

// UpdateChapter applies a partial update enforcing the exclusive-chat
// invariant on the resulting state.
func (m *MemoryStore) UpdateChapter(id string, update ChapterUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chapters[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	chatEnabled := ch.ChatEnabled
	exclusiveChat := ch.ExclusiveChat
	if update.ChatEnabled != nil {
		chatEnabled = *update.ChatEnabled
	}
	if update.ExclusiveChat != nil {
		exclusiveChat = *update.ExclusiveChat
	}
	if err := validateChapterFlags(chatEnabled, exclusiveChat); err != nil {
		return err
	}
	ch.ChatEnabled = chatEnabled
	ch.ExclusiveChat = exclusiveChat
	if update.Title != nil {
		ch.Title = *update.Title
	}
	if update.Content != nil {
		ch.Content = *update.Content
	}
	if update.AudioURL != nil {
		ch.AudioURL = *update.AudioURL
	}
	ch.UpdatedAt = time.Now().UTC()
	m.chapters[id] = ch
	return nil
}

// AppendChatMessage appends to the conversation log.
func (m *MemoryStore) AppendChatMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := convKey(msg.UserID, msg.ChapterID)
	m.messages[key] = append(m.messages[key], msg)
	return nil
}

// ListChatMessages returns the conversation in chronological order.
func (m *MemoryStore) ListChatMessages(userID, chapterID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[convKey(userID, chapterID)]
	out := append([]domain.ChatMessage(nil), msgs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SaveBookmark stores a bookmark.
func (m *MemoryStore) SaveBookmark(b domain.Bookmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks[b.ID] = b
	return nil
}

// ListBookmarks returns a user's bookmarks for a chapter, oldest first.
func (m *MemoryStore) ListBookmarks(userID, chapterID string) ([]domain.Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Bookmark, 0)
	for _, bm := range m.bookmarks {
		if bm.UserID == userID && bm.ChapterID == chapterID {
			out = append(out, bm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteBookmark removes a bookmark owned by the user.
func (m *MemoryStore) DeleteBookmark(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bm, ok := m.bookmarks[id]
	if !ok || bm.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(m.bookmarks, id)
	return nil
}

// UpsertReadingSession creates or refreshes the session row.
func (m *MemoryStore) UpsertReadingSession(session domain.ReadingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[convKey(session.UserID, session.BookID)] = session
	return nil
}

// GetReadingSession returns the session for (userID, bookID).
func (m *MemoryStore) GetReadingSession(userID, bookID string) (domain.ReadingSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[convKey(userID, bookID)]
	return session, ok, nil
}

func keyHasSuffixID(key, id string) bool {
	return strings.HasSuffix(key, "/"+id)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
