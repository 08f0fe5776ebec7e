package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"storyweave/pkg/domain"
	"storyweave/pkg/manuscript"
	"storyweave/pkg/store"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.objects[bucket+"/"+key] = data
	f.mu.Unlock()
	return "http://objects.local/" + bucket + "/" + key, nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://objects.local/" + bucket + "/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	delete(f.objects, bucket+"/"+key)
	f.mu.Unlock()
	return nil
}

func (f *fakeObjectStore) DeletePrefix(_ context.Context, bucket, prefix string) error {
	f.mu.Lock()
	for key := range f.objects {
		if strings.HasPrefix(key, bucket+"/"+prefix) {
			delete(f.objects, key)
		}
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeObjectStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read should not happen")
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeObjectStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	objects := newFakeObjectStore()
	a, err := New(Config{Store: mem, Objects: objects})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, mem, objects
}

var (
	author = domain.User{ID: "user-author", Name: "Ada Wells", Role: domain.RoleAuthor}
	reader = domain.User{ID: "user-reader", Name: "Rex", Role: domain.RoleReader}
	admin  = domain.User{ID: "user-admin", Name: "Root", Role: domain.RoleAdmin}
)

func uploadMarkdown(t *testing.T, a *App, content string, overrides manuscript.Overrides) domain.Book {
	t.Helper()
	book, err := a.UploadManuscript(author, ManuscriptUpload{
		Filename:    "draft.md",
		ContentType: "text/markdown",
		Size:        int64(len(content)),
		Data:        strings.NewReader(content),
		Overrides:   overrides,
	})
	if err != nil {
		t.Fatalf("UploadManuscript: %v", err)
	}
	return book
}

func TestUploadManuscriptSegmentsMarkdown(t *testing.T) {
	a, _, objects := newTestApp(t)

	book := uploadMarkdown(t, a, "# My Book\n## Ch1\nHello\n## Ch2\nWorld\n", manuscript.Overrides{})
	if book.Title != "My Book" {
		t.Fatalf("title = %q, want %q", book.Title, "My Book")
	}
	if book.AuthorName != "Ada Wells" {
		t.Fatalf("authorName = %q, want uploader name", book.AuthorName)
	}
	if book.PublishedAt != nil {
		t.Fatalf("new upload must start as draft")
	}

	chapters, err := a.BookChapters(author, book.ID)
	if err != nil {
		t.Fatalf("BookChapters: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chapters))
	}
	if chapters[0].Title != "Ch1" || chapters[0].Content != "Hello\n" {
		t.Fatalf("first chapter = %q/%q", chapters[0].Title, chapters[0].Content)
	}
	if chapters[1].Title != "Ch2" || chapters[1].Content != "World\n" {
		t.Fatalf("second chapter = %q/%q", chapters[1].Title, chapters[1].Content)
	}
	if chapters[0].OrderIndex != 1 || chapters[1].OrderIndex != 2 {
		t.Fatalf("order = %d,%d, want 1,2", chapters[0].OrderIndex, chapters[1].OrderIndex)
	}

	if objects.count() != 1 {
		t.Fatalf("archived objects = %d, want original manuscript only", objects.count())
	}
}

func TestUploadManuscriptRejectsOversizeBeforeRead(t *testing.T) {
	a, _, _ := newTestApp(t)

	_, err := a.UploadManuscript(author, ManuscriptUpload{
		Filename:    "huge.md",
		ContentType: "text/markdown",
		Size:        manuscript.MaxManuscriptBytes + 1,
		Data:        failingReader{},
	})
	if !errors.Is(err, manuscript.ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestUploadManuscriptRejectsUnsupportedType(t *testing.T) {
	a, _, _ := newTestApp(t)

	_, err := a.UploadManuscript(author, ManuscriptUpload{
		Filename:    "payload.bin",
		ContentType: "application/octet-stream",
		Size:        10,
		Data:        strings.NewReader("0123456789"),
	})
	if !errors.Is(err, manuscript.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestUploadManuscriptCleansUpObjectOnMaterializeFailure(t *testing.T) {
	a, mem, objects := newTestApp(t)
	mem.FailChapterInsert = errors.New("chapter insert down")

	_, err := a.UploadManuscript(author, ManuscriptUpload{
		Filename:    "draft.md",
		ContentType: "text/markdown",
		Size:        20,
		Data:        strings.NewReader("# T\n## A\nbody\n"),
	})
	if err == nil {
		t.Fatalf("expected materialize error")
	}
	if objects.count() != 0 {
		t.Fatalf("archived object should be deleted after failed materialize")
	}
}

func TestDraftVisibility(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# Draft\n## One\nx\n", manuscript.Overrides{})

	if _, err := a.GetBook(reader, book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("reader sees draft: err = %v", err)
	}
	if _, err := a.GetBook(author, book.ID); err != nil {
		t.Fatalf("author blocked from own draft: %v", err)
	}
	if _, err := a.GetBook(admin, book.ID); err != nil {
		t.Fatalf("admin blocked from draft: %v", err)
	}

	if _, err := a.PublishBook(author, book.ID); err != nil {
		t.Fatalf("PublishBook: %v", err)
	}
	published, err := a.GetBook(reader, book.ID)
	if err != nil {
		t.Fatalf("reader blocked from published book: %v", err)
	}
	if published.PublishedAt == nil {
		t.Fatalf("publishedAt not set")
	}
}

func TestExclusiveChatContentWithheldFromReaders(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## Secret\nhidden text\n", manuscript.Overrides{})
	if _, err := a.PublishBook(author, book.ID); err != nil {
		t.Fatalf("PublishBook: %v", err)
	}

	chapters, err := a.BookChapters(author, book.ID)
	if err != nil {
		t.Fatalf("BookChapters: %v", err)
	}
	enabled := true
	if _, err := a.UpdateChapter(author, chapters[0].ID, store.ChapterUpdate{
		ChatEnabled:   &enabled,
		ExclusiveChat: &enabled,
	}); err != nil {
		t.Fatalf("UpdateChapter: %v", err)
	}

	got, err := a.GetChapter(reader, chapters[0].ID)
	if err != nil {
		t.Fatalf("GetChapter as reader: %v", err)
	}
	if got.Content != "" {
		t.Fatalf("exclusive-chat content leaked to reader: %q", got.Content)
	}

	got, err = a.GetChapter(author, chapters[0].ID)
	if err != nil {
		t.Fatalf("GetChapter as author: %v", err)
	}
	if got.Content != "hidden text\n" {
		t.Fatalf("author content = %q", got.Content)
	}

	ctx, err := a.GetChapterContext(chapters[0].ID)
	if err != nil {
		t.Fatalf("GetChapterContext: %v", err)
	}
	if ctx.ChapterContent != "hidden text\n" {
		t.Fatalf("internal context must carry full text, got %q", ctx.ChapterContent)
	}
	if !ctx.ExclusiveChat || !ctx.ChatEnabled {
		t.Fatalf("context flags = chat %v exclusive %v", ctx.ChatEnabled, ctx.ExclusiveChat)
	}
}

func TestUpdateBookOwnership(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nx\n", manuscript.Overrides{})

	title := "Stolen"
	if _, err := a.UpdateBook(reader, book.ID, BookEdit{Update: store.BookUpdate{Title: &title}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-author update: err = %v, want ErrForbidden", err)
	}

	title = "Renamed"
	updated, err := a.UpdateBook(author, book.ID, BookEdit{
		Update: store.BookUpdate{Title: &title},
		Tags:   []string{" SciFi ", "scifi", "Essays"},
	})
	if err != nil {
		t.Fatalf("UpdateBook: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("title = %q", updated.Title)
	}
	if len(updated.Tags) != 2 {
		t.Fatalf("tags = %v, want deduped lowercase pair", updated.Tags)
	}

	adminTitle := "Moderated"
	if _, err := a.UpdateBook(admin, book.ID, BookEdit{Update: store.BookUpdate{Title: &adminTitle}}); err != nil {
		t.Fatalf("admin update: %v", err)
	}
}

func TestUploadCoverSetsURL(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nx\n", manuscript.Overrides{})

	url, err := a.UploadCover(author, book.ID, "cover.png", "image/png", strings.NewReader("png-bytes"), 9)
	if err != nil {
		t.Fatalf("UploadCover: %v", err)
	}
	if !strings.Contains(url, "/covers/"+book.ID+"/") {
		t.Fatalf("cover url = %q", url)
	}
	got, err := a.GetBook(author, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if got.CoverURL != url {
		t.Fatalf("coverUrl = %q, want %q", got.CoverURL, url)
	}

	if _, err := a.UploadCover(reader, book.ID, "c.png", "image/png", strings.NewReader("x"), 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-author cover upload: err = %v", err)
	}
}

func TestBookmarkLifecycle(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nsome text here\n", manuscript.Overrides{})
	if _, err := a.PublishBook(author, book.ID); err != nil {
		t.Fatalf("PublishBook: %v", err)
	}
	chapters, err := a.BookChapters(reader, book.ID)
	if err != nil {
		t.Fatalf("BookChapters: %v", err)
	}

	bm, err := a.CreateBookmark(reader, domain.Bookmark{
		ChapterID: chapters[0].ID,
		Type:      domain.BookmarkText,
		Position:  42,
		Content:   "some text",
	})
	if err != nil {
		t.Fatalf("CreateBookmark: %v", err)
	}
	if bm.ID == "" || bm.UserID != reader.ID || bm.CreatedAt.IsZero() {
		t.Fatalf("bookmark not stamped: %+v", bm)
	}

	listed, err := a.ListBookmarks(reader, chapters[0].ID)
	if err != nil {
		t.Fatalf("ListBookmarks: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != bm.ID {
		t.Fatalf("listed = %+v", listed)
	}
	if other, _ := a.ListBookmarks(author, chapters[0].ID); len(other) != 0 {
		t.Fatalf("bookmarks leaked across users: %+v", other)
	}

	if err := a.DeleteBookmark(author, bm.ID); !errors.Is(err, ErrBookmarkNotFound) {
		t.Fatalf("cross-user delete: err = %v", err)
	}
	if err := a.DeleteBookmark(reader, bm.ID); err != nil {
		t.Fatalf("DeleteBookmark: %v", err)
	}
	if err := a.DeleteBookmark(reader, bm.ID); !errors.Is(err, ErrBookmarkNotFound) {
		t.Fatalf("double delete: err = %v", err)
	}

	if _, err := a.CreateBookmark(reader, domain.Bookmark{ChapterID: "missing"}); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("bookmark on missing chapter: err = %v", err)
	}
}

func TestDeleteBookRemovesBlobs(t *testing.T) {
	a, _, objects := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nx\n", manuscript.Overrides{})
	if _, err := a.UploadCover(author, book.ID, "cover.png", "image/png", strings.NewReader("png"), 3); err != nil {
		t.Fatalf("UploadCover: %v", err)
	}
	if objects.count() != 2 {
		t.Fatalf("objects before delete = %d, want manuscript + cover", objects.count())
	}

	if err := a.DeleteBook(reader, book.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-author delete: err = %v", err)
	}
	if err := a.DeleteBook(author, book.ID); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if objects.count() != 0 {
		t.Fatalf("objects after delete = %d, want 0", objects.count())
	}
	if _, err := a.GetBook(author, book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("book survived delete: err = %v", err)
	}
}

func TestReadingSessionUpsert(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nx\n## Two\ny\n", manuscript.Overrides{})

	if _, _, err := a.GetReadingSession(reader, book.ID); err != nil {
		t.Fatalf("GetReadingSession: %v", err)
	}
	if _, ok, _ := a.GetReadingSession(reader, book.ID); ok {
		t.Fatalf("session should not exist yet")
	}

	saved, err := a.SaveReadingSession(reader, domain.ReadingSession{
		BookID:         book.ID,
		CurrentChapter: 1,
		Mode:           domain.ModeText,
		Position:       0.25,
	})
	if err != nil {
		t.Fatalf("SaveReadingSession: %v", err)
	}
	if saved.UserID != reader.ID || saved.LastAccessed.IsZero() {
		t.Fatalf("session not stamped: %+v", saved)
	}

	if _, err := a.SaveReadingSession(reader, domain.ReadingSession{
		BookID:         book.ID,
		CurrentChapter: 2,
		Mode:           domain.ModeAudio,
		Position:       10,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := a.GetReadingSession(reader, book.ID)
	if err != nil || !ok {
		t.Fatalf("GetReadingSession after upsert: ok=%v err=%v", ok, err)
	}
	if got.CurrentChapter != 2 || got.Mode != domain.ModeAudio {
		t.Fatalf("session = %+v, want latest write", got)
	}

	if _, err := a.SaveReadingSession(reader, domain.ReadingSession{BookID: "missing"}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("session on missing book: err = %v", err)
	}
}

func TestLibraryDefaultsToPublished(t *testing.T) {
	a, _, _ := newTestApp(t)

	draft := uploadMarkdown(t, a, "# Draft Only\n## One\nx\n", manuscript.Overrides{})
	published := uploadMarkdown(t, a, "# Published One\n## One\nx\n", manuscript.Overrides{})
	if _, err := a.PublishBook(author, published.ID); err != nil {
		t.Fatalf("PublishBook: %v", err)
	}

	books, err := a.Library(reader, LibraryQuery{})
	if err != nil {
		t.Fatalf("Library: %v", err)
	}
	if len(books) != 1 || books[0].ID != published.ID {
		t.Fatalf("reader library = %+v, want published only", books)
	}

	mine, err := a.Library(author, LibraryQuery{Mine: true})
	if err != nil {
		t.Fatalf("Library mine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("author library = %d books, want 2 (draft %s included)", len(mine), draft.ID)
	}
}

func TestSetChapterAudioMarksBook(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadMarkdown(t, a, "# B\n## One\nx\n", manuscript.Overrides{})
	chapters, err := a.BookChapters(author, book.ID)
	if err != nil {
		t.Fatalf("BookChapters: %v", err)
	}

	audioURL := fmt.Sprintf("http://objects.local/audio/%s/narration.mp3", chapters[0].ID)
	if err := a.SetChapterAudio(chapters[0].ID, audioURL); err != nil {
		t.Fatalf("SetChapterAudio: %v", err)
	}

	chapter, err := a.GetChapter(author, chapters[0].ID)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if chapter.AudioURL != audioURL {
		t.Fatalf("audioUrl = %q", chapter.AudioURL)
	}
	got, err := a.GetBook(author, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if !got.HasAudio {
		t.Fatalf("hasAudio not set after narration")
	}

	if err := a.SetChapterAudio("missing", audioURL); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("missing chapter: err = %v", err)
	}
}
