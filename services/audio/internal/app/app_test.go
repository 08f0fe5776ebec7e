package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"storyweave/pkg/tts"
	"storyweave/services/audio/internal/bookclient"
)

type fakeBooks struct {
	mu       sync.Mutex
	contexts map[string]bookclient.ChapterContext
	chapters map[string][]bookclient.ChapterRef
	patched  map[string]string
}

func (f *fakeBooks) GetChapterContext(chapterID string) (bookclient.ChapterContext, error) {
	ctx, ok := f.contexts[chapterID]
	if !ok {
		return bookclient.ChapterContext{}, &bookclient.APIError{Status: http.StatusNotFound, Message: "chapter not found"}
	}
	return ctx, nil
}

func (f *fakeBooks) SetChapterAudio(chapterID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patched == nil {
		f.patched = make(map[string]string)
	}
	f.patched[chapterID] = audioURL
	return nil
}

func (f *fakeBooks) ListChapters(_, bookID string) ([]bookclient.ChapterRef, error) {
	refs, ok := f.chapters[bookID]
	if !ok {
		return nil, &bookclient.APIError{Status: http.StatusNotFound, Message: "book not found"}
	}
	return refs, nil
}

type fakeNarrator struct {
	mu     sync.Mutex
	calls  []string
	voices []string
	err    error
}

func (f *fakeNarrator) SynthesizeSpeech(_ context.Context, text, voiceID string, _ map[string]float64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.voices = append(f.voices, voiceID)
	f.mu.Unlock()
	return []byte("mp3:" + text), nil
}

func (f *fakeNarrator) ListVoices(context.Context) ([]tts.Voice, error) {
	return tts.FallbackVoices, nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
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

func newAudioApp(t *testing.T, books *fakeBooks, narrator tts.Narrator) *App {
	t.Helper()
	a, err := New(Config{Books: books, Narrator: narrator, Objects: &fakeObjectStore{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func chapterFixture(id, content, voiceID string) bookclient.ChapterContext {
	return bookclient.ChapterContext{
		ChapterID:      id,
		ChapterTitle:   "Chapter " + id,
		ChapterContent: content,
		BookID:         "book-1",
		BookTitle:      "Digital Renaissance",
		VoiceID:        voiceID,
	}
}

func TestGenerateChapterAudioStripsMarkupAndPatches(t *testing.T) {
	books := &fakeBooks{contexts: map[string]bookclient.ChapterContext{
		"ch-1": chapterFixture("ch-1", "## Heading\n\nSome **bold** prose.\n", "voice-custom"),
	}}
	narrator := &fakeNarrator{}
	a := newAudioApp(t, books, narrator)

	url, err := a.GenerateChapterAudio(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("GenerateChapterAudio: %v", err)
	}
	if !strings.Contains(url, "/audio/book-1/ch-1/") || !strings.HasSuffix(url, ".mp3") {
		t.Fatalf("url = %q", url)
	}
	if books.patched["ch-1"] != url {
		t.Fatalf("patched = %q, want %q", books.patched["ch-1"], url)
	}
	if len(narrator.calls) != 1 {
		t.Fatalf("narrator calls = %d", len(narrator.calls))
	}
	if narrator.calls[0] != "Heading Some bold prose." {
		t.Fatalf("narrated text = %q", narrator.calls[0])
	}
	if narrator.voices[0] != "voice-custom" {
		t.Fatalf("voice = %q", narrator.voices[0])
	}
}

func TestGenerateChapterAudioDefaultsVoice(t *testing.T) {
	books := &fakeBooks{contexts: map[string]bookclient.ChapterContext{
		"ch-1": chapterFixture("ch-1", "plain text", ""),
	}}
	narrator := &fakeNarrator{}
	a := newAudioApp(t, books, narrator)

	if _, err := a.GenerateChapterAudio(context.Background(), "ch-1"); err != nil {
		t.Fatalf("GenerateChapterAudio: %v", err)
	}
	if narrator.voices[0] != tts.FallbackVoices[0].ID {
		t.Fatalf("voice = %q, want default %q", narrator.voices[0], tts.FallbackVoices[0].ID)
	}
}

func TestGenerateChapterAudioEmptyChapter(t *testing.T) {
	books := &fakeBooks{contexts: map[string]bookclient.ChapterContext{
		"ch-1": chapterFixture("ch-1", "   \n## \n", ""),
	}}
	a := newAudioApp(t, books, &fakeNarrator{})

	if _, err := a.GenerateChapterAudio(context.Background(), "ch-1"); !errors.Is(err, ErrNoNarratableText) {
		t.Fatalf("err = %v, want ErrNoNarratableText", err)
	}
}

func TestGenerateChapterAudioUnknownChapter(t *testing.T) {
	a := newAudioApp(t, &fakeBooks{contexts: map[string]bookclient.ChapterContext{}}, &fakeNarrator{})

	if _, err := a.GenerateChapterAudio(context.Background(), "missing"); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}
}

func TestGenerateChapterAudioProviderUnavailable(t *testing.T) {
	books := &fakeBooks{contexts: map[string]bookclient.ChapterContext{
		"ch-1": chapterFixture("ch-1", "text", ""),
	}}
	a := newAudioApp(t, books, &fakeNarrator{err: tts.ErrProviderUnavailable})

	_, err := a.GenerateChapterAudio(context.Background(), "ch-1")
	if !errors.Is(err, tts.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if len(books.patched) != 0 {
		t.Fatalf("chapter patched despite provider failure: %+v", books.patched)
	}
}

func TestGenerateBookAudioRunsAllChapters(t *testing.T) {
	contexts := make(map[string]bookclient.ChapterContext)
	refs := make([]bookclient.ChapterRef, 0, 5)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("ch-%d", i)
		contexts[id] = chapterFixture(id, fmt.Sprintf("chapter %d text", i), "")
		refs = append(refs, bookclient.ChapterRef{ID: id, OrderIndex: i})
	}
	// One chapter with nothing to narrate gets skipped, not failed.
	contexts["ch-3"] = chapterFixture("ch-3", "", "")
	books := &fakeBooks{
		contexts: contexts,
		chapters: map[string][]bookclient.ChapterRef{"book-1": refs},
	}
	a := newAudioApp(t, books, &fakeNarrator{})

	results, err := a.GenerateBookAudio(context.Background(), "token", "book-1")
	if err != nil {
		t.Fatalf("GenerateBookAudio: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4 narrated chapters", len(results))
	}
	if len(books.patched) != 4 {
		t.Fatalf("patched = %d chapters, want 4", len(books.patched))
	}
	if _, ok := books.patched["ch-3"]; ok {
		t.Fatalf("empty chapter should be skipped")
	}
}

func TestGenerateBookAudioUnknownBook(t *testing.T) {
	a := newAudioApp(t, &fakeBooks{chapters: map[string][]bookclient.ChapterRef{}}, &fakeNarrator{})

	if _, err := a.GenerateBookAudio(context.Background(), "token", "missing"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestListVoicesPassesThrough(t *testing.T) {
	a := newAudioApp(t, &fakeBooks{}, &fakeNarrator{})

	voices, err := a.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(tts.FallbackVoices) {
		t.Fatalf("voices = %d, want %d", len(voices), len(tts.FallbackVoices))
	}
}
