package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storyweave/pkg/storage"
	"storyweave/pkg/tts"
	"storyweave/services/audio/internal/bookclient"
)

const defaultBookConcurrency = 3

// BookClient is the subset of the book service the narrator needs.
type BookClient interface {
	GetChapterContext(chapterID string) (bookclient.ChapterContext, error)
	SetChapterAudio(chapterID, audioURL string) error
	ListChapters(token, bookID string) ([]bookclient.ChapterRef, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Books    BookClient
	Narrator tts.Narrator
	Objects  storage.ObjectStore

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioPublicURL string
	MinioUseSSL    bool

	ElevenLabsBaseURL string
	ElevenLabsAPIKey  string

	BookConcurrency int
}

// App generates chapter narration and serves the voice catalogue.
type App struct {
	books       BookClient
	narrator    tts.Narrator
	objects     storage.ObjectStore
	concurrency int
}

// New constructs the application with object storage for generated MP3s.
func New(cfg Config) (*App, error) {
	if cfg.Books == nil {
		return nil, fmt.Errorf("book service client required")
	}
	narrator := cfg.Narrator
	if narrator == nil {
		narrator = tts.NewElevenLabsNarrator(cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey)
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioPublicURL, cfg.MinioUseSSL,
			storage.BucketAudio,
		)
		if err != nil {
			return nil, err
		}
	}
	concurrency := cfg.BookConcurrency
	if concurrency <= 0 {
		concurrency = defaultBookConcurrency
	}
	return &App{
		books:       cfg.Books,
		narrator:    narrator,
		objects:     objects,
		concurrency: concurrency,
	}, nil
}

// GenerateChapterAudio narrates one chapter: fetch the full text through the
// internal context endpoint, strip markup, synthesize speech with the book's
// configured voice, store the MP3, and patch the chapter's audioUrl.
func (a *App) GenerateChapterAudio(ctx context.Context, chapterID string) (string, error) {
	chapterCtx, err := a.books.GetChapterContext(chapterID)
	if err != nil {
		var apiErr *bookclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return "", ErrChapterNotFound
		}
		return "", fmt.Errorf("fetch chapter context: %w", err)
	}

	text := StripMarkup(chapterCtx.ChapterContent)
	if text == "" {
		return "", ErrNoNarratableText
	}
	voiceID := chapterCtx.VoiceID
	if voiceID == "" {
		voiceID = tts.FallbackVoices[0].ID
	}
	audio, err := a.narrator.SynthesizeSpeech(ctx, text, voiceID, chapterCtx.VoiceSettings)
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}

	key := path.Join(chapterCtx.BookID, chapterID, uuid.NewString()+".mp3")
	url, err := a.objects.Put(ctx, storage.BucketAudio, key,
		bytes.NewReader(audio), int64(len(audio)), "audio/mpeg")
	if err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}
	if err := a.books.SetChapterAudio(chapterID, url); err != nil {
		_ = a.objects.Delete(ctx, storage.BucketAudio, key)
		return "", fmt.Errorf("record audio url: %w", err)
	}
	return url, nil
}

// ChapterAudio is one chapter's narration result within a book run.
type ChapterAudio struct {
	ChapterID string `json:"chapterId"`
	AudioURL  string `json:"audioUrl"`
}

// GenerateBookAudio narrates every chapter of a book with bounded
// concurrency. The caller's token scopes the chapter listing; all-or-nothing
// is deliberately not attempted, the first failure cancels outstanding work.
func (a *App) GenerateBookAudio(ctx context.Context, token, bookID string) ([]ChapterAudio, error) {
	chapters, err := a.books.ListChapters(token, bookID)
	if err != nil {
		var apiErr *bookclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("list chapters: %w", err)
	}

	var mu sync.Mutex
	results := make([]ChapterAudio, 0, len(chapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, chapter := range chapters {
		chapter := chapter
		g.Go(func() error {
			url, err := a.GenerateChapterAudio(gctx, chapter.ID)
			if err != nil {
				// Empty chapters are skipped, not fatal for the book run.
				if errors.Is(err, ErrNoNarratableText) {
					return nil
				}
				return fmt.Errorf("chapter %s: %w", chapter.ID, err)
			}
			mu.Lock()
			results = append(results, ChapterAudio{ChapterID: chapter.ID, AudioURL: url})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ChapterID < results[j].ChapterID })
	return results, nil
}

// ListVoices returns the narration voice catalogue; the provider degrades to
// the built-in list when unreachable or unconfigured.
func (a *App) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return a.narrator.ListVoices(ctx)
}
