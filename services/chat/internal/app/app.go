package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyweave/internal/util"
	"storyweave/pkg/ai"
	"storyweave/pkg/domain"
	"storyweave/pkg/store"
	"storyweave/services/chat/internal/bookclient"
)

const synthesisEmpty = "No chat content to synthesize."

// ContextFetcher resolves chapter context from the book service.
type ContextFetcher interface {
	GetChapterContext(chapterID string) (bookclient.ChapterContext, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Books       ContextFetcher
	Completer   ai.Completer

	CompletionProvider string
	CompletionBaseURL  string
	CompletionAPIKey   string
	CompletionModel    string
}

// App wires the conversation engine and the synthesis engine.
type App struct {
	store     store.Store
	books     ContextFetcher
	completer ai.Completer
}

// New constructs the application. With no explicit completer, the provider
// named in config is built: "openai-compat" needs baseURL and model; "canned"
// (the default) answers offline deterministically.
func New(cfg Config) (*App, error) {
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
	if cfg.Books == nil {
		return nil, fmt.Errorf("book service client required")
	}
	completer := cfg.Completer
	if completer == nil {
		provider := strings.ToLower(strings.TrimSpace(cfg.CompletionProvider))
		switch provider {
		case "", "canned":
			completer = ai.NewCannedCompleter()
		case "openai-compat":
			if cfg.CompletionBaseURL == "" || cfg.CompletionModel == "" {
				return nil, fmt.Errorf("openai-compat provider requires baseURL and model")
			}
			completer = ai.NewOpenAICompatCompleter(cfg.CompletionBaseURL, cfg.CompletionAPIKey, cfg.CompletionModel)
		default:
			return nil, fmt.Errorf("unknown completion provider: %s", provider)
		}
	}
	return &App{store: dataStore, books: cfg.Books, completer: completer}, nil
}

// Converse appends the reader's message to the chapter chat log, asks the
// conversational provider for the author-persona reply, appends it, and
// returns it. When the provider fails, the reader's message is kept and the
// turn errors out.
func (a *App) Converse(ctx context.Context, user domain.User, chapterID, message string) (domain.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.ChatMessage{}, ErrMessageRequired
	}
	chapterCtx, err := a.chapterContext(chapterID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !chapterCtx.ChatEnabled {
		return domain.ChatMessage{}, ErrChatDisabled
	}

	if err := a.store.AppendChatMessage(domain.ChatMessage{
		ID:        util.NewID(),
		UserID:    user.ID,
		ChapterID: chapterID,
		Type:      domain.MessageUser,
		Content:   message,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save user message: %w", err)
	}

	reply, err := a.completer.Complete(ctx, ai.Context{
		ChapterID:      chapterCtx.ChapterID,
		ChapterTitle:   chapterCtx.ChapterTitle,
		ChapterContent: chapterCtx.ChapterContent,
		BookTitle:      chapterCtx.BookTitle,
		AuthorName:     chapterCtx.AuthorName,
	}, message)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	botMessage := domain.ChatMessage{
		ID:        util.NewID(),
		UserID:    user.ID,
		ChapterID: chapterID,
		Type:      domain.MessageBot,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	}
	if err := a.store.AppendChatMessage(botMessage); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save bot message: %w", err)
	}
	return botMessage, nil
}

// History returns the caller's chat log for a chapter, oldest first.
func (a *App) History(user domain.User, chapterID string) ([]domain.ChatMessage, error) {
	if _, err := a.chapterContext(chapterID); err != nil {
		return nil, err
	}
	return a.store.ListChatMessages(user.ID, chapterID)
}

// Synthesize condenses the conversation into a Markdown insights document
// built from the bot side of the chat log in chronological order. The result
// is read-only; merging it into chapter content is an explicit editor update.
func (a *App) Synthesize(user domain.User, chapterID string) (string, error) {
	if _, err := a.chapterContext(chapterID); err != nil {
		return "", err
	}
	messages, err := a.store.ListChatMessages(user.ID, chapterID)
	if err != nil {
		return "", err
	}
	var insights []string
	for _, msg := range messages {
		if msg.Type == domain.MessageBot {
			insights = append(insights, msg.Content)
		}
	}
	if len(insights) == 0 {
		return synthesisEmpty, nil
	}

	var sb strings.Builder
	sb.WriteString("## Insights from Our Conversation\n\n")
	sb.WriteString("Through our discussion, several key themes emerged:\n\n")
	for i, insight := range insights {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, insight)
	}
	sb.WriteString("\n\nThese insights expand on the original chapter content and represent the kind of deeper exploration that becomes possible through interactive dialogue.")
	return sb.String(), nil
}

func (a *App) chapterContext(chapterID string) (bookclient.ChapterContext, error) {
	chapterCtx, err := a.books.GetChapterContext(chapterID)
	if err != nil {
		var apiErr *bookclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return bookclient.ChapterContext{}, ErrChapterNotFound
		}
		return bookclient.ChapterContext{}, fmt.Errorf("fetch chapter context: %w", err)
	}
	return chapterCtx, nil
}
