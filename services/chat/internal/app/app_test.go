package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"storyweave/pkg/ai"
	"storyweave/pkg/domain"
	"storyweave/pkg/store"
	"storyweave/services/chat/internal/bookclient"
)

type fakeBooks struct {
	contexts map[string]bookclient.ChapterContext
}

func (f *fakeBooks) GetChapterContext(chapterID string) (bookclient.ChapterContext, error) {
	ctx, ok := f.contexts[chapterID]
	if !ok {
		return bookclient.ChapterContext{}, &bookclient.APIError{Status: http.StatusNotFound, Message: "chapter not found"}
	}
	return ctx, nil
}

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, ai.Context, string) (string, error) {
	return "", errors.New("provider down")
}

var reader = domain.User{ID: "user-1", Name: "Rex", Role: domain.RoleReader}

func newChatApp(t *testing.T, completer ai.Completer) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	books := &fakeBooks{contexts: map[string]bookclient.ChapterContext{
		"ch-open": {
			ChapterID:      "ch-open",
			ChapterTitle:   "The Digital Canvas",
			ChapterContent: "Full chapter text.",
			BookID:         "book-1",
			BookTitle:      "Digital Renaissance",
			AuthorName:     "Ada Wells",
			ChatEnabled:    true,
		},
		"ch-closed": {
			ChapterID:    "ch-closed",
			ChapterTitle: "Quiet Chapter",
			BookID:       "book-1",
			BookTitle:    "Digital Renaissance",
			ChatEnabled:  false,
		},
	}}
	a, err := New(Config{Store: mem, Books: books, Completer: completer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, mem
}

func TestConverseAppendsUserAndBotMessages(t *testing.T) {
	a, mem := newChatApp(t, ai.NewCannedCompleter())

	reply, err := a.Converse(context.Background(), reader, "ch-open", "What about technology here?")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Type != domain.MessageBot || reply.Content == "" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.ID == "" || reply.Timestamp.IsZero() {
		t.Fatalf("reply not stamped: %+v", reply)
	}

	messages, err := mem.ListChatMessages(reader.ID, "ch-open")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user + bot", len(messages))
	}
	if messages[0].Type != domain.MessageUser || messages[0].Content != "What about technology here?" {
		t.Fatalf("first message = %+v", messages[0])
	}
	if messages[1].Type != domain.MessageBot || messages[1].Content != reply.Content {
		t.Fatalf("second message = %+v", messages[1])
	}
}

func TestConverseRejectsDisabledChapter(t *testing.T) {
	a, mem := newChatApp(t, ai.NewCannedCompleter())

	if _, err := a.Converse(context.Background(), reader, "ch-closed", "hello?"); !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("err = %v, want ErrChatDisabled", err)
	}
	if messages, _ := mem.ListChatMessages(reader.ID, "ch-closed"); len(messages) != 0 {
		t.Fatalf("disabled chapter accumulated messages: %+v", messages)
	}
}

func TestConverseRejectsEmptyMessage(t *testing.T) {
	a, _ := newChatApp(t, ai.NewCannedCompleter())

	if _, err := a.Converse(context.Background(), reader, "ch-open", "   "); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("err = %v, want ErrMessageRequired", err)
	}
}

func TestConverseUnknownChapter(t *testing.T) {
	a, _ := newChatApp(t, ai.NewCannedCompleter())

	if _, err := a.Converse(context.Background(), reader, "missing", "hi"); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}
}

func TestConverseProviderFailureKeepsUserMessage(t *testing.T) {
	a, mem := newChatApp(t, failingCompleter{})

	_, err := a.Converse(context.Background(), reader, "ch-open", "are you there?")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}

	messages, err := mem.ListChatMessages(reader.ID, "ch-open")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Type != domain.MessageUser {
		t.Fatalf("messages = %+v, want the user turn kept alone", messages)
	}
}

func TestSynthesizeEmptyHistory(t *testing.T) {
	a, _ := newChatApp(t, ai.NewCannedCompleter())

	content, err := a.Synthesize(reader, "ch-open")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if content != "No chat content to synthesize." {
		t.Fatalf("content = %q", content)
	}
}

func TestSynthesizeNumbersBotMessagesInOrder(t *testing.T) {
	a, _ := newChatApp(t, ai.NewCannedCompleter())

	for i := 0; i < 3; i++ {
		if _, err := a.Converse(context.Background(), reader, "ch-open", fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("Converse %d: %v", i, err)
		}
	}

	content, err := a.Synthesize(reader, "ch-open")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.HasPrefix(content, "## Insights from Our Conversation\n\nThrough our discussion, several key themes emerged:\n\n1. ") {
		t.Fatalf("unexpected head: %q", content[:80])
	}
	for i := 1; i <= 3; i++ {
		if !strings.Contains(content, fmt.Sprintf("%d. ", i)) {
			t.Fatalf("missing item %d in %q", i, content)
		}
	}
	if strings.Contains(content, "4. ") {
		t.Fatalf("too many items: %q", content)
	}
	if !strings.HasSuffix(content, "interactive dialogue.") {
		t.Fatalf("missing closing line: %q", content)
	}
	// User turns never leak into the synthesis.
	if strings.Contains(content, "question 0") {
		t.Fatalf("user message leaked into synthesis: %q", content)
	}
}

func TestHistoryIsScopedToUser(t *testing.T) {
	a, _ := newChatApp(t, ai.NewCannedCompleter())

	if _, err := a.Converse(context.Background(), reader, "ch-open", "first"); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	other := domain.User{ID: "user-2", Role: domain.RoleReader}

	mine, err := a.History(reader, "ch-open")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("history = %d, want 2", len(mine))
	}
	theirs, err := a.History(other, "ch-open")
	if err != nil {
		t.Fatalf("History other: %v", err)
	}
	if len(theirs) != 0 {
		t.Fatalf("conversation leaked across users: %+v", theirs)
	}
}
