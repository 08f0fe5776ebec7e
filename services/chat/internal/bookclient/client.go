package bookclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storyweave/internal/servicetoken"
)

// ChapterContext is the chapter surroundings served by the book service's
// internal API. It always carries the full chapter text, including
// exclusive-chat chapters.
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
	VoiceID        string             `json:"voiceId"`
	VoiceSettings  map[string]float64 `json:"voiceSettings"`
}

// APIError represents a book service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client calls the book service's internal API, authenticated with
// short-lived service tokens.
type Client struct {
	baseURL    string
	signer     *servicetoken.Signer
	httpClient *http.Client
}

// NewClient constructs a book service client.
func NewClient(baseURL string, signer *servicetoken.Signer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// GetChapterContext fetches full chapter context by chapter id.
func (c *Client) GetChapterContext(chapterID string) (ChapterContext, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/internal/chapters/"+chapterID+"/context", nil)
	if err != nil {
		return ChapterContext{}, err
	}
	token, err := c.signer.Sign("book-service")
	if err != nil {
		return ChapterContext{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChapterContext{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return ChapterContext{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var ctx ChapterContext
	if err := json.NewDecoder(resp.Body).Decode(&ctx); err != nil {
		return ChapterContext{}, err
	}
	return ctx, nil
}
