package bookclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storyweave/internal/servicetoken"
)

// ChapterContext is the chapter surroundings served by the book service's
// internal API, including the narration voice configured on the book.
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

// ChapterRef identifies one chapter of a book in reading order.
type ChapterRef struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	AudioURL   string `json:"audioUrl"`
	OrderIndex int    `json:"orderIndex"`
}

// APIError represents a book service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client calls the book service. Internal endpoints are authenticated with
// short-lived service tokens; the chapter listing uses the caller's token.
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
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetChapterContext fetches full chapter context by chapter id.
func (c *Client) GetChapterContext(chapterID string) (ChapterContext, error) {
	req, err := c.internalRequest(http.MethodGet, "/internal/chapters/"+chapterID+"/context", nil)
	if err != nil {
		return ChapterContext{}, err
	}
	var ctx ChapterContext
	if err := c.do(req, &ctx); err != nil {
		return ChapterContext{}, err
	}
	return ctx, nil
}

// SetChapterAudio records a generated narration URL on a chapter.
func (c *Client) SetChapterAudio(chapterID, audioURL string) error {
	body, err := json.Marshal(map[string]string{"audioUrl": audioURL})
	if err != nil {
		return err
	}
	req, err := c.internalRequest(http.MethodPatch, "/internal/chapters/"+chapterID+"/audio", body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ListChapters lists a book's chapters using the caller's bearer token.
func (c *Client) ListChapters(token, bookID string) ([]ChapterRef, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/books/"+bookID+"/chapters", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	var payload struct {
		Items []ChapterRef `json:"items"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (c *Client) internalRequest(method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	token, err := c.signer.Sign("book-service")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
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
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
