package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"storyweave/pkg/domain"
	"storyweave/pkg/manuscript"
	"storyweave/pkg/store"
	"storyweave/services/book/internal/app"
)

type stubObjectStore struct {
	objects map[string][]byte
}

func (s *stubObjectStore) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[bucket+"/"+key] = data
	return "http://objects.local/" + bucket + "/" + key, nil
}

func (s *stubObjectStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://objects.local/" + bucket + "/" + key, nil
}

func (s *stubObjectStore) Delete(_ context.Context, bucket, key string) error {
	delete(s.objects, bucket+"/"+key)
	return nil
}

func (s *stubObjectStore) DeletePrefix(_ context.Context, bucket, prefix string) error {
	for key := range s.objects {
		if strings.HasPrefix(key, bucket+"/"+prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func newUploadServer(t *testing.T, maxUploadBytes int64) *Server {
	t.Helper()
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Objects: &stubObjectStore{}})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return &Server{app: a, maxUploadBytes: maxUploadBytes}
}

// manuscriptForm builds a multipart body with a single markdown file part of
// the given size. The payload opens with a heading so segmentation succeeds.
func manuscriptForm(t *testing.T, size int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="book.md"`)
	header.Set("Content-Type", "text/markdown")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	head := "# Big Book\n\n"
	if _, err := part.Write([]byte(head)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	chunk := bytes.Repeat([]byte("a"), 1<<20)
	remaining := size - len(head)
	for remaining > 0 {
		n := remaining
		if n > len(chunk) {
			n = len(chunk)
		}
		if _, err := part.Write(chunk[:n]); err != nil {
			t.Fatalf("write part: %v", err)
		}
		remaining -= n
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func postManuscript(s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/books", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.handleUploadManuscript(w, req, domain.User{ID: "user-author", Name: "Ada Wells", Role: domain.RoleAuthor})
	return w
}

func TestUploadManuscriptOversizeBodyReportsFileTooLarge(t *testing.T) {
	s := newUploadServer(t, manuscript.MaxManuscriptBytes)
	body, contentType := manuscriptForm(t, 60<<20)

	w := postManuscript(s, body, contentType)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "BOOK_FILE_TOO_LARGE" {
		t.Fatalf("code = %q, want BOOK_FILE_TOO_LARGE", resp.Code)
	}
}

func TestUploadManuscriptEnvelopeOverheadDoesNotCountAgainstFile(t *testing.T) {
	// A file exactly at the cap must survive form parsing even though the
	// multipart envelope pushes the request body past the cap.
	s := newUploadServer(t, 1<<20)
	body, contentType := manuscriptForm(t, 1<<20)

	w := postManuscript(s, body, contentType)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var book domain.Book
	if err := json.NewDecoder(w.Body).Decode(&book); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if book.Title != "Big Book" {
		t.Fatalf("title = %q", book.Title)
	}
}
