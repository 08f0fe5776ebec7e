package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"storyweave/internal/ratelimit"
	"storyweave/internal/servicetoken"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/pkg/domain"
	"storyweave/pkg/manuscript"
	"storyweave/pkg/store"
	"storyweave/services/book/internal/app"
	"storyweave/services/book/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Auth                     *authclient.Client
	TokenVerifier            *usertoken.Verifier
	InternalJWTKeyID         string
	InternalJWTPublicKeyPath string
	MaxUploadBytes           int64
	Limiter                  *ratelimit.FixedWindowLimiter
	TrustedProxies           *util.TrustedProxies
}

// Server exposes HTTP endpoints for the book service.
type Server struct {
	app            *app.App
	auth           *authclient.Client
	tokenVerifier  *usertoken.Verifier
	internalVerify *servicetoken.Verifier
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = manuscript.MaxManuscriptBytes
	}
	s := &Server{
		app:            cfg.App,
		auth:           cfg.Auth,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:  strings.TrimSpace(cfg.InternalJWTPublicKeyPath),
		DefaultKeyID:   cfg.InternalJWTKeyID,
		Audience:       "book-service",
		AllowedIssuers: []string{"chat-service", "audio-service"},
		Leeway:         servicetoken.DefaultLeeway,
	})
	if err != nil {
		return nil, err
	}
	s.internalVerify = verifier
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("book", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/internal/chapters/", s.withInternal(s.handleInternalChapter))

	s.mux.Handle("/books", s.withUser(s.handleBooks))
	s.mux.Handle("/books/", s.withUser(s.handleBookByID))
	s.mux.Handle("/chapters/", s.withUser(s.handleChapterByID))
	s.mux.Handle("/bookmarks/", s.withUser(s.handleBookmarkByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth client not configured")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		user, err := s.auth.Me(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalVerify == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalVerify.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadManuscript(w, r, user)
	case http.MethodGet:
		s.handleLibrary(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// multipartSlack leaves room for the multipart envelope and form fields so a
// manuscript right at the size limit is not cut off mid-body. The limit on the
// file itself is enforced against the part size during format detection.
const multipartSlack = 1 << 20

func (s *Server) handleUploadManuscript(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartSlack)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAppError(w, manuscript.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	book, err := s.app.UploadManuscript(user, app.ManuscriptUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Data:        file,
		Overrides: manuscript.Overrides{
			Title:          strings.TrimSpace(r.FormValue("title")),
			Author:         strings.TrimSpace(r.FormValue("author")),
			Description:    strings.TrimSpace(r.FormValue("description")),
			Tags:           splitCSV(r.FormValue("tags")),
			HasAudio:       parseOptionalBool(r.FormValue("hasAudio")),
			HasChatEnabled: parseOptionalBool(r.FormValue("hasChatEnabled")),
		},
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	books, err := s.app.Library(user, app.LibraryQuery{
		Mine:           q.Get("mine") == "true",
		HasAudio:       parseOptionalBool(q.Get("hasAudio")),
		HasChatEnabled: parseOptionalBool(q.Get("hasChatEnabled")),
		Published:      parseOptionalBool(q.Get("published")),
		Tag:            q.Get("tag"),
		Search:         q.Get("search"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

// /books/{id} plus /books/{id}/{publish,cover,chapters,session}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "publish":
			s.handlePublish(w, r, user, id)
		case "cover":
			s.handleUploadCover(w, r, user, id)
		case "chapters":
			s.handleBookChapters(w, r, user, id)
		case "session":
			s.handleReadingSession(w, r, user, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		s.handleUpdateBook(w, r, user, id)
	case http.MethodDelete:
		if err := s.app.DeleteBook(user, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type bookUpdateRequest struct {
	Title          *string            `json:"title"`
	Description    *string            `json:"description"`
	HasAudio       *bool              `json:"hasAudio"`
	HasChatEnabled *bool              `json:"hasChatEnabled"`
	Rating         *float64           `json:"rating"`
	VoiceID        *string            `json:"voiceId"`
	VoiceSettings  map[string]float64 `json:"voiceSettings"`
	Tags           []string           `json:"tags"`
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req bookUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateBook(user, id, app.BookEdit{
		Update: store.BookUpdate{
			Title:          req.Title,
			Description:    req.Description,
			HasAudio:       req.HasAudio,
			HasChatEnabled: req.HasChatEnabled,
			Rating:         req.Rating,
			VoiceID:        req.VoiceID,
			VoiceSettings:  req.VoiceSettings,
		},
		Tags: req.Tags,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.PublishBook(user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	url, err := s.app.UploadCover(user, id, header.Filename, contentType, file, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"coverUrl": url})
}

func (s *Server) handleBookChapters(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	chapters, err := s.app.BookChapters(user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": chapters,
		"count": len(chapters),
	})
}

type sessionRequest struct {
	CurrentChapter int     `json:"currentChapter"`
	Mode           string  `json:"mode"`
	Position       float64 `json:"position"`
}

func (s *Server) handleReadingSession(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		session, ok, err := s.app.GetReadingSession(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodPut:
		var req sessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		session, err := s.app.SaveReadingSession(user, domain.ReadingSession{
			BookID:         id,
			CurrentChapter: req.CurrentChapter,
			Mode:           domain.ReadingMode(req.Mode),
			Position:       req.Position,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	default:
		methodNotAllowed(w)
	}
}

// /chapters/{id} plus /chapters/{id}/bookmarks
func (s *Server) handleChapterByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/chapters/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "bookmarks" {
			s.handleChapterBookmarks(w, r, user, id)
			return
		}
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		chapter, err := s.app.GetChapter(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chapter)
	case http.MethodPatch:
		s.handleUpdateChapter(w, r, user, id)
	default:
		methodNotAllowed(w)
	}
}

type chapterUpdateRequest struct {
	Title         *string `json:"title"`
	Content       *string `json:"content"`
	ChatEnabled   *bool   `json:"chatEnabled"`
	ExclusiveChat *bool   `json:"exclusiveChat"`
}

func (s *Server) handleUpdateChapter(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req chapterUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chapter, err := s.app.UpdateChapter(user, id, store.ChapterUpdate{
		Title:         req.Title,
		Content:       req.Content,
		ChatEnabled:   req.ChatEnabled,
		ExclusiveChat: req.ExclusiveChat,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chapter)
}

type bookmarkRequest struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
	Content  string  `json:"content"`
	Note     string  `json:"note"`
}

func (s *Server) handleChapterBookmarks(w http.ResponseWriter, r *http.Request, user domain.User, chapterID string) {
	switch r.Method {
	case http.MethodGet:
		bookmarks, err := s.app.ListBookmarks(user, chapterID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": bookmarks,
			"count": len(bookmarks),
		})
	case http.MethodPost:
		var req bookmarkRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		kind, ok := parseBookmarkType(req.Type)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid bookmark type")
			return
		}
		bookmark, err := s.app.CreateBookmark(user, domain.Bookmark{
			ChapterID: chapterID,
			Type:      kind,
			Position:  req.Position,
			Content:   req.Content,
			Note:      req.Note,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bookmark)
	default:
		methodNotAllowed(w)
	}
}

// /bookmarks/{id}
func (s *Server) handleBookmarkByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/bookmarks/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteBookmark(user, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// /internal/chapters/{id}/{context,audio}
func (s *Server) handleInternalChapter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/chapters/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "context":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		ctx, err := s.app.GetChapterContext(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
	case "audio":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var req struct {
			AudioURL string `json:"audioUrl"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.AudioURL) == "" {
			writeError(w, http.StatusBadRequest, "audioUrl is required")
			return
		}
		if err := s.app.SetChapterAudio(id, req.AudioURL); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		notFound(w, "not found")
	}
}

func parseBookmarkType(raw string) (domain.BookmarkType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(domain.BookmarkText):
		return domain.BookmarkText, true
	case string(domain.BookmarkAudio):
		return domain.BookmarkAudio, true
	case string(domain.BookmarkChat):
		return domain.BookmarkChat, true
	default:
		return "", false
	}
}

func parseOptionalBool(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manuscript.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, "file too large")
	case errors.Is(err, manuscript.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "unsupported file type")
	case errors.Is(err, manuscript.ErrParseFailure):
		writeError(w, http.StatusBadRequest, "could not parse manuscript")
	case errors.Is(err, store.ErrExclusiveChatRequiresChat):
		writeError(w, http.StatusConflict, "exclusive chat requires chat enabled")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrChapterNotFound):
		writeError(w, http.StatusNotFound, "chapter not found")
	case errors.Is(err, app.ErrBookmarkNotFound):
		writeError(w, http.StatusNotFound, "bookmark not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForBook(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForBook(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "auth client not configured", message == "internal auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "too many requests":
		return "SYSTEM_RATE_LIMITED"
	case message == "forbidden":
		return "BOOK_FORBIDDEN"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "chapter not found":
		return "CHAPTER_NOT_FOUND"
	case message == "bookmark not found":
		return "BOOKMARK_NOT_FOUND"
	case message == "session not found":
		return "SESSION_NOT_FOUND"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case message == "unsupported file type":
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case message == "could not parse manuscript":
		return "BOOK_PARSE_FAILURE"
	case message == "exclusive chat requires chat enabled":
		return "CHAPTER_FLAG_CONFLICT"
	case strings.Contains(message, "file is required"), message == "filename required":
		return "BOOK_FILE_REQUIRED"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body", message == "invalid bookmark type", message == "audiourl is required":
		return "BOOK_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "BOOK_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "BOOK_FORBIDDEN"
	case http.StatusNotFound:
		return "BOOK_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
