package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"storyweave/internal/servicetoken"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/pkg/domain"
	"storyweave/pkg/tts"
	"storyweave/services/audio/internal/app"
	"storyweave/services/audio/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Auth          *authclient.Client
	TokenVerifier *usertoken.Verifier
}

// Server exposes HTTP endpoints for the audio service.
type Server struct {
	app           *app.App
	auth          *authclient.Client
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		auth:          cfg.Auth,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("audio", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/voices", s.withUser(s.handleVoices))
	s.mux.Handle("/chapters/", s.withUser(s.handleChapterAudio))
	s.mux.Handle("/books/", s.withUser(s.handleBookAudio))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userHandler also receives the raw bearer token: book-level generation
// forwards it so the chapter listing runs with the caller's visibility.
type userHandler func(http.ResponseWriter, *http.Request, domain.User, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth client not configured")
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
		next(w, r, user, token)
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request, _ domain.User, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	voices, err := s.app.ListVoices(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": voices,
		"count": len(voices),
	})
}

// POST /chapters/{id}/audio
func (s *Server) handleChapterAudio(w http.ResponseWriter, r *http.Request, _ domain.User, _ string) {
	path := strings.TrimPrefix(r.URL.Path, "/chapters/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "audio" {
		notFound(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.GenerateChapterAudio(r.Context(), parts[0])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"audioUrl": url})
}

// POST /books/{id}/audio
func (s *Server) handleBookAudio(w http.ResponseWriter, r *http.Request, _ domain.User, token string) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "audio" {
		notFound(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	results, err := s.app.GenerateBookAudio(r.Context(), token, parts[0])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"items": results,
		"count": len(results),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrChapterNotFound):
		writeError(w, http.StatusNotFound, "chapter not found")
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrNoNarratableText):
		writeError(w, http.StatusUnprocessableEntity, "chapter has no narratable text")
	case errors.Is(err, tts.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "narration provider unavailable")
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
		Code:      errorCodeForAudio(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForAudio(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "chapter not found":
		return "CHAPTER_NOT_FOUND"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "chapter has no narratable text":
		return "AUDIO_NO_TEXT"
	case message == "narration provider unavailable":
		return "AUDIO_PROVIDER_UNAVAILABLE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "AUDIO_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
