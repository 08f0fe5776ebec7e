package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"storyweave/internal/ratelimit"
	"storyweave/internal/servicetoken"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/pkg/domain"
	"storyweave/services/chat/internal/app"
	"storyweave/services/chat/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Auth          *authclient.Client
	TokenVerifier *usertoken.Verifier
	Limiter       *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app           *app.App
	auth          *authclient.Client
	tokenVerifier *usertoken.Verifier
	limiter       *ratelimit.FixedWindowLimiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		auth:          cfg.Auth,
		tokenVerifier: cfg.TokenVerifier,
		limiter:       cfg.Limiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("chat", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/chapters/", s.withUser(s.handleChapterChat))
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

// /chapters/{id}/chat and /chapters/{id}/chat/synthesize
func (s *Server) handleChapterChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/chapters/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "chat" {
		notFound(w)
		return
	}
	chapterID := parts[0]
	if len(parts) == 3 && parts[2] == "synthesize" {
		s.handleSynthesize(w, r, user, chapterID)
		return
	}
	if len(parts) != 2 {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleHistory(w, r, user, chapterID)
	case http.MethodPost:
		s.handleConverse(w, r, user, chapterID)
	default:
		methodNotAllowed(w)
	}
}

type converseRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request, user domain.User, chapterID string) {
	// Chat turns are rate limited per user, not per IP: each turn costs a
	// provider call.
	if s.limiter != nil && !s.limiter.Allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req converseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.app.Converse(r.Context(), user, chapterID, req.Message)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request, user domain.User, chapterID string) {
	messages, err := s.app.History(user, chapterID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": messages,
		"count": len(messages),
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request, user domain.User, chapterID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	content, err := s.app.Synthesize(user, chapterID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMessageRequired):
		writeError(w, http.StatusBadRequest, "message required")
	case errors.Is(err, app.ErrChapterNotFound):
		writeError(w, http.StatusNotFound, "chapter not found")
	case errors.Is(err, app.ErrChatDisabled):
		writeError(w, http.StatusForbidden, "chat is not enabled for this chapter")
	case errors.Is(err, app.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "chat provider unavailable")
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
		Code:      errorCodeForChat(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForChat(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "too many requests":
		return "SYSTEM_RATE_LIMITED"
	case message == "message required":
		return "CHAT_MESSAGE_REQUIRED"
	case message == "chapter not found":
		return "CHAPTER_NOT_FOUND"
	case message == "chat is not enabled for this chapter":
		return "CHAT_DISABLED"
	case message == "chat provider unavailable":
		return "CHAT_PROVIDER_UNAVAILABLE"
	case message == "invalid json body":
		return "CHAT_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CHAT_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "CHAT_DISABLED"
	case http.StatusNotFound:
		return "CHAPTER_NOT_FOUND"
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
