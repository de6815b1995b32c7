package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ailearn/internal/app"
	"ailearn/internal/util"
)

// SubjectVerifier validates a bearer token and returns the user id.
type SubjectVerifier interface {
	VerifySubject(token string) (string, error)
}

// Limiter throttles per-key request rates.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  SubjectVerifier
	AILimiter      Limiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	tokenVerifier  SubjectVerifier
	aiLimiter      Limiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		aiLimiter:      cfg.AILimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with ambient middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.withUser(s.handleDocumentByID))

	s.mux.Handle("/api/ai/documents/", s.withUser(s.withAILimit(s.handleAIDocument)))

	s.mux.Handle("/api/flashcards", s.withUser(s.handleFlashcards))
	s.mux.Handle("/api/flashcards/", s.withUser(s.handleFlashcardByID))

	s.mux.Handle("/api/quizzes", s.withUser(s.handleQuizzes))
	s.mux.Handle("/api/quizzes/", s.withUser(s.handleQuizByID))

	s.mux.Handle("/api/progress", s.withUser(s.handleProgress))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) withAILimit(next userHandler) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		if s.aiLimiter != nil && !s.aiLimiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadDocument(w, r, userID)
	case http.MethodGet:
		docs, err := s.app.ListDocuments(userID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	default:
		methodNotAllowed(w)
	}
}

// /api/documents/{id} or /api/documents/{id}/download
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "download" && r.Method == http.MethodGet {
			url, err := s.app.DownloadURL(r.Context(), userID, id)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"url": url})
			return
		}
		notFound(w, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), userID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.CreateDocument(r.Context(), userID, r.FormValue("title"), header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /api/ai/documents/{id}/{summary|explain|chat|flashcards|quiz}
func (s *Server) handleAIDocument(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/ai/documents/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		notFound(w, "not found")
		return
	}
	id, action := parts[0], parts[1]

	switch action {
	case "summary":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		summary, err := s.app.Summarize(r.Context(), userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	case "explain":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Concept string `json:"concept"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		explanation, chunks, err := s.app.Explain(r.Context(), userID, id, req.Concept)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"explanation": explanation, "relevantChunks": chunks})
	case "chat":
		s.handleChat(w, r, userID, id)
	case "flashcards":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Count int `json:"count"`
		}
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		set, err := s.app.GenerateFlashcards(r.Context(), userID, id, req.Count)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, set)
	case "quiz":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Count int `json:"count"`
		}
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		quiz, err := s.app.GenerateQuiz(r.Context(), userID, id, req.Count)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, quiz)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID, documentID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		answer, err := s.app.Chat(r.Context(), userID, documentID, req.Message)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	case http.MethodGet:
		turns, err := s.app.History(userID, documentID, 0)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": turns, "count": len(turns)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sets, err := s.app.ListFlashcardSets(userID, r.URL.Query().Get("documentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sets, "count": len(sets)})
}

// /api/flashcards/{setID} (DELETE) or /api/flashcards/{cardID}/{review|star} (POST)
func (s *Server) handleFlashcardByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/flashcards/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var set any
		var err error
		switch parts[1] {
		case "review":
			set, err = s.app.ReviewCard(userID, id)
		case "star":
			set, err = s.app.StarCard(userID, id)
		default:
			notFound(w, "not found")
			return
		}
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, set)
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteFlashcardSet(userID, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleQuizzes(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	quizzes, err := s.app.ListQuizzes(userID, r.URL.Query().Get("documentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": quizzes, "count": len(quizzes)})
}

// /api/quizzes/{id}
func (s *Server) handleQuizByID(w http.ResponseWriter, r *http.Request, userID string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/quizzes/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		quiz, err := s.app.GetQuiz(userID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	case http.MethodDelete:
		if err := s.app.DeleteQuiz(userID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	progress, err := s.app.Progress(userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// writeAppError maps orchestrator errors onto HTTP statuses. Upstream
// failures are logged with detail but reported generically.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound), errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrDocumentForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrDocumentNotReady):
		writeError(w, http.StatusConflict, "document not ready")
	case errors.Is(err, app.ErrNoExtractedText):
		writeError(w, http.StatusUnprocessableEntity, "document has no usable content")
	case errors.Is(err, app.ErrUpstream):
		writeError(w, http.StatusBadGateway, "AI request failed")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
