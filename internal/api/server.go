// Package api exposes assistant sessions to web clients over REST.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/chatlog"
	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/internal/session"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

const defaultMaxUpload = 64 << 20

// Config holds API server configuration.
type Config struct {
	Host        string
	Port        int
	Key         string   // API key for Bearer auth
	CORSOrigins []string // empty allows any origin
	// MaxUpload caps a multipart attachment request body.
	MaxUpload int64
}

// Server is the helpdesk REST API server.
type Server struct {
	sessions *session.Manager
	chatlog  chatlog.Store
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
	srv      *http.Server
}

// NewServer creates a new API server over the session manager. log may be
// nil, in which case the chat log route returns an empty list.
func NewServer(sessions *session.Manager, cfg Config, logger *slog.Logger, log chatlog.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = defaultMaxUpload
	}
	s := &Server{
		sessions: sessions,
		chatlog:  log,
		cfg:      cfg,
		logger:   logger.With("component", "api"),
		mux:      http.NewServeMux(),
	}
	mux := s.mux
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleCloseSession))
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("POST /api/sessions/{id}/actions", s.requireAuth(s.handleAction))
	mux.HandleFunc("POST /api/sessions/{id}/input", s.requireAuth(s.handleInput))
	mux.HandleFunc("POST /api/sessions/{id}/attachments", s.requireAuth(s.handleAttach))
	mux.HandleFunc("DELETE /api/sessions/{id}/attachments/{index}", s.requireAuth(s.handleDetach))
	mux.HandleFunc("POST /api/sessions/{id}/clipboard", s.requireAuth(s.handleClipboard))
	mux.HandleFunc("GET /api/sessions/{id}/log", s.requireAuth(s.handleLog))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Mount registers a handler that does its own authentication, such as the
// webhook connector. Call it before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.cfg.CORSOrigins) == 0 {
		return "*"
	}
	if origin != "" && slices.Contains(s.cfg.CORSOrigins, origin) {
		return origin
	}
	return ""
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Views ---

type sessionView struct {
	ID          string              `json:"id"`
	State       dialogue.StateName  `json:"state"`
	Failed      bool                `json:"failed,omitempty"`
	User        protocol.User       `json:"user"`
	Attachments []protocol.FileInfo `json:"attachments"`
	Messages    []protocol.Message  `json:"messages,omitempty"`
}

type messagesView struct {
	Messages []protocol.Message `json:"messages"`
	// Next is the after value that returns only newer messages.
	Next int `json:"next"`
}

type attachmentsView struct {
	Attachments []protocol.FileInfo `json:"attachments"`
	Added       []protocol.FileInfo `json:"added,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func viewSession(s *dialogue.Session, messages []protocol.Message) sessionView {
	return sessionView{
		ID:          s.ID(),
		State:       s.State().Current,
		Failed:      s.Failed(),
		User:        s.User(),
		Attachments: fileInfos(s.Attachments()),
		Messages:    messages,
	}
}

func fileInfos(files []attachment.File) []protocol.FileInfo {
	out := make([]protocol.FileInfo, len(files))
	for i, f := range files {
		out[i] = protocol.FileInfo{Name: f.Name, Type: f.MimeType, Size: f.Size}
	}
	return out
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

type createSessionRequest struct {
	User protocol.User `json:"user"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.User.Username == "" {
		writeError(w, http.StatusBadRequest, "user.username is required")
		return
	}

	id := uuid.NewString()
	sess, _, err := s.sessions.Open(detach(r), id, session.Identity{ID: id, User: req.User})
	if err != nil {
		// The session still exists and carries the failure notice.
		s.logger.Warn("session started without knowledge base", "session", id, "error", err)
	}
	writeJSON(w, http.StatusCreated, viewSession(sess, sess.Messages(0)))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess, nil))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	after := 0
	if a := r.URL.Query().Get("after"); a != "" {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	msgs := sess.Messages(after)
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	writeJSON(w, http.StatusOK, messagesView{Messages: msgs, Next: after + len(msgs)})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	a, err := dialogue.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, sess, a)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.dispatch(w, r, sess, dialogue.Text{Body: req.Text})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, sess *dialogue.Session, ev dialogue.Event) {
	added, err := sess.Dispatch(detach(r), ev)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess, added))
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files in field \"files\"")
		return
	}
	files := make([]attachment.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, attachment.FromBytes(fh.Filename, fh.Header.Get("Content-Type"), data))
	}

	list, err := sess.Attach(r.Context(), files...)
	if err != nil {
		s.writeAttachError(w, list, err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentsView{Attachments: fileInfos(list), Added: fileInfos(files)})
}

type clipboardRequest struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

func (s *Server) handleClipboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req clipboardRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data is not valid base64")
		return
	}

	f, err := sess.AttachClipboard(r.Context(), attachment.ClipboardItem{MimeType: req.MimeType, Data: data})
	if err != nil {
		s.writeAttachError(w, sess.Attachments(), err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentsView{
		Attachments: fileInfos(sess.Attachments()),
		Added:       fileInfos([]attachment.File{f}),
	})
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if n := len(sess.Attachments()); i < 0 || i >= n {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no attachment at index %d", i))
		return
	}
	list, err := sess.Detach(r.Context(), i)
	if err != nil {
		s.writeAttachError(w, list, err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentsView{Attachments: fileInfos(list)})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.chatlog == nil {
		writeJSON(w, http.StatusOK, []protocol.ChatLogEntry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.chatlog.List(r.Context(), chatlog.Filter{SessionID: id, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []protocol.ChatLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*dialogue.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialogue.ErrClosed):
		writeError(w, http.StatusNotFound, "session closed")
	case errors.Is(err, dialogue.ErrAttachmentsClosed), attachment.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("session call failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeAttachError(w http.ResponseWriter, list []attachment.File, err error) {
	if errors.Is(err, dialogue.ErrClosed) {
		s.writeSessionError(w, err)
		return
	}
	status := http.StatusUnprocessableEntity
	if !errors.Is(err, dialogue.ErrAttachmentsClosed) && !attachment.IsValidationError(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, attachmentsView{Attachments: fileInfos(list), Error: err.Error()})
}

// detach keeps work started by a request, such as a ticket submission,
// running after the client goes away.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
