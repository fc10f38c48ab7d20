// Package server provides the dodochat HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ChamsBouzaiene/dodochat/internal/admission"
	"github.com/ChamsBouzaiene/dodochat/internal/chat"
	"github.com/ChamsBouzaiene/dodochat/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// Server is the dodochat HTTP API server.
type Server struct {
	addr   string
	chat   *chat.Service
	gate   *admission.Gate
	log    logrus.FieldLogger
	router chi.Router
}

// New creates a server for svc. Submissions pass through gate.
func New(addr string, svc *chat.Service, gate *admission.Gate, log logrus.FieldLogger) *Server {
	s := &Server{
		addr: addr,
		chat: svc,
		gate: gate,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.chat.Sessions().Each(func(c *session.Conversation) { c.Cancel() })
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", s.addr).Info("dodochat server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Delete("/transcript", s.handleReset)
			r.Put("/model", s.handleUpdateModel)
			r.Put("/context", s.handleUpdateContext)
			r.Put("/system_prompt", s.handleUpdateSystemPrompt)
			r.Put("/reasoning", s.handleToggleReasoning)
			r.Post("/messages", s.handleSubmit)
			r.Post("/cancel", s.handleCancel)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// requestLogger logs one line per request through logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

// --- Request/Response types ---

type modelRequest struct {
	ModelID string `json:"model_id"`
}

type contextRequest struct {
	ContextSize int `json:"context_size"`
}

type systemPromptRequest struct {
	Prompt string `json:"prompt"`
}

type reasoningRequest struct {
	Enabled bool `json:"enabled"`
}

type submitRequest struct {
	Message string `json:"message"`
	// History, when present, replaces the session transcript as context.
	History *[]transcript.Entry `json:"history,omitempty"`
}

type sessionResponse struct {
	Settings chat.Settings      `json:"settings"`
	Entries  []transcript.Entry `json:"entries"`
}

type statusResponse struct {
	Status   string        `json:"status"`
	Settings chat.Settings `json:"settings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.ModelInfos(s.chat.Models()))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	conv := s.chat.NewSession()
	writeJSON(w, http.StatusCreated, sessionResponse{
		Settings: s.chat.Settings(conv),
		Entries:  []transcript.Entry{},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Sessions().List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Settings: s.chat.Settings(conv),
		Entries:  conv.Entries(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.chat.Sessions().Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.chat.Reset(conv)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req modelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.chat.UpdateModel(conv, req.ModelID))
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req contextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := s.chat.UpdateContextSize(conv, req.ContextSize)
	writeJSON(w, http.StatusOK, statusResponse{Status: status, Settings: s.chat.Settings(conv)})
}

func (s *Server) handleUpdateSystemPrompt(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req systemPromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := s.chat.UpdateSystemPrompt(conv, req.Prompt)
	writeJSON(w, http.StatusOK, statusResponse{Status: status, Settings: s.chat.Settings(conv)})
}

func (s *Server) handleToggleReasoning(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req reasoningRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.chat.ToggleReasoning(conv, req.Enabled)
	writeJSON(w, http.StatusOK, s.chat.Settings(conv))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !conv.Cancel() {
		writeError(w, http.StatusConflict, "no turn is running")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if conv.Busy() {
		writeError(w, http.StatusConflict, chat.ErrBusy.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, admission.ErrBacklogFull) {
			writeError(w, http.StatusServiceUnavailable, "server is busy, please retry")
			return
		}
		s.log.WithError(err).WithField("session", conv.ID()).Debug("admission wait abandoned")
		return
	}
	defer release()

	var updates <-chan chat.Update
	if req.History != nil {
		updates, err = s.chat.SubmitWithHistory(ctx, conv, req.Message, *req.History)
	} else {
		updates, err = s.chat.Submit(ctx, conv, req.Message)
	}
	if err != nil {
		if errors.Is(err, chat.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var id int
	for u := range updates {
		id++
		writeSSE(w, id, "update", u)
		if u.Result != nil {
			id++
			writeSSE(w, id, "done", protocol.NewTurnDoneEvent(conv.ID(), "", *u.Result))
		}
		flusher.Flush()
	}
}

// lookup resolves the {id} URL parameter, writing 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Conversation, bool) {
	conv, err := s.chat.Sessions().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return conv, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w io.Writer, id int, event string, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, string(data))
}
