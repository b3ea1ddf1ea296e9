package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnhub/assistant-gateway/internal/chat"
	"github.com/learnhub/assistant-gateway/internal/config"
	"github.com/learnhub/assistant-gateway/internal/invalidation"
	"github.com/learnhub/assistant-gateway/internal/threads"
)

// Pinger reports whether the shared store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the chat and admin HTTP API.
type Server struct {
	cfg        *config.Config
	chats      *chat.Service
	directory  *threads.Directory
	events     *invalidation.Facade
	store      Pinger
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// ServiceHealth represents a service health status.
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the single error message a failed chat turn returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// New creates a new HTTP server.
func New(cfg *config.Config, chats *chat.Service, directory *threads.Directory, events *invalidation.Facade, store Pinger, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		chats:     chats,
		directory: directory,
		events:    events,
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/chat/coach", s.coachChatHandler)
	mux.HandleFunc("/api/v1/chat/mentor", s.mentorChatHandler)
	mux.HandleFunc("/api/v1/threads", s.threadsHandler)
	mux.HandleFunc("/api/v1/stats", s.statsHandler)
	mux.HandleFunc("/api/v1/events/transcription", s.transcriptionEventHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // chat turns poll a slow external run
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services := map[string]ServiceHealth{
		"http": {Healthy: true, Message: "HTTP server running"},
	}

	if err := s.store.Ping(r.Context()); err != nil {
		services["store"] = ServiceHealth{Healthy: false, Message: err.Error()}
	} else {
		services["store"] = ServiceHealth{Healthy: true}
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   "1.0.0",
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	writeJSON(w, http.StatusOK, response)
}

// coachChatHandler handles one trainer-coach chat turn.
func (s *Server) coachChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chat.CoachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return
	}
	if req.SubjectID == "" || req.CourseID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "subject_id, course_id, message required"})
		return
	}

	result, err := s.chats.CoachTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("coach turn failed", "subject", req.SubjectID, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// mentorChatHandler handles one mentor-assistant chat turn.
func (s *Server) mentorChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chat.MentorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return
	}
	if req.SubjectID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "subject_id, message required"})
		return
	}

	result, err := s.chats.MentorTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("mentor turn failed", "subject", req.SubjectID, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// threadsHandler lists or clears a subject's thread mappings.
func (s *Server) threadsHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "subject_id required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		infos, err := s.directory.ListForSubject(r.Context(), subjectID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"threads": infos})

	case http.MethodDelete:
		courseID := r.URL.Query().Get("course_id")
		mentorID := r.URL.Query().Get("mentor_id")
		var err error
		if courseID != "" {
			err = s.directory.ClearCourse(r.Context(), subjectID, courseID)
		} else {
			err = s.directory.ClearMentor(r.Context(), subjectID, mentorID)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// statsHandler returns advisory key counts by namespace.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.directory.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// transcriptionEventHandler translates a "transcription updated" event
// into cache invalidation.
func (s *Server) transcriptionEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CourseID string `json:"course_id"`
		VideoURL string `json:"video_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return
	}
	if req.CourseID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "course_id required"})
		return
	}

	var err error
	if req.VideoURL != "" {
		err = s.events.TranscriptionUpdated(r.Context(), req.CourseID, req.VideoURL)
	} else {
		err = s.events.CourseUpdated(r.Context(), req.CourseID)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
