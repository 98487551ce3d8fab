// Package server exposes the dispatcher over HTTP.
//
// Routes:
//
//	POST   /api/v1/command        {transcript} → dispatch.ExecutionResult
//	POST   /api/v1/parse          {text, systemPrompt?} → {command, raw, source}
//	POST   /api/v1/vision         {imageData} → {analysis} | {error}
//	POST   /api/v1/speech/{op}    pause|resume|stop|fastforward|rewind → speech.Status
//	GET    /api/v1/speech         → speech.Status
//	GET    /api/v1/history        → []dispatch.ExecutionResult
//	DELETE /api/v1/history        → 204
//	GET    /api/v1/events         WebSocket event stream
//
// Health and metrics routes are mounted by the caller through [WithRoute].
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/dispatch"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/speech"
	"github.com/MrWong99/voxnav/internal/vision"
)

// maxBodyBytes bounds request bodies. Screenshots sent to /vision are the
// largest payloads.
const maxBodyBytes = 16 << 20

// SpeechControl is the part of *speech.Controller exposed over HTTP.
type SpeechControl interface {
	Pause() speech.Status
	Resume() (speech.Status, error)
	Stop() speech.Status
	FastForward() (speech.Status, error)
	Rewind() (speech.Status, error)
	Status() speech.Status
}

// Option configures a [Server].
type Option func(*Server)

// WithSpeech enables the speech control routes.
func WithSpeech(c SpeechControl) Option {
	return func(s *Server) { s.speech = c }
}

// WithDescriber enables /api/v1/vision.
func WithDescriber(d dispatch.Describer) Option {
	return func(s *Server) { s.describer = d }
}

// WithHub mounts the event stream.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics sets the metrics used by the request middleware. Default:
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRoute mounts an additional handler, e.g. "GET /metrics".
func WithRoute(pattern string, h http.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, route{pattern, h}) }
}

type route struct {
	pattern string
	handler http.Handler
}

// Server holds the HTTP handlers. Build the mux with [Server.Handler].
type Server struct {
	dispatcher *dispatch.Dispatcher
	speech     SpeechControl
	describer  dispatch.Describer
	hub        *Hub
	metrics    *observe.Metrics
	extra      []route
}

// New returns a Server for d.
func New(d *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: d}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/command", s.handleCommand)
	mux.HandleFunc("POST /api/v1/parse", s.handleParse)
	mux.HandleFunc("POST /api/v1/vision", s.handleVision)
	mux.HandleFunc("POST /api/v1/speech/{op}", s.handleSpeechOp)
	mux.HandleFunc("GET /api/v1/speech", s.handleSpeechStatus)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/v1/history", s.handleClearHistory)
	if s.hub != nil {
		mux.Handle("GET /api/v1/events", s.hub)
	}
	for _, r := range s.extra {
		mux.Handle(r.pattern, r.handler)
	}
	return observe.Middleware(s.metrics)(mux)
}

type commandRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "Missing transcript")
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Execute(r.Context(), req.Transcript))
}

type parseRequest struct {
	Text         string `json:"text"`
	SystemPrompt string `json:"systemPrompt"`
}

type parseResponse struct {
	Command action.Action `json:"command"`
	Raw     string        `json:"raw,omitempty"`
	Source  string        `json:"source"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Missing text")
		return
	}
	res := s.dispatcher.Parse(r.Context(), req.Text, req.SystemPrompt)
	writeJSON(w, http.StatusOK, parseResponse{Command: res.Action, Raw: res.Raw, Source: string(res.Source)})
}

type visionRequest struct {
	ImageData string `json:"imageData"`
}

type visionResponse struct {
	Analysis string `json:"analysis"`
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if !decode(w, r, &req) {
		return
	}
	if s.describer == nil {
		writeError(w, http.StatusServiceUnavailable, "vision is not configured")
		return
	}
	analysis, err := s.describer.Describe(r.Context(), req.ImageData)
	switch {
	case errors.Is(err, vision.ErrMissingImage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, visionResponse{Analysis: analysis})
	}
}

func (s *Server) handleSpeechOp(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech is not configured")
		return
	}

	var (
		st  speech.Status
		err error
	)
	switch op := r.PathValue("op"); op {
	case "pause":
		st = s.speech.Pause()
	case "resume":
		st, err = s.speech.Resume()
	case "stop":
		st = s.speech.Stop()
	case "fastforward":
		st, err = s.speech.FastForward()
	case "rewind":
		st, err = s.speech.Rewind()
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown speech operation %q", op))
		return
	}

	var blocked *speech.BlockedError
	if errors.As(err, &blocked) {
		writeError(w, http.StatusConflict, blocked.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSpeechStatus(w http.ResponseWriter, _ *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.speech.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	list := s.dispatcher.History().List()
	if list == nil {
		list = []dispatch.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.dispatcher.History().Clear()
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

// decode reads a JSON body into v. On failure it writes a 400 and returns
// false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
