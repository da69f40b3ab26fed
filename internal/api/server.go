// Package api exposes the HTTP control surface: live tuning parameter
// reads and updates plus pipeline statistics.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/strasdat/vslam/internal/config"
	"github.com/strasdat/vslam/internal/pipeline"
	"github.com/strasdat/vslam/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const maxParamsBody = 1 << 20

type Server struct {
	store *config.Store
	stats func() pipeline.Stats
	state func() pipeline.State
}

func NewServer(store *config.Store, stats func() pipeline.Stats, state func() pipeline.State) *Server {
	return &Server{
		store: store,
		stats: stats,
		state: state,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/vslam/params", s.handleParams)
	mux.HandleFunc("/api/vslam/stats", s.showStats)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.showParams(w)
	case http.MethodPost:
		s.updateParams(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showParams(w http.ResponseWriter) {
	current := s.store.Current()
	if err := json.NewEncoder(w).Encode(&current); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		return
	}
}

// updateParams applies a partial tuning update. Only the fields present in
// the body change; everything else keeps its current value.
func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBody))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var update config.TuningConfig
	if err := json.Unmarshal(body, &update); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid params JSON: %v", err))
		return
	}
	if err := update.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid params: %v", err))
		return
	}

	s.store.Apply(&update)

	current := s.store.Current()
	if err := json.NewEncoder(w).Encode(&current); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		return
	}
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := struct {
		Version string         `json:"version"`
		State   string         `json:"state"`
		Stats   pipeline.Stats `json:"stats"`
	}{
		Version: version.Version,
		State:   s.state().String(),
		Stats:   s.stats(),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}
