// Package api exposes the trap pattern, calibration and computed holograms
// over HTTP/JSON.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/holofab/internal/cgh"
	"github.com/banshee-data/holofab/internal/httputil"
	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/pattern"
	"github.com/banshee-data/holofab/internal/settings"
	"github.com/banshee-data/holofab/internal/timeutil"
	"github.com/banshee-data/holofab/internal/trap"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server handles the instrument's HTTP API.
type Server struct {
	pattern *pattern.Pattern
	cal     *cgh.Calibration
	engine  *cgh.Engine

	store     *settings.Store
	exportDir string
	clock     timeutil.Clock
}

// NewServer returns a server over the given pattern, calibration and
// engine.
func NewServer(p *pattern.Pattern, c *cgh.Calibration, e *cgh.Engine) *Server {
	return &Server{
		pattern:   p,
		cal:       c,
		engine:    e,
		exportDir: "data",
		clock:     timeutil.RealClock{},
	}
}

// SetSettingsStore makes calibration writes persistent.
func (s *Server) SetSettingsStore(st *settings.Store) { s.store = st }

// SetExportDir sets where POST /api/hologram/export writes files.
func (s *Server) SetExportDir(dir string) { s.exportDir = dir }

// SetClock sets the clock used for export file names.
func (s *Server) SetClock(c timeutil.Clock) { s.clock = c }

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
	case statusCode >= 400:
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/kinds", s.listKinds)

	mux.HandleFunc("GET /api/traps", s.listTraps)
	mux.HandleFunc("POST /api/traps", s.addTrap)
	mux.HandleFunc("DELETE /api/traps", s.clearTraps)
	mux.HandleFunc("GET /api/traps/{id}", s.getTrap)
	mux.HandleFunc("DELETE /api/traps/{id}", s.deleteTrap)
	mux.HandleFunc("PATCH /api/traps/{id}", s.patchTrap)
	mux.HandleFunc("POST /api/traps/{id}/move", s.moveTrap)

	mux.HandleFunc("POST /api/selection", s.selectRect)
	mux.HandleFunc("POST /api/selection/{id}", s.selectTrap)
	mux.HandleFunc("DELETE /api/selection", s.clearSelection)

	mux.HandleFunc("POST /api/groups", s.makeGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", s.breakGroup)
	mux.HandleFunc("POST /api/arrays", s.addArray)

	mux.HandleFunc("GET /api/calibration", s.getCalibration)
	mux.HandleFunc("PUT /api/calibration/{name}", s.putCalibration)

	mux.HandleFunc("GET /api/hologram", s.getHologram)
	mux.HandleFunc("POST /api/hologram/export", s.exportHologram)
	mux.HandleFunc("POST /api/recalculate", s.recalculate)
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pattern.ErrDanglingReference),
		errors.Is(err, cgh.ErrUnknownParameter):
		status = http.StatusNotFound
	case errors.Is(err, trap.ErrInvalidCoordinate),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, trap.ErrUnknownProperty),
		errors.Is(err, trap.ErrUnknownTrapKind),
		errors.Is(err, pattern.ErrEmptySelection),
		errors.Is(err, cgh.ErrInvalidValue):
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSONError(w, status, err.Error())
}

var errBadRequest = errors.New("bad request")

func pathID(r *http.Request) (trap.ID, error) {
	id, err := trap.ParseID(r.PathValue("id"))
	if err != nil {
		return trap.Nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return id, nil
}
