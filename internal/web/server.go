// Package web provides an HTTP status server for the pulse-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sweeney/pulse-sensor/internal/sensor"
	"github.com/sweeney/pulse-sensor/internal/status"
)

// Reader takes an on-demand reading. *sensor.Sensors implements it.
type Reader interface {
	Read() sensor.Reading
}

// ReadingResponse is the body of /read.json.
type ReadingResponse struct {
	Reading *status.ReadingJSON `json:"reading"`
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	reader     Reader
	log        zerolog.Logger
}

// Options are the optional parts of a Server.
type Options struct {
	// Reader serves /read.json when set.
	Reader Reader
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{tracker: tracker, reader: opts.Reader, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if opts.Reader != nil {
		mux.HandleFunc("/read.json", s.handleRead)
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn().Err(err).Msg("web: render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleRead drains the sensor windows, like a remote read request.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reading := s.reader.Read()
	s.tracker.SetReading(reading)

	w.Header().Set("Content-Type", "application/json")
	data, _ := json.MarshalIndent(ReadingResponse{Reading: status.NewReadingJSON(reading)}, "", "  ")
	w.Write(data)
}
